// Package alert raises the enemy-presence alert with a minimum re-alert interval.
package alert

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCooldown is the minimum time between two alert firings.
const DefaultCooldown = 10 * time.Second

// DefaultPlayTimeout bounds a single playback so a hung player does not leak.
const DefaultPlayTimeout = 30 * time.Second

// ErrNoEmitter is returned when an EventPlayer has nowhere to send the alert.
var ErrNoEmitter = errors.New("alert: no event emitter attached")

// Player produces the audible notification.
// Implementations may block until playback completes and may fail.
type Player interface {
	Play(ctx context.Context) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context) error

// Play calls f(ctx).
func (f PlayerFunc) Play(ctx context.Context) error { return f(ctx) }

// Config configures a Throttle. Zero values are replaced with defaults.
type Config struct {
	Player      Player
	Cooldown    time.Duration    // Default: DefaultCooldown
	PlayTimeout time.Duration    // Default: DefaultPlayTimeout
	Now         func() time.Time // Default: time.Now
	Logger      *slog.Logger     // Default: slog.Default()
	Last        time.Time        // previous firing carried over from another Throttle
}

// Throttle fires the Player at most once per cooldown, measured from the
// start of the previous firing. It is safe for concurrent use.
type Throttle struct {
	player      Player
	cooldown    time.Duration
	playTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu   sync.Mutex
	last time.Time // zero: never fired

	wg sync.WaitGroup
}

// NewThrottle creates a Throttle.
func NewThrottle(cfg Config) *Throttle {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.PlayTimeout <= 0 {
		cfg.PlayTimeout = DefaultPlayTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Throttle{
		player:      cfg.Player,
		cooldown:    cfg.Cooldown,
		playTimeout: cfg.PlayTimeout,
		now:         cfg.Now,
		logger:      cfg.Logger,
		last:        cfg.Last,
	}
}

// Trigger fires the alert unless the previous firing is within the cooldown.
// The firing time is recorded before playback starts; playback runs in its
// own goroutine, outlives cancellation of ctx, and its failure is only logged.
// Reports whether playback was started.
func (t *Throttle) Trigger(ctx context.Context) bool {
	t.mu.Lock()
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) <= t.cooldown {
		t.mu.Unlock()
		t.logger.Debug("alert suppressed by cooldown", "since_last", now.Sub(t.last))
		return false
	}
	t.last = now
	t.mu.Unlock()

	if t.player == nil {
		return true
	}

	playCtx := context.WithoutCancel(ctx)
	t.wg.Go(func() {
		t.play(playCtx)
	})
	return true
}

func (t *Throttle) play(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("alert playback panic", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, t.playTimeout)
	defer cancel()

	if err := t.player.Play(ctx); err != nil {
		t.logger.Error("play alert", "error", err)
		return
	}
	t.logger.Info("enemy player alerted")
}

// LastAlert returns the time of the last firing, zero if never.
func (t *Throttle) LastAlert() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

// Cooldown returns the configured minimum interval.
func (t *Throttle) Cooldown() time.Duration {
	return t.cooldown
}

// Wait blocks until in-flight playbacks have returned.
func (t *Throttle) Wait() {
	t.wg.Wait()
}

// ─────────────────────────────────────────────────────────────────────────────
// Players
// ─────────────────────────────────────────────────────────────────────────────

// EventAlert is the frontend event that plays the alert sound.
const EventAlert = "enemy-alert"

// AlertEvent is the payload of EventAlert.
type AlertEvent struct {
	Sound     string `json:"sound"`
	Timestamp int64  `json:"timestamp"`
}

// EventPlayer asks the frontend to play the alert sound.
type EventPlayer struct {
	Sound string
	Emit  func(name string, data any)
}

// Play emits EventAlert.
func (p *EventPlayer) Play(ctx context.Context) error {
	if p.Emit == nil {
		return ErrNoEmitter
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Emit(EventAlert, AlertEvent{
		Sound:     p.Sound,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

// Mutable wraps a Player with a mute switch.
// A muted firing still counts for the cooldown.
type Mutable struct {
	Player Player
	muted  atomic.Bool
}

// SetMuted mutes or unmutes the player.
func (m *Mutable) SetMuted(muted bool) {
	m.muted.Store(muted)
}

// Toggle flips the mute state and returns the new value.
func (m *Mutable) Toggle() bool {
	for {
		old := m.muted.Load()
		if m.muted.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// Muted reports whether the player is muted.
func (m *Mutable) Muted() bool {
	return m.muted.Load()
}

// Play plays through the wrapped player unless muted.
func (m *Mutable) Play(ctx context.Context) error {
	if m.muted.Load() || m.Player == nil {
		return nil
	}
	return m.Player.Play(ctx)
}
