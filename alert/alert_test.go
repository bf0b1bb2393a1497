package alert

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingPlayer counts Play calls and optionally fails or blocks.
type countingPlayer struct {
	calls atomic.Int32
	err   error
	block chan struct{}
}

func (p *countingPlayer) Play(ctx context.Context) error {
	p.calls.Add(1)
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func TestThrottle_Cooldown(t *testing.T) {
	tests := []struct {
		name      string
		gap       time.Duration
		wantCalls int32
		wantFired bool
	}{
		{name: "second trigger within cooldown", gap: 5 * time.Second, wantCalls: 1, wantFired: false},
		{name: "second trigger at exactly cooldown", gap: 10 * time.Second, wantCalls: 1, wantFired: false},
		{name: "second trigger after cooldown", gap: 10*time.Second + time.Millisecond, wantCalls: 2, wantFired: true},
		{name: "second trigger long after", gap: time.Minute, wantCalls: 2, wantFired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			player := &countingPlayer{}
			th := NewThrottle(Config{Player: player, Now: clock.Now})

			if !th.Trigger(context.Background()) {
				t.Fatal("first trigger should fire")
			}
			clock.Advance(tt.gap)
			if got := th.Trigger(context.Background()); got != tt.wantFired {
				t.Errorf("second Trigger() = %v, want %v", got, tt.wantFired)
			}
			th.Wait()

			if got := player.calls.Load(); got != tt.wantCalls {
				t.Errorf("Play calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestThrottle_CooldownMeasuredFromLastFiring(t *testing.T) {
	clock := newFakeClock()
	player := &countingPlayer{}
	th := NewThrottle(Config{Player: player, Now: clock.Now})

	start := clock.Now()
	th.Trigger(context.Background())
	clock.Advance(6 * time.Second)
	th.Trigger(context.Background()) // suppressed, must not move the window
	clock.Advance(6 * time.Second)
	if !th.Trigger(context.Background()) {
		t.Fatal("trigger 12s after the first firing should fire")
	}
	th.Wait()

	if got := player.calls.Load(); got != 2 {
		t.Errorf("Play calls = %d, want 2", got)
	}
	if got := th.LastAlert(); !got.Equal(start.Add(12 * time.Second)) {
		t.Errorf("LastAlert() = %v, want %v", got, start.Add(12*time.Second))
	}
}

func TestThrottle_PlaybackFailureIsContained(t *testing.T) {
	clock := newFakeClock()
	player := &countingPlayer{err: errors.New("audio device unavailable")}
	th := NewThrottle(Config{Player: player, Now: clock.Now})

	if !th.Trigger(context.Background()) {
		t.Fatal("trigger should fire even if playback will fail")
	}
	th.Wait()

	if th.LastAlert().IsZero() {
		t.Error("LastAlert should be set despite playback failure")
	}
	clock.Advance(time.Second)
	if th.Trigger(context.Background()) {
		t.Error("failed playback must still start the cooldown")
	}
}

func TestThrottle_TimestampSetBeforePlaybackCompletes(t *testing.T) {
	clock := newFakeClock()
	player := &countingPlayer{block: make(chan struct{})}
	th := NewThrottle(Config{Player: player, Now: clock.Now})

	start := clock.Now()
	done := make(chan bool)
	go func() { done <- th.Trigger(context.Background()) }()

	select {
	case fired := <-done:
		if !fired {
			t.Fatal("trigger should fire")
		}
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on playback")
	}
	if got := th.LastAlert(); !got.Equal(start) {
		t.Errorf("LastAlert() = %v, want %v while playback in flight", got, start)
	}

	close(player.block)
	th.Wait()
}

func TestThrottle_PanickingPlayer(t *testing.T) {
	th := NewThrottle(Config{Player: PlayerFunc(func(context.Context) error {
		panic("boom")
	})})
	th.Trigger(context.Background())
	th.Wait()
}

func TestEventPlayer(t *testing.T) {
	var gotName string
	var gotData any
	p := &EventPlayer{
		Sound: "/sounds/reaper.mp3",
		Emit: func(name string, data any) {
			gotName, gotData = name, data
		},
	}
	if err := p.Play(context.Background()); err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if gotName != EventAlert {
		t.Errorf("event = %q, want %q", gotName, EventAlert)
	}
	ev, ok := gotData.(AlertEvent)
	if !ok || ev.Sound != "/sounds/reaper.mp3" {
		t.Errorf("payload = %#v", gotData)
	}

	if err := (&EventPlayer{}).Play(context.Background()); !errors.Is(err, ErrNoEmitter) {
		t.Errorf("Play() without emitter error = %v, want ErrNoEmitter", err)
	}
}

func TestMutable(t *testing.T) {
	inner := &countingPlayer{}
	m := &Mutable{Player: inner}

	_ = m.Play(context.Background())
	if !m.Toggle() {
		t.Fatal("Toggle() should report muted")
	}
	_ = m.Play(context.Background())
	m.SetMuted(false)
	_ = m.Play(context.Background())

	if got := inner.calls.Load(); got != 2 {
		t.Errorf("inner Play calls = %d, want 2", got)
	}
	if m.Muted() {
		t.Error("Muted() = true after SetMuted(false)")
	}
}

func TestThrottle_PlaybackSurvivesCancel(t *testing.T) {
	played := make(chan error, 1)
	th := NewThrottle(Config{Player: PlayerFunc(func(ctx context.Context) error {
		<-time.After(20 * time.Millisecond)
		played <- ctx.Err()
		return ctx.Err()
	})})

	ctx, cancel := context.WithCancel(context.Background())
	if !th.Trigger(ctx) {
		t.Fatal("Trigger() should fire")
	}
	cancel()
	th.Wait()

	if err := <-played; err != nil {
		t.Errorf("playback context error = %v, want nil after caller cancel", err)
	}
}

func TestThrottle_LastCarriedOver(t *testing.T) {
	clock := newFakeClock()
	player := &countingPlayer{}
	old := NewThrottle(Config{Player: player, Now: clock.Now})
	old.Trigger(context.Background())
	old.Wait()

	clock.Advance(3 * time.Second)
	th := NewThrottle(Config{
		Player:   player,
		Cooldown: 5 * time.Second,
		Now:      clock.Now,
		Last:     old.LastAlert(),
	})
	if th.Trigger(context.Background()) {
		t.Error("Trigger() fired within the carried-over cooldown")
	}
	clock.Advance(3 * time.Second)
	if !th.Trigger(context.Background()) {
		t.Error("Trigger() should fire once the new cooldown has passed")
	}
	th.Wait()
	if got := player.calls.Load(); got != 2 {
		t.Errorf("Play calls = %d, want 2", got)
	}
}
