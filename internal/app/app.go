// Package app provides the core application service for Wails bindings.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/wailsapp/wails/v3/pkg/application"

	"go.evewatch.dev/evewatch/alert"
	"go.evewatch.dev/evewatch/config"
	"go.evewatch.dev/evewatch/detect"
	"go.evewatch.dev/evewatch/history"
	"go.evewatch.dev/evewatch/hotkey"
	"go.evewatch.dev/evewatch/ingest"
	"go.evewatch.dev/evewatch/internal/types"
	"go.evewatch.dev/evewatch/store"
)

// Service provides application functionality bound to Wails.
// This struct focuses on orchestration; detection logic lives in sub-components.
type Service struct {
	mu      sync.Mutex // guards cfg and throttle
	cfg     *config.Config
	history *history.Store
	hotkey  *hotkey.Manager

	// UI references - set via Init
	app    *application.App
	window application.Window

	// Components with proper synchronization
	store    *store.Store
	ingest   *ingest.Server
	player   alert.Mutable
	throttle *alert.Throttle
	monitor  MonitorAdapter

	ctx    context.Context
	cancel context.CancelFunc

	// Version info (set by caller)
	version string
}

// New creates a new Service. Call Init() after Wails app is created.
func New(version string) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		version: version,
		store:   store.New(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// GetVersion returns the application version.
func (s *Service) GetVersion() string {
	return s.version
}

// Init initializes the service with app and window references.
// Must be called after Wails application is created.
func (s *Service) Init(app *application.App, window application.Window) {
	s.app = app
	s.window = window

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		cfg = config.Default()
	}

	if err := s.start(cfg); err != nil {
		slog.Error("start detection", "error", err)
	}
	s.setupHotkey()
}

// start wires storage, detection and ingest for cfg.
func (s *Service) start(cfg *config.Config) error {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if cfg.HistoryEnabled {
		s.setupHistory()
	}

	s.player.Player = &alert.EventPlayer{Sound: cfg.AlertSound, Emit: s.emit}
	s.rebuild()

	s.ingest = ingest.NewServer(ingest.Config{
		Addr:    cfg.ListenAddr,
		Handler: s.onStatus,
	})
	if err := s.ingest.Start(); err != nil {
		return fmt.Errorf("start ingest: %w", err)
	}
	return nil
}

// Shutdown cleans up resources.
func (s *Service) Shutdown() {
	if s.hotkey != nil {
		s.hotkey.Stop()
	}
	if s.ingest != nil {
		if err := s.ingest.Close(); err != nil {
			slog.Error("close ingest", "error", err)
		}
	}
	s.monitor.Stop()
	s.cancel()
	s.store.Close()

	s.mu.Lock()
	th := s.throttle
	s.mu.Unlock()
	if th != nil {
		th.Wait()
	}

	if s.history != nil {
		if err := s.history.Close(); err != nil {
			slog.Error("close history", "error", err)
		}
	}
}

func (s *Service) setupHistory() {
	path := filepath.Join(s.cfg.Dir(), "history")
	h, err := history.Open(path, history.DefaultTTL)
	if err != nil {
		slog.Error("init history", "error", err)
		return
	}
	s.history = h
	slog.Info("history initialized", "path", path)
}

func (s *Service) setupHotkey() {
	s.hotkey = hotkey.NewManager(
		hotkey.Binding{Combo: hotkey.DefaultToggleMute, Action: s.ToggleMute},
		hotkey.Binding{Combo: hotkey.DefaultToggleOverlay, Action: s.ToggleOverlay},
	)
	if err := s.hotkey.Start(); err != nil {
		slog.Error("start hotkey", "error", err)
	}
}

// emit is a safe wrapper around app.Event.Emit
func (s *Service) emit(name string, data any) {
	if s.app != nil {
		s.app.Event.Emit(name, data)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Detection
// ─────────────────────────────────────────────────────────────────────────────

// rebuild replaces the running detector with one built from the current
// config. The new detector starts from an empty baseline.
func (s *Service) rebuild() {
	s.mu.Lock()
	cfg := s.cfg
	if s.throttle == nil || s.throttle.Cooldown() != cfg.AlertCooldown() {
		var last time.Time
		if s.throttle != nil {
			last = s.throttle.LastAlert()
		}
		s.throttle = alert.NewThrottle(alert.Config{
			Player:   &s.player,
			Cooldown: cfg.AlertCooldown(),
			Last:     last,
		})
	}
	det := detect.New(detect.Config{
		Whitelist:   cfg.Whitelist,
		OnlyPlayers: cfg.OnlyPlayers,
		Alerter:     s.throttle,
		Sink:        detect.SinkFunc(s.onDetection),
	})
	s.mu.Unlock()

	s.monitor.Start(s.ctx, det, s.store)
	slog.Info("detector started", "whitelist", len(cfg.Whitelist), "only_players", cfg.OnlyPlayers,
		"cooldown", cfg.AlertCooldown())
}

func (s *Service) onStatus(status types.UiStatus) {
	s.store.Apply(status)
	snap := s.store.Snapshot()
	s.emit(EventUiStatus, UiStatusEvent{
		Processes: s.store.Processes(),
		Tracked:   snap.Entries(),
	})
}

func (s *Service) onDetection(d types.Detection) {
	if s.history != nil {
		s.history.Record(d)
	}
	s.emit(EventEnemyDetected, d)
}

// ─────────────────────────────────────────────────────────────────────────────
// Tracker Control
// ─────────────────────────────────────────────────────────────────────────────

// GetProcesses returns the status of every process reported by the tracker.
func (s *Service) GetProcesses() []types.ProcessStatus {
	return s.store.Processes()
}

// StartTracker asks the tracker host to start reading a game client.
func (s *Service) StartTracker(pid int) error {
	return s.sendTracker(ingest.CommandStartTracker, pid)
}

// StopTracker asks the tracker host to stop reading a game client and
// forgets its entries.
func (s *Service) StopTracker(pid int) error {
	err := s.sendTracker(ingest.CommandStopTracker, pid)
	if err == nil || errors.Is(err, ingest.ErrNoHost) {
		s.store.Remove(pid)
	}
	return err
}

func (s *Service) sendTracker(command string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid: %d", pid)
	}
	if s.ingest == nil {
		return fmt.Errorf("ingest not started")
	}
	if err := s.ingest.Send(ingest.Command{Type: command, PID: pid}); err != nil {
		return fmt.Errorf("%s %d: %w", command, pid, err)
	}
	slog.Info("tracker command sent", "command", command, "pid", pid)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Alerts
// ─────────────────────────────────────────────────────────────────────────────

// GetAlertStatus returns mute state and the last alert time.
func (s *Service) GetAlertStatus() types.AlertStatus {
	st := types.AlertStatus{Muted: s.player.Muted(), LastAlertText: "never"}

	s.mu.Lock()
	th := s.throttle
	s.mu.Unlock()
	if th == nil {
		return st
	}
	if last := th.LastAlert(); !last.IsZero() {
		st.LastAlert = last.UnixMilli()
		st.LastAlertText = humanize.Time(last)
	}
	return st
}

// SetMuted mutes or unmutes the alert sound.
func (s *Service) SetMuted(muted bool) {
	s.player.SetMuted(muted)
	s.emit(EventAlertMuted, muted)
	slog.Info("alert mute changed", "muted", muted)
}

// ToggleMute flips the mute state.
func (s *Service) ToggleMute() {
	muted := s.player.Toggle()
	s.emit(EventAlertMuted, muted)
	slog.Info("alert mute changed", "muted", muted)
}

// GetRecentDetections returns recent detections, newest first.
func (s *Service) GetRecentDetections(limit int) ([]types.Detection, error) {
	if s.history == nil {
		return []types.Detection{}, nil
	}
	return s.history.Recent(limit)
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings
// ─────────────────────────────────────────────────────────────────────────────

// GetSettings returns the current detection settings.
func (s *Service) GetSettings() types.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Settings()
}

// AddWhitelist excludes a name from alerting.
func (s *Service) AddWhitelist(name string) error {
	return s.updateConfig(func(c *config.Config) error { return c.AddWhitelist(name) })
}

// RemoveWhitelist removes a name from the whitelist.
func (s *Service) RemoveWhitelist(name string) error {
	return s.updateConfig(func(c *config.Config) error { return c.RemoveWhitelist(name) })
}

// SetOnlyPlayers sets whether non-player entities are ignored.
func (s *Service) SetOnlyPlayers(only bool) error {
	return s.updateConfig(func(c *config.Config) error { return c.SetOnlyPlayers(only) })
}

// SetAlertCooldown sets the minimum interval between alerts in milliseconds.
func (s *Service) SetAlertCooldown(ms int64) error {
	return s.updateConfig(func(c *config.Config) error {
		return c.SetAlertCooldown(time.Duration(ms) * time.Millisecond)
	})
}

// updateConfig applies fn, persists, and restarts detection with the result.
func (s *Service) updateConfig(fn func(*config.Config) error) error {
	s.mu.Lock()
	err := fn(s.cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.rebuild()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Window
// ─────────────────────────────────────────────────────────────────────────────

// ToggleOverlay shows or hides the overlay window.
func (s *Service) ToggleOverlay() {
	if s.window == nil {
		return
	}
	if s.window.IsVisible() {
		s.window.Hide()
		return
	}
	s.window.Show()
}
