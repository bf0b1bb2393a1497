package app

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"go.evewatch.dev/evewatch/config"
	"go.evewatch.dev/evewatch/ingest"
	"go.evewatch.dev/evewatch/internal/types"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Whitelist = []string{"Alice"}

	s := New("test")
	if err := s.start(cfg); err != nil {
		t.Fatalf("start() error: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func status(pid int, entries ...types.OverviewEntry) types.UiStatus {
	return types.UiStatus{
		ProcessID: pid,
		Status:    types.StatusRunning,
		GeneralWindow: &types.GeneralWindow{
			OverviewWindows: []types.OverviewWindow{{Entries: entries}},
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestService_DetectsEnemy(t *testing.T) {
	s := newTestService(t)

	if got := s.GetAlertStatus(); got.LastAlert != 0 || got.LastAlertText != "never" {
		t.Fatalf("initial alert status = %+v", got)
	}

	s.onStatus(status(10,
		types.OverviewEntry{ObjectName: "Alice", IsPlayer: true},
		types.OverviewEntry{ObjectName: "Bob", ObjectType: "Rifter", IsPlayer: true},
	))

	waitFor(t, "alert", func() bool { return s.GetAlertStatus().LastAlert != 0 })
	waitFor(t, "history", func() bool {
		dets, err := s.GetRecentDetections(10)
		return err == nil && len(dets) == 1
	})

	dets, _ := s.GetRecentDetections(10)
	if got := dets[0].Entities; len(got) != 1 || got[0].Name != "Bob" {
		t.Errorf("detected entities = %+v, want only Bob", got)
	}

	procs := s.GetProcesses()
	if len(procs) != 1 || procs[0].PID != 10 || procs[0].Entries != 2 {
		t.Errorf("GetProcesses() = %+v", procs)
	}
}

func TestService_SettingsRebuildDetector(t *testing.T) {
	s := newTestService(t)

	if err := s.AddWhitelist("Bob"); err != nil {
		t.Fatalf("AddWhitelist() error: %v", err)
	}
	if err := s.SetOnlyPlayers(false); err != nil {
		t.Fatalf("SetOnlyPlayers() error: %v", err)
	}
	got := s.GetSettings()
	if !slices.Equal(got.Whitelist, []string{"Alice", "Bob"}) {
		t.Errorf("Whitelist = %v", got.Whitelist)
	}
	if got.OnlyPlayers {
		t.Error("OnlyPlayers should be false")
	}

	s.onStatus(status(10, types.OverviewEntry{ObjectName: "Bob", IsPlayer: true}))
	waitFor(t, "snapshot", func() bool { return len(s.GetProcesses()) == 1 })
	time.Sleep(50 * time.Millisecond)
	if s.GetAlertStatus().LastAlert != 0 {
		t.Error("whitelisted entity raised an alert")
	}

	s.onStatus(status(10, types.OverviewEntry{ObjectName: "Guristas Pirate"}))
	waitFor(t, "alert for npc", func() bool { return s.GetAlertStatus().LastAlert != 0 })

	if err := s.SetAlertCooldown(500); err == nil {
		t.Error("SetAlertCooldown(500) should be rejected")
	}
}

func TestService_Mute(t *testing.T) {
	s := newTestService(t)

	s.ToggleMute()
	if !s.GetAlertStatus().Muted {
		t.Fatal("ToggleMute() should mute")
	}
	s.SetMuted(false)
	if s.GetAlertStatus().Muted {
		t.Fatal("SetMuted(false) should unmute")
	}
}

func TestService_TrackerCommands(t *testing.T) {
	s := newTestService(t)

	if err := s.StartTracker(0); err == nil {
		t.Error("StartTracker(0) should fail")
	}
	if err := s.StartTracker(42); !errors.Is(err, ingest.ErrNoHost) {
		t.Errorf("StartTracker() error = %v, want ErrNoHost", err)
	}

	s.onStatus(status(42, types.OverviewEntry{ObjectName: "Bob", IsPlayer: true}))
	_ = s.StopTracker(42)
	if procs := s.GetProcesses(); len(procs) != 0 {
		t.Errorf("GetProcesses() after StopTracker = %+v, want none", procs)
	}
}

func TestService_CooldownChangeKeepsLastAlert(t *testing.T) {
	s := newTestService(t)

	s.onStatus(status(10, types.OverviewEntry{ObjectName: "Bob", IsPlayer: true}))
	waitFor(t, "alert", func() bool { return s.GetAlertStatus().LastAlert != 0 })
	before := s.GetAlertStatus().LastAlert

	if err := s.SetAlertCooldown(20000); err != nil {
		t.Fatalf("SetAlertCooldown() error: %v", err)
	}
	if got := s.GetAlertStatus().LastAlert; got != before {
		t.Errorf("LastAlert after cooldown change = %d, want %d", got, before)
	}

	s.onStatus(status(10, types.OverviewEntry{ObjectName: "Eve", IsPlayer: true}))
	time.Sleep(50 * time.Millisecond)
	if got := s.GetAlertStatus().LastAlert; got != before {
		t.Errorf("alert fired within the cooldown after it was changed")
	}
}
