// Package detect decides when a new set of enemy entities has appeared in the
// overview and raises the alert.
package detect

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.evewatch.dev/evewatch/internal/types"
	"go.evewatch.dev/evewatch/overview"
	"go.evewatch.dev/evewatch/store"
)

// Alerter fires the alert, applying its own rate limit.
// Trigger reports whether the alert actually fired.
type Alerter interface {
	Trigger(ctx context.Context) bool
}

// Sink receives detections. Record must not block.
type Sink interface {
	Record(d types.Detection)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(d types.Detection)

// Record calls f(d).
func (f SinkFunc) Record(d types.Detection) { f(d) }

// Config configures a Detector. It is fixed for the Detector's lifetime.
type Config struct {
	Whitelist   []string // names never alerted on
	OnlyPlayers bool     // ignore non-player entities
	Alerter     Alerter
	Sink        Sink             // optional
	Logger      *slog.Logger     // Default: slog.Default()
	Now         func() time.Time // Default: time.Now
}

// Detector compares each snapshot's filtered entries against the previous
// filtered entries and alerts when they differ.
type Detector struct {
	whitelist   map[string]struct{}
	onlyPlayers bool
	alerter     Alerter
	sink        Sink
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	baseline []types.OverviewEntry
}

// New creates a Detector with an empty baseline.
func New(cfg Config) *Detector {
	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, name := range cfg.Whitelist {
		wl[overview.NormalizeName(name)] = struct{}{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Detector{
		whitelist:   wl,
		onlyPlayers: cfg.OnlyPlayers,
		alerter:     cfg.Alerter,
		sink:        cfg.Sink,
		logger:      cfg.Logger,
		now:         cfg.Now,
		baseline:    []types.OverviewEntry{},
	}
}

// Run handles snapshots until ctx is done or updates is closed.
func (d *Detector) Run(ctx context.Context, updates <-chan store.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			d.Handle(ctx, snap.Processes)
		}
	}
}

// Handle processes one update of the tracked set. It alerts when the filtered
// entries differ from the previous update's, then makes them the new baseline.
// Calls are serialized. Reports whether a change was detected.
func (d *Detector) Handle(ctx context.Context, processes map[int][]types.OverviewEntry) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.filter(processes)
	changed := !Equal(entries, d.baseline)
	if changed {
		alerted := d.alerter != nil && d.alerter.Trigger(ctx)
		d.report(entries, alerted)
	}
	d.baseline = entries
	return changed
}

// Baseline returns a copy of the entries the next update is compared against.
func (d *Detector) Baseline() []types.OverviewEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.baseline)
}

func (d *Detector) filter(processes map[int][]types.OverviewEntry) []types.OverviewEntry {
	out := make([]types.OverviewEntry, 0)
	for _, entries := range processes {
		out = append(out, Filter(entries, d.whitelist, d.onlyPlayers)...)
	}
	return out
}

func (d *Detector) report(entries []types.OverviewEntry, alerted bool) {
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.ObjectName
	}
	d.logger.Info("new entries", "count", len(entries), "names", names, "alerted", alerted)

	if d.sink == nil {
		return
	}
	det := types.Detection{
		ID:       uuid.New().String(),
		At:       d.now(),
		Entities: make([]types.DetectedEntity, len(entries)),
		Alerted:  alerted,
	}
	for i, e := range entries {
		det.Entities[i] = types.NewDetectedEntity(e)
	}
	d.sink.Record(det)
}

// Filter keeps the entries that are not whitelisted and, when onlyPlayers is
// set, are players. A whitelisted name is dropped regardless of onlyPlayers.
func Filter(entries []types.OverviewEntry, whitelist map[string]struct{}, onlyPlayers bool) []types.OverviewEntry {
	out := make([]types.OverviewEntry, 0, len(entries))
	for _, e := range entries {
		if _, ok := whitelist[e.ObjectName]; ok {
			continue
		}
		if onlyPlayers && !e.IsPlayer {
			continue
		}
		out = append(out, e)
	}
	return out
}

type entryKey struct {
	name string
	typ  string
}

// Equal reports whether a and b have the same length and the same multiset of
// (ObjectName, ObjectType) pairs. Order and other fields are ignored.
func Equal(a, b []types.OverviewEntry) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[entryKey]int, len(a))
	for _, e := range a {
		counts[entryKey{e.ObjectName, e.ObjectType}]++
	}
	for _, e := range b {
		k := entryKey{e.ObjectName, e.ObjectType}
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}
