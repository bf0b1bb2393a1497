// Package store keeps the tracked set of overview entries per game process
// and publishes immutable snapshots of it.
package store

import (
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.evewatch.dev/evewatch/internal/types"
	"go.evewatch.dev/evewatch/overview"
)

// Snapshot is an immutable copy of the tracked set.
type Snapshot struct {
	Seq       uint64
	At        time.Time
	Processes map[int][]types.OverviewEntry
}

// Entries returns the number of entries across all processes.
func (s Snapshot) Entries() int {
	n := 0
	for _, e := range s.Processes {
		n += len(e)
	}
	return n
}

// Store holds the latest overview entries and tracker status for each process.
// It is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	seq       uint64
	entries   map[int][]types.OverviewEntry
	processes map[int]types.ProcessStatus
	queues    map[int]*queue
	nextSub   int
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:   make(map[int][]types.OverviewEntry),
		processes: make(map[int]types.ProcessStatus),
		queues:    make(map[int]*queue),
		now:       time.Now,
	}
}

// Apply folds a tracker frame into the store.
//   - a frame with a general window replaces that process's entries wholesale
//   - a Stopped frame removes the process from the tracked set
//   - any other frame (e.g. an error report) only updates the process status
//
// Reports whether the tracked set changed and a snapshot was published.
func (s *Store) Apply(status types.UiStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ps := types.ProcessStatus{
		PID:          status.ProcessID,
		Status:       status.Status,
		Error:        status.Error,
		MsProcessing: status.MsProcessing,
		UpdatedAt:    now,
	}

	changed := false
	switch {
	case status.Status == types.StatusStopped:
		if _, ok := s.entries[status.ProcessID]; ok {
			delete(s.entries, status.ProcessID)
			changed = true
		}
	case status.GeneralWindow != nil:
		s.entries[status.ProcessID] = overview.Entries(status)
		changed = true
	}
	ps.Entries = len(s.entries[status.ProcessID])
	s.processes[status.ProcessID] = ps

	if status.Error != "" {
		slog.Warn("tracker error", "pid", status.ProcessID, "error", status.Error)
	}
	if changed {
		s.publishLocked(now)
	}
	return changed
}

// Remove forgets a process entirely.
func (s *Store) Remove(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, tracked := s.entries[pid]
	delete(s.entries, pid)
	delete(s.processes, pid)
	if tracked {
		s.publishLocked(s.now())
	}
}

// Snapshot returns a copy of the current tracked set.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(s.now())
}

// Processes returns the status of every known process, ordered by pid.
func (s *Store) Processes() []types.ProcessStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	pids := slices.Sorted(maps.Keys(s.processes))
	out := make([]types.ProcessStatus, 0, len(pids))
	for _, pid := range pids {
		out = append(out, s.processes[pid])
	}
	return out
}

// Subscribe registers a subscriber that receives every snapshot published
// after the returned current one, in publish order. Snapshots queue without
// bound until the subscriber reads them, so publishing never blocks and
// nothing is dropped.
func (s *Store) Subscribe() (Snapshot, <-chan Snapshot, func()) {
	q := newQueue()

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.queues[id] = q
	current := s.snapshotLocked(s.now())
	s.mu.Unlock()

	go q.pump()

	cancel := func() {
		s.mu.Lock()
		delete(s.queues, id)
		s.mu.Unlock()
		q.stop()
	}
	return current, q.out, cancel
}

// Close stops all subscriptions and closes their channels.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, q := range s.queues {
		q.stop()
		delete(s.queues, id)
	}
}

func (s *Store) publishLocked(now time.Time) {
	s.seq++
	snap := s.snapshotLocked(now)
	for _, q := range s.queues {
		q.push(snap)
	}
}

func (s *Store) snapshotLocked(now time.Time) Snapshot {
	procs := make(map[int][]types.OverviewEntry, len(s.entries))
	for pid, e := range s.entries {
		procs[pid] = slices.Clone(e)
	}
	return Snapshot{Seq: s.seq, At: now, Processes: procs}
}

// queue is an unbounded FIFO of snapshots drained into out by pump.
type queue struct {
	mu      sync.Mutex
	pending []Snapshot
	notify  chan struct{}
	done    chan struct{}
	once    sync.Once
	out     chan Snapshot
}

func newQueue() *queue {
	return &queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan Snapshot),
	}
}

func (q *queue) push(snap Snapshot) {
	q.mu.Lock()
	q.pending = append(q.pending, snap)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) stop() {
	q.once.Do(func() { close(q.done) })
}

// pump delivers pending snapshots in order and closes out once stopped.
func (q *queue) pump() {
	defer close(q.out)
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			snap := q.pending[0]
			q.pending[0] = Snapshot{}
			q.pending = q.pending[1:]
			q.mu.Unlock()

			select {
			case q.out <- snap:
			case <-q.done:
				return
			}
		}
	}
}
