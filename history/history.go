// Package history persists detections for the overlay's history panel.
package history

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	jsoniter "github.com/json-iterator/go"

	"go.evewatch.dev/evewatch/internal/types"
)

const (
	// DefaultTTL is how long a detection is kept.
	DefaultTTL = 7 * 24 * time.Hour

	keyPrefix   = "det/"
	queueSize   = 64
	gcInterval  = 10 * time.Minute
	gcThreshold = 0.5
)

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("history: store closed")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store records detections in Badger. Record never blocks: detections are
// written by a background goroutine and dropped when the queue is full.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan types.Detection
	done   chan struct{}
	stopGC chan struct{}
}

// Open opens or creates the history database at path.
// An empty path opens an in-memory database.
func Open(path string, ttl time.Duration) (*Store, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	logger := slog.Default().With("component", "history")

	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{logger})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	s := &Store{
		db:     db,
		ttl:    ttl,
		logger: logger,
		queue:  make(chan types.Detection, queueSize),
		done:   make(chan struct{}),
		stopGC: make(chan struct{}),
	}
	go s.writeLoop()
	if path != "" {
		go s.gcLoop()
	}
	return s, nil
}

// Record enqueues a detection for writing.
func (s *Store) Record(d types.Detection) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- d:
	default:
		s.logger.Warn("history queue full, dropping detection", "id", d.ID)
	}
}

// Recent returns up to limit detections, newest first.
func (s *Store) Recent(limit int) ([]types.Detection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	out := make([]types.Detection, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// '~' sorts after every digit, so this seeks to the newest key.
		for it.Seek([]byte(keyPrefix + "~")); it.Valid() && len(out) < limit; it.Next() {
			var d types.Detection
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &d)
			}); err != nil {
				return fmt.Errorf("decode detection %s: %w", it.Item().Key(), err)
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return out, nil
}

// Close flushes queued detections and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	close(s.stopGC)
	s.mu.Unlock()

	<-s.done
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for d := range s.queue {
		if err := s.put(d); err != nil {
			s.logger.Error("write detection", "id", d.ID, "error", err)
			continue
		}
		s.logger.Debug("detection recorded", "id", d.ID, "entities", len(d.Entities),
			"at", humanize.Time(d.At))
	}
}

func (s *Store) put(d types.Detection) error {
	val, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal detection: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(detectionKey(d), val).WithTTL(s.ttl))
	})
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(gcThreshold) == nil {
			}
		}
	}
}

// detectionKey orders detections by time; the ID breaks ties.
func detectionKey(d types.Detection) []byte {
	return fmt.Appendf(nil, "%s%020d/%s", keyPrefix, d.At.UnixNano(), d.ID)
}

// badgerLogger routes Badger's logs to slog.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.l.Error(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.l.Warn(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Infof(f string, v ...any)    { b.l.Debug(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Debugf(f string, v ...any)   { b.l.Debug(fmt.Sprintf(f, v...)) }
