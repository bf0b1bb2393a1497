package app

import (
	"context"
	"sync"

	"go.evewatch.dev/evewatch/detect"
	"go.evewatch.dev/evewatch/store"
)

// MonitorAdapter runs one detector against a store subscription at a time.
type MonitorAdapter struct {
	mu       sync.Mutex
	detector *detect.Detector
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start runs det until Stop or the next Start. Stops any running detector first.
func (ma *MonitorAdapter) Start(ctx context.Context, det *detect.Detector, st *store.Store) {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	ma.stopLocked()

	ctx, cancel := context.WithCancel(ctx)
	current, updates, unsubscribe := st.Subscribe()
	done := make(chan struct{})

	// Seed with the current tracked set so a rebuilt detector does not wait
	// for the next frame. Later frames queue on updates.
	det.Handle(ctx, current.Processes)

	go func() {
		defer close(done)
		defer unsubscribe()
		det.Run(ctx, updates)
	}()

	ma.detector = det
	ma.cancel = cancel
	ma.done = done
}

// Stop stops the running detector and waits for it to exit.
func (ma *MonitorAdapter) Stop() {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.stopLocked()
}

// Detector returns the running detector, nil if stopped.
func (ma *MonitorAdapter) Detector() *detect.Detector {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	return ma.detector
}

func (ma *MonitorAdapter) stopLocked() {
	if ma.cancel != nil {
		ma.cancel()
		ma.cancel = nil
	}
	if ma.done != nil {
		<-ma.done
		ma.done = nil
	}
	ma.detector = nil
}
