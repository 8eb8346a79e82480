package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Resumer periodically scans for sleeping runs whose deadline has passed
// and re-enters them. Because runs live in the store, suspension survives
// process restarts: the first poll after startup picks up whatever was due.
type Resumer struct {
	engine   *Engine
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResumer creates a Resumer polling at the given interval.
func NewResumer(e *Engine, interval time.Duration) *Resumer {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Resumer{engine: e, interval: interval}
}

// Start launches the poll loop. One scan runs immediately so runs that came
// due while the process was down resume without waiting a full interval.
func (r *Resumer) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.engine.ResumeDue(ctx); err != nil {
			slog.Error("resume scan failed", "error", err)
		}
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.engine.ResumeDue(ctx); err != nil {
					slog.Error("resume scan failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to exit.
func (r *Resumer) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
