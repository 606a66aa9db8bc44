package provider

import (
	"context"
	"sync"
	"time"
)

// Limiter gates outbound provider calls. Acquire blocks until a
// request slot is available or ctx is done. The implementation is
// in-process; a multi-instance deployment would need an externally
// coordinated implementation behind this same interface.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// SlidingWindow enforces a rolling per-window request budget: when the
// budget is spent, Acquire sleeps until the oldest counted request
// ages out of the window. Callers are delayed, never rejected.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewSlidingWindow creates a limiter allowing limit requests per
// window. A limit <= 0 disables limiting.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (w *SlidingWindow) Acquire(ctx context.Context) error {
	if w.limit <= 0 {
		return ctx.Err()
	}

	for {
		w.mu.Lock()
		now := w.now()
		cutoff := now.Add(-w.window)
		kept := w.stamps[:0]
		for _, s := range w.stamps {
			if s.After(cutoff) {
				kept = append(kept, s)
			}
		}
		w.stamps = kept

		if len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}

		wait := w.stamps[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
