package vision

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// SleepFunc blocks for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Pacer spaces requests by a random delay drawn uniformly from [Min, Max].
// The first call to Wait returns immediately.
type Pacer struct {
	Min   time.Duration
	Max   time.Duration
	sleep SleepFunc

	mu      sync.Mutex
	started bool
}

// NewPacer creates a pacer; a nil sleep uses a context-aware timer
func NewPacer(min, max time.Duration, sleep SleepFunc) *Pacer {
	if sleep == nil {
		sleep = sleepCtx
	}
	if max < min {
		max = min
	}
	return &Pacer{Min: min, Max: max, sleep: sleep}
}

// Wait sleeps the pacing delay before a request
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	first := !p.started
	p.started = true
	p.mu.Unlock()

	if first {
		return ctx.Err()
	}
	return p.sleep(ctx, p.Next())
}

// Next draws one delay from the window
func (p *Pacer) Next() time.Duration {
	span := p.Max - p.Min
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(rand.Int64N(int64(span)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
