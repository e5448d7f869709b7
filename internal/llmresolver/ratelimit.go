package llmresolver

import (
	"context"
	"sync"
	"time"
)

// pacer enforces a minimum interval between calls. It is deliberately
// simpler than a general concurrent token-bucket limiter: the only
// caller is LLMResolverLoader, which is only ever invoked from inside
// the single worker goroutine of internal/executor (C4's invariant I1
// guarantees at most one background task runs at a time), so there is
// never more than one goroutine contending for a slot. A ticking
// refill goroutine and a buffered token channel would be solving a
// concurrency problem this loader doesn't have; tracking the
// timestamp of the last call and sleeping out the remainder of the
// interval before the next one does the same job with no background
// goroutine to leak or Stop.
type pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	last        time.Time
}

// newPacer builds a pacer that enforces at most rps calls per second.
// If rps <= 0, pacing is disabled (wait becomes a no-op).
func newPacer(rps float64) *pacer {
	if rps <= 0 {
		return nil
	}
	interval := time.Duration(float64(time.Second) / rps)
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &pacer{minInterval: interval}
}

// wait blocks until enough time has passed since the previous call to
// respect the configured rate, or ctx is canceled first.
func (p *pacer) wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.last.IsZero() {
		if remaining := p.minInterval - time.Since(p.last); remaining > 0 {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	p.last = time.Now()
	return nil
}
