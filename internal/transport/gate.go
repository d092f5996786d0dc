package transport

import (
	"context"
	"sync"
	"time"
)

// Gate is the shared rate-limit gate. When any request observes a 429, the
// gate closes process-wide until the limit's deadline; every caller checks
// the gate before issuing a request, so concurrent tasks do not retry
// independently into the same limit.
type Gate struct {
	mu    sync.Mutex
	until time.Time
}

// NewGate creates an open gate
func NewGate() *Gate {
	return &Gate{}
}

// Pause closes the gate until the given deadline. Concurrent discoveries
// extend the closure to the latest deadline, never shorten it.
func (g *Gate) Pause(until time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if until.After(g.until) {
		g.until = until
	}
}

// Blocked reports whether the gate is currently closed
func (g *Gate) Blocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.until)
}

// Wait blocks until the gate opens or the context is done. The deadline is
// re-read after each sleep because another caller may have extended it.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		remaining := time.Until(g.until)
		g.mu.Unlock()

		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
