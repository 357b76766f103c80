package transport

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// hostPacer applies a token-bucket rate per destination host, on top of the
// per-host concurrency semaphore. A zero RPS disables pacing.
type hostPacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newHostPacer(rps float64, burst int) *hostPacer {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostPacer{
		limiters: make(map[string]*rate.Limiter),
		rps:      limit,
		burst:    burst,
	}
}

// wait blocks until a token is available for the host or the context ends.
func (p *hostPacer) wait(ctx context.Context, host string) error {
	p.mu.Lock()
	limiter, ok := p.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(p.rps, p.burst)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host pacing wait: %w", err)
	}
	return nil
}
