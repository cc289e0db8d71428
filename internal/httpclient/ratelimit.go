package httpclient

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket rate limiter. It is safe for concurrent use
// because the underlying rate.Limiter is goroutine-safe.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing ratePerSecond sustained requests
// with bursts of up to burst.
func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// Wait blocks until a request is allowed or the context is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may happen now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// HostLimiter keeps one RateLimiter per host, so that many feeds served from
// the same publisher share a budget.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*RateLimiter
	rps      float64
	burst    int
}

// NewHostLimiter creates a HostLimiter. A non-positive rps disables limiting.
func NewHostLimiter(rps float64, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*RateLimiter),
		rps:      rps,
		burst:    burst,
	}
}

// Wait blocks until a request to host is allowed.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	if h == nil || h.rps <= 0 {
		return ctx.Err()
	}
	return h.limiterFor(host).Wait(ctx)
}

func (h *HostLimiter) limiterFor(host string) *RateLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()

	rl, ok := h.limiters[host]
	if !ok {
		rl = NewRateLimiter(h.rps, h.burst)
		h.limiters[host] = rl
	}
	return rl
}
