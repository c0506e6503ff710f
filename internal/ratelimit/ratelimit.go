// Package ratelimit provides request rate limiting per tenant plus the
// global in-flight concurrency cap. The in-memory limiter is a token
// bucket: capacity equals the tenant's requests-per-minute and tokens
// refill at capacity/60 per second. A Redis-backed sliding-window variant
// exists for multi-instance deployments.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter defines the interface for rate limiting backends.
// Returns whether the request is allowed, remaining quota, and reset time.
type RateLimiter interface {
	Allow(ctx context.Context, tenantID string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// TokenBucketLimiter keeps one bucket per tenant. Buckets are created on
// first use and resized when a tenant's limit changes.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter *rate.Limiter
	rpm     int
}

func NewTokenBucketLimiter() *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
	}
}

func (r *TokenBucketLimiter) Allow(_ context.Context, tenantID string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, 0, time.Time{}, nil
	}

	r.mu.Lock()
	b, ok := r.buckets[tenantID]
	if !ok || b.rpm != limit {
		b = &bucket{
			limiter: rate.NewLimiter(rate.Limit(limit)/60, limit),
			rpm:     limit,
		}
		r.buckets[tenantID] = b
	}
	r.mu.Unlock()

	allowed := b.limiter.Allow()

	remaining := int(b.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}

	// Time until one token refills, the soonest a rejected caller can retry.
	resetAt := time.Now().Add(time.Duration(float64(time.Minute) / float64(limit)))

	return allowed, remaining, resetAt, nil
}

// ConcurrencyLimiter caps the number of requests in flight across all
// tenants. Release is idempotent: each acquired slot is given back exactly
// once no matter how many completion paths fire.
type ConcurrencyLimiter struct {
	mu     sync.Mutex
	active int
	max    int
}

func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{max: max}
}

// Acquire reserves one slot. The returned release function is safe to call
// multiple times; only the first call decrements.
func (c *ConcurrencyLimiter) Acquire() (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active >= c.max {
		return nil, false
	}
	c.active++

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.active--
			c.mu.Unlock()
		})
	}, true
}

// Active returns the current in-flight count.
func (c *ConcurrencyLimiter) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
