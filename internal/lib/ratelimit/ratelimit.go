// Package ratelimit provides per-key token bucket limiting.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Keyed hands out one token bucket per key. Buckets idle for longer than
// idleTTL are dropped on the next Allow call that sweeps.
type Keyed struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewKeyed returns a limiter allowing rps events per second per key with the
// given burst. A non-positive rps disables limiting.
func NewKeyed(rps float64, burst int, idleTTL time.Duration) *Keyed {
	if burst < 1 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Keyed{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether an event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	if k == nil || k.limit <= 0 {
		return true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastSweep) > k.idleTTL {
		k.sweep(now)
	}

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.seen = now

	return b.lim.AllowN(now, 1)
}

func (k *Keyed) sweep(now time.Time) {
	for key, b := range k.buckets {
		if now.Sub(b.seen) > k.idleTTL {
			delete(k.buckets, key)
		}
	}
	k.lastSweep = now
}
