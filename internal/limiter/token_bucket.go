package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

// TokenBucket refills rate tokens per window up to a burst capacity; each
// request takes one.
type TokenBucket struct {
	clock    clock.Clock
	rate     float64 // tokens per second
	capacity int
	mu       sync.Mutex
	buckets  map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewTokenBucket creates a token bucket limiter. A non-positive burst means
// burst = rate.
func NewTokenBucket(rate int, window time.Duration, burst int, c clock.Clock) *TokenBucket {
	if burst <= 0 {
		burst = rate
	}
	return &TokenBucket{
		clock:    c,
		rate:     float64(rate) / window.Seconds(),
		capacity: burst,
		buckets:  make(map[string]*bucket),
	}
}

func (tb *TokenBucket) Allow(_ context.Context, key string) Decision {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.clock.Now()
	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(tb.capacity), lastFill: now}
		tb.buckets[key] = b
	}

	b.tokens = min(b.tokens+now.Sub(b.lastFill).Seconds()*tb.rate, float64(tb.capacity))
	b.lastFill = now

	resetAt := now
	if deficit := float64(tb.capacity) - b.tokens; deficit > 0 {
		resetAt = now.Add(tb.duration(deficit))
	}

	if b.tokens >= 1 {
		b.tokens--
		return Decision{
			Allowed:   true,
			Remaining: int(b.tokens),
			Limit:     tb.capacity,
			ResetAt:   resetAt,
		}
	}

	return Decision{
		Limit:   tb.capacity,
		ResetAt: resetAt,
		RetryAt: now.Add(tb.duration(1 - b.tokens)),
	}
}

// duration returns how long refilling n tokens takes.
func (tb *TokenBucket) duration(n float64) time.Duration {
	return time.Duration(n / tb.rate * float64(time.Second))
}
