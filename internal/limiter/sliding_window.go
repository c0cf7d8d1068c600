package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

// SlidingWindow allows at most limit requests per key within any window.
// With a limit of 1 it is the backend's per-spot cooldown: a spot can be
// logged again once window has passed since its last accepted log.
type SlidingWindow struct {
	clock  clock.Clock
	limit  int
	window time.Duration
	mu     sync.Mutex
	logs   map[string][]time.Time
}

// NewSlidingWindow creates a sliding window limiter.
func NewSlidingWindow(limit int, window time.Duration, c clock.Clock) *SlidingWindow {
	return &SlidingWindow{
		clock:  c,
		limit:  limit,
		window: window,
		logs:   make(map[string][]time.Time),
	}
}

func (sw *SlidingWindow) Allow(_ context.Context, key string) Decision {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.clock.Now()
	pruned := sw.pruneLocked(key, now)

	count := len(pruned)
	resetAt := now.Add(sw.window)
	if count > 0 {
		resetAt = pruned[0].Add(sw.window)
	}

	if count < sw.limit {
		sw.logs[key] = append(pruned, now)
		return Decision{
			Allowed:   true,
			Remaining: sw.limit - count - 1,
			Limit:     sw.limit,
			ResetAt:   resetAt,
		}
	}

	sw.logs[key] = pruned
	return Decision{
		Limit:   sw.limit,
		ResetAt: resetAt,
		RetryAt: pruned[0].Add(sw.window),
	}
}

// pruneLocked drops entries that have left the window.
func (sw *SlidingWindow) pruneLocked(key string, now time.Time) []time.Time {
	start := now.Add(-sw.window)
	entries := sw.logs[key]
	pruned := entries[:0]
	for _, ts := range entries {
		if ts.After(start) {
			pruned = append(pruned, ts)
		}
	}
	return pruned
}

// forgetLast removes the most recent entry for key.
func (sw *SlidingWindow) forgetLast(key string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if entries := sw.logs[key]; len(entries) > 0 {
		sw.logs[key] = entries[:len(entries)-1]
	}
}
