// Package limiter models the claim backend's limits on log creation so
// simulations see the same 429 responses a real session would.
package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

// Limiter decides whether a log keyed by key is accepted now.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// Decision captures the result of a limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	RetryAt   time.Time `json:"retry_at"` // set when denied
}

// RetryAfter returns how long after now the request may be retried.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.RetryAt.After(now) {
		return 0
	}
	return d.RetryAt.Sub(now)
}

// Limits describe the backend's rules. The claim backend allows one log per
// spot and player every five minutes.
type Limits struct {
	SpotCooldown time.Duration // 0 disables the per-spot rule
	Rate         int           // logs per Window across all spots; 0 disables
	Window       time.Duration
	Burst        int // 0 means Rate
}

// DefaultSpotCooldown is the backend's per-spot cooldown.
const DefaultSpotCooldown = 5 * time.Minute

// Enabled reports whether any rule is active.
func (l Limits) Enabled() bool {
	return l.SpotCooldown > 0 || l.Rate > 0
}

// Validate checks the rules are consistent.
func (l Limits) Validate() error {
	if l.SpotCooldown < 0 {
		return fmt.Errorf("spot cooldown must not be negative, got %s", l.SpotCooldown)
	}
	if l.Rate < 0 || l.Burst < 0 {
		return fmt.Errorf("rate and burst must not be negative, got %d and %d", l.Rate, l.Burst)
	}
	if l.Rate > 0 && l.Window <= 0 {
		return fmt.Errorf("window must be positive when rate is set, got %s", l.Window)
	}
	return nil
}

// playerKey is the single token bucket key; a simulation has one player.
const playerKey = "player"

// Backend applies Limits. Keys are spot ids.
type Backend struct {
	spots  *SlidingWindow
	player *TokenBucket
}

// NewBackend creates a Backend for l. Rules that are zero are not applied.
func NewBackend(l Limits, c clock.Clock) *Backend {
	b := &Backend{}
	if l.SpotCooldown > 0 {
		b.spots = NewSlidingWindow(1, l.SpotCooldown, c)
	}
	if l.Rate > 0 {
		b.player = NewTokenBucket(l.Rate, l.Window, l.Burst, c)
	}
	return b
}

// Allow checks the spot rule first, then the player rule. A log denied by
// the player rule does not count against the spot.
func (b *Backend) Allow(ctx context.Context, spotID string) Decision {
	d := Decision{Allowed: true}
	if b.spots != nil {
		d = b.spots.Allow(ctx, spotID)
		if !d.Allowed {
			return d
		}
	}
	if b.player != nil {
		pd := b.player.Allow(ctx, playerKey)
		if !pd.Allowed {
			if b.spots != nil {
				b.spots.forgetLast(spotID)
			}
			return pd
		}
		d = pd
	}
	return d
}
