// Package position provides position sources for the auto-log controller.
package position

import (
	"sync"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

// Tracker holds the most recent position fix.
// Thread-safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	latest  *autolog.Position
	clock   clock.Clock
	updates uint64
}

// NewTracker creates an empty Tracker. Fixes without a timestamp are stamped
// with clk's current time; a nil clk means real time.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Tracker{clock: clk}
}

// Latest returns a copy of the last fix, or nil if none was recorded.
func (t *Tracker) Latest() *autolog.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.latest == nil {
		return nil
	}
	p := *t.latest
	if p.Heading != nil {
		h := *p.Heading
		p.Heading = &h
	}
	return &p
}

// Update replaces the current fix.
func (t *Tracker) Update(p autolog.Position) {
	if p.ObservedAt.IsZero() {
		p.ObservedAt = t.clock.Now()
	}
	if p.Heading != nil {
		h := *p.Heading
		p.Heading = &h
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = &p
	t.updates++
}

// Clear forgets the current fix, as when the location feed is lost.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = nil
}

// Updates returns how many fixes have been recorded.
func (t *Tracker) Updates() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updates
}
