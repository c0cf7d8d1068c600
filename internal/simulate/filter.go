package simulate

import (
	"slices"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/position"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
)

// Filter narrows a simulation to some spots and a slice of the track.
type Filter struct {
	Spots  []string  // Only include these spot ids (empty = all)
	After  time.Time // Only include fixes after this time (zero = no limit)
	Before time.Time // Only include fixes before this time (zero = no limit)
}

// MatchFix returns true if the fix lies inside the time window.
func (f *Filter) MatchFix(fix position.Fix) bool {
	if !f.After.IsZero() && !fix.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !fix.Timestamp.Before(f.Before) {
		return false
	}
	return true
}

// MatchSpot returns true if the spot passes the id filter.
func (f *Filter) MatchSpot(e registry.Entry) bool {
	return len(f.Spots) == 0 || slices.Contains(f.Spots, e.Target.ID)
}
