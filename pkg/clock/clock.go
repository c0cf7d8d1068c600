package clock

import (
	"time"

	internalclock "github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

// Clock abstracts time so the auto-log controller works with both real and virtual time.
type Clock = internalclock.Clock

// Ticker is the recurring counterpart of Clock.After.
type Ticker = internalclock.Ticker

// RealClock delegates to the standard time package.
type RealClock = internalclock.RealClock

// VirtualClock is a manually advanced clock for simulations and tests.
type VirtualClock = internalclock.VirtualClock

// NewRealClock creates a real wall-clock implementation.
func NewRealClock() *RealClock {
	return internalclock.NewRealClock()
}

// NewVirtualClock creates a virtual clock starting at the given time.
func NewVirtualClock(start time.Time) *VirtualClock {
	return internalclock.NewVirtualClock(start)
}
