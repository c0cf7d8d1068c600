package position

import (
	"context"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
)

// Player feeds a recorded track into a Tracker, waiting on its clock for the
// gap between consecutive fixes.
type Player struct {
	track   Track
	tracker *Tracker
	clock   clock.Clock
	speed   float64 // 1.0 = real-time, 2.0 = twice as fast
}

// NewPlayer creates a Player. A non-positive speed means real-time.
func NewPlayer(track Track, tracker *Tracker, clk clock.Clock, speed float64) *Player {
	if speed <= 0 {
		speed = 1
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Player{track: track, tracker: tracker, clock: clk, speed: speed}
}

// Run plays the track once and returns when the last fix has been
// delivered or ctx is cancelled. Each fix is stamped with the clock's time
// at delivery.
func (p *Player) Run(ctx context.Context) error {
	if len(p.track) == 0 {
		return fmt.Errorf("empty track")
	}

	for i, fix := range p.track {
		if i > 0 {
			gap := fix.Timestamp.Sub(p.track[i-1].Timestamp)
			if gap > 0 {
				wait := time.Duration(float64(gap) / p.speed)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-p.clock.After(wait):
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		p.tracker.Update(fix.Position(p.clock.Now()))
	}
	return nil
}
