// Package simulate replays a recorded walk through the auto-log controller
// on virtual time, against a scripted log service.
package simulate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/api"
	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/position"
	"github.com/SmitUplenchwar2687/spotwalk/internal/registry"
)

// Simulator drives a controller along a track, one tick at a time.
type Simulator struct {
	cfg     autolog.Config
	track   position.Track
	spots   []registry.Entry
	script  Script
	filter  Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
	lootTTL time.Duration
	logger  *slog.Logger
}

// Summary aggregates simulation statistics.
type Summary struct {
	Fixes        int                    `json:"fixes"`
	Spots        int                    `json:"spots"`
	Ticks        uint64                 `json:"ticks"`
	SkippedTicks uint64                 `json:"skipped_ticks"`
	Attempts     uint64                 `json:"attempts"`
	Succeeded    uint64                 `json:"succeeded"`
	RateLimited  uint64                 `json:"rate_limited"`
	Failed       uint64                 `json:"failed"`
	XPGained     int                    `json:"xp_gained"`
	ClaimPoints  int                    `json:"claim_points"`
	Duration     time.Duration          `json:"duration"`      // virtual time span
	WallDuration time.Duration          `json:"wall_duration"` // actual wall clock time
	PerSpot      map[string]SpotSummary `json:"per_spot"`
}

// SpotSummary has per-spot stats.
type SpotSummary struct {
	Attempts    int       `json:"attempts"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	FirstLogged time.Time `json:"first_logged,omitzero"`
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithScript sets the outcome script. The default logs every attempt.
func WithScript(s Script) Option {
	return func(sim *Simulator) { sim.script = s }
}

// WithFilter restricts the spots and the track window.
func WithFilter(f Filter) Option {
	return func(sim *Simulator) { sim.filter = f }
}

// WithSpeed paces the run against wall time. Zero runs instantly.
func WithSpeed(speed float64) Option {
	return func(sim *Simulator) {
		if speed < 0 {
			speed = 0
		}
		sim.speed = speed
	}
}

// WithLootTTL sets the expiry for loot spots that carry none.
func WithLootTTL(d time.Duration) Option {
	return func(sim *Simulator) { sim.lootTTL = d }
}

// WithLogger sets the logger handed to the controller.
func WithLogger(l *slog.Logger) Option {
	return func(sim *Simulator) { sim.logger = l }
}

// New creates a simulator for a track and a spot list.
func New(cfg autolog.Config, track position.Track, spots []registry.Entry, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg:   cfg,
		track: track,
		spots: spots,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.script.Validate(); err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s, nil
}

// Run walks the track and calls cb for every controller event. Ticks start
// at the first fix and stop once virtual time passes the last one; each tick
// sees the latest fix not after it and waits for its attempts to resolve.
func (s *Simulator) Run(ctx context.Context, cb func(autolog.Event)) (*Summary, error) {
	if len(s.track) == 0 {
		return nil, errors.New("no fixes loaded")
	}

	var fixes position.Track
	for _, f := range s.track {
		if s.filter.MatchFix(f) {
			fixes = append(fixes, f)
		}
	}
	var spots []registry.Entry
	for _, e := range s.spots {
		if s.filter.MatchSpot(e) {
			spots = append(spots, e)
		}
	}

	summary := &Summary{
		Fixes:   len(fixes),
		Spots:   len(spots),
		PerSpot: make(map[string]SpotSummary),
	}
	if len(fixes) == 0 {
		return summary, nil
	}

	start, end := fixes[0].Timestamp, fixes[len(fixes)-1].Timestamp
	vc := clock.NewVirtualClock(start)
	tracker := position.NewTracker(vc)
	reg := registry.New(vc, s.lootTTL)
	reg.Replace(spots)
	logs := NewScriptedLogs(s.script, reg, vc)

	var mu sync.Mutex
	sink := autolog.SinkFunc(func(ev autolog.Event) {
		mu.Lock()
		ss := summary.PerSpot[ev.TargetID]
		if ev.Type == autolog.EventLogSucceeded {
			ss.Succeeded++
			if ss.FirstLogged.IsZero() {
				ss.FirstLogged = ev.Time
			}
			if ev.Reward != nil {
				summary.XPGained += ev.Reward.XPGained
				summary.ClaimPoints += ev.Reward.ClaimPoints
			}
		} else {
			ss.Failed++
		}
		summary.PerSpot[ev.TargetID] = ss
		mu.Unlock()
		if cb != nil {
			cb(ev)
		}
	})

	ctrl, err := autolog.New(s.cfg, tracker, reg, logs, vc,
		autolog.WithSink(sink),
		autolog.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}

	wallStart := time.Now()
	next := 0
	for now := start; !now.After(end); now = vc.Now() {
		select {
		case <-ctx.Done():
			s.finish(summary, ctrl, logs, spots, start, vc.Now(), wallStart)
			return summary, ctx.Err()
		default:
		}

		for next < len(fixes) && !fixes[next].Timestamp.After(now) {
			tracker.Update(fixes[next].Position(fixes[next].Timestamp))
			next++
		}
		ctrl.Tick(ctx)
		ctrl.Wait()

		if s.speed > 0 {
			// Sleep for scaled wall-clock time for visual effect.
			scaled := time.Duration(float64(s.cfg.TickInterval) / s.speed)
			if scaled > time.Millisecond {
				select {
				case <-ctx.Done():
					s.finish(summary, ctrl, logs, spots, start, vc.Now(), wallStart)
					return summary, ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		vc.Advance(s.cfg.TickInterval)
	}

	s.finish(summary, ctrl, logs, spots, start, end, wallStart)
	return summary, nil
}

func (s *Simulator) finish(summary *Summary, ctrl *autolog.Controller, logs *ScriptedLogs, spots []registry.Entry, start, end time.Time, wallStart time.Time) {
	st := ctrl.Stats()
	summary.Ticks = st.Ticks
	summary.SkippedTicks = st.SkippedTicks
	summary.Attempts = st.Attempts
	summary.Succeeded = st.Successes
	summary.RateLimited = st.RateLimited
	summary.Failed = st.Failures
	summary.Duration = end.Sub(start)
	summary.WallDuration = time.Since(wallStart)

	for _, e := range spots {
		n := logs.Calls(e.Target.ID)
		if n == 0 {
			continue
		}
		ss := summary.PerSpot[e.Target.ID]
		ss.Attempts = n
		summary.PerSpot[e.Target.ID] = ss
	}
}

// LoadSpots reads spots in the backend's JSON shape and converts them to
// registry entries. Loot without an expiry expires lootTTL after now.
func LoadSpots(r io.Reader, lootTTL time.Duration, now time.Time) ([]registry.Entry, error) {
	var spots []api.Spot
	if err := json.NewDecoder(r).Decode(&spots); err != nil {
		return nil, fmt.Errorf("decoding spots: %w", err)
	}
	if lootTTL <= 0 {
		lootTTL = registry.DefaultLootTTL
	}
	entries := make([]registry.Entry, 0, len(spots))
	for _, sp := range spots {
		entries = append(entries, registry.FromSpot(sp, lootTTL, now))
	}
	return entries, nil
}

// LoadSpotsFile reads spots from a JSON file.
func LoadSpotsFile(path string, lootTTL time.Duration, now time.Time) ([]registry.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening spots file: %w", err)
	}
	defer f.Close()
	return LoadSpots(f, lootTTL, now)
}
