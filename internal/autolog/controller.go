// Package autolog implements proximity-triggered automatic logging of spots.
//
// A Controller periodically compares the latest position against the current
// target set and issues at most one in-flight log attempt per target within
// the trigger radius. Successful targets are suppressed for a window, and a
// rate-limit answer from the backend pauses every target for a global cooldown.
package autolog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/clock"
	"github.com/SmitUplenchwar2687/spotwalk/internal/spatial"
)

const persistTimeout = 5 * time.Second

// DistanceFunc returns the distance in meters between two coordinates.
type DistanceFunc func(lat1, lng1, lat2, lng2 float64) float64

// Option customizes a Controller.
type Option func(*Controller)

// WithSink sets where LogSucceeded and LogFailed events go.
func WithSink(s Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithStateStore persists suppression and cooldown state across restarts.
func WithStateStore(s StateStore) Option {
	return func(c *Controller) { c.store = s }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithDistanceFunc replaces the great-circle distance used for the radius check.
func WithDistanceFunc(f DistanceFunc) Option {
	return func(c *Controller) { c.distance = f }
}

// Controller is the proximity-triggered auto-log controller.
// All state is guarded by one mutex; attempts run in their own goroutines
// and apply their results under the same mutex.
type Controller struct {
	cfg       Config
	positions PositionSource
	targets   TargetRegistry
	logs      LogService
	clock     clock.Clock
	sink      Sink
	store     StateStore
	distance  DistanceFunc
	logger    *slog.Logger

	mu            sync.Mutex
	states        map[string]*targetState
	cooldownUntil time.Time
	counters      counters
	running       bool
	stopCh        chan struct{}
	loopDone      chan struct{}

	persistMu sync.Mutex
	inflight  sync.WaitGroup
}

type targetState struct {
	inFlight    bool
	lastSuccess time.Time // zero until the first success
}

type counters struct {
	ticks        uint64
	skippedTicks uint64
	attempts     uint64
	successes    uint64
	rateLimited  uint64
	failures     uint64
}

// Stats is a point-in-time view of the controller.
type Stats struct {
	Running        bool      `json:"running"`
	Ticks          uint64    `json:"ticks"`
	SkippedTicks   uint64    `json:"skipped_ticks"`
	Attempts       uint64    `json:"attempts"`
	Successes      uint64    `json:"successes"`
	RateLimited    uint64    `json:"rate_limited"`
	Failures       uint64    `json:"failures"`
	InFlight       int       `json:"in_flight"`
	TrackedTargets int       `json:"tracked_targets"`
	CooldownUntil  time.Time `json:"cooldown_until"`
}

// New validates cfg and builds a stopped controller. A nil clock means real time.
func New(cfg Config, positions PositionSource, targets TargetRegistry, logs LogService, clk clock.Clock, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if positions == nil || targets == nil || logs == nil {
		return nil, fmt.Errorf("%w: position source, target registry and log service are required", ErrInvalidConfiguration)
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}

	c := &Controller{
		cfg:       cfg,
		positions: positions,
		targets:   targets,
		logs:      logs,
		clock:     clk,
		distance:  spatial.HaversineDistance,
		states:    make(map[string]*targetState),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() Config {
	return c.cfg
}

// Start begins periodic evaluation. Calling Start on a running controller is
// a no-op. Cancelling ctx stops ticking the same way Stop does; attempts
// already dispatched keep running either way.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	stop, done := make(chan struct{}), make(chan struct{})
	c.stopCh, c.loopDone = stop, done
	c.mu.Unlock()

	c.restore(ctx)

	ticker := c.clock.NewTicker(c.cfg.TickInterval)
	go c.loop(ctx, ticker, stop, done)

	c.logger.Info("auto-log started",
		"radius_m", c.cfg.TriggerRadius,
		"tick", c.cfg.TickInterval,
		"suppression", c.cfg.SuppressionWindow,
		"cooldown", c.cfg.GlobalCooldown,
	)
}

// Stop halts periodic evaluation and waits for the tick loop to exit.
// Outstanding attempts are not cancelled; their results are still applied.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	stop, done := c.stopCh, c.loopDone
	c.stopCh, c.loopDone = nil, nil
	c.mu.Unlock()

	close(stop)
	<-done
	c.logger.Info("auto-log stopped")
}

// Running reports whether the tick loop is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Wait blocks until every dispatched attempt has resolved and its result
// has been applied and emitted.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) loop(ctx context.Context, ticker clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			c.mu.Lock()
			if c.stopCh == stop {
				c.running = false
				c.stopCh, c.loopDone = nil, nil
			}
			c.mu.Unlock()
			return
		case <-ticker.C():
			c.Tick(ctx)
		}
	}
}

// Tick runs one evaluation: every eligible target within the trigger radius
// gets exactly one attempt. Decisions for the whole tick are taken under the
// lock before any attempt is dispatched, so a rate limit reported during this
// tick only affects later ticks. Tick never blocks on the log service.
func (c *Controller) Tick(ctx context.Context) {
	now := c.clock.Now()

	latest := c.positions.Latest()
	if latest == nil {
		c.skip()
		return
	}
	pos := *latest
	if c.cfg.MaxPositionAge > 0 && now.Sub(pos.ObservedAt) > c.cfg.MaxPositionAge {
		c.skip()
		return
	}

	targets := c.targets.Snapshot()

	c.mu.Lock()
	c.counters.ticks++
	if now.Before(c.cooldownUntil) {
		c.counters.skippedTicks++
		c.mu.Unlock()
		return
	}

	var dispatch []string
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		seen[t.ID] = struct{}{}
		if c.distance(pos.Latitude, pos.Longitude, t.Latitude, t.Longitude) > c.cfg.TriggerRadius {
			continue
		}

		st, ok := c.states[t.ID]
		if !ok {
			st = &targetState{}
			c.states[t.ID] = st
		}
		if st.inFlight || c.suppressed(st, now) {
			continue
		}
		st.inFlight = true
		dispatch = append(dispatch, t.ID)
	}
	c.pruneLocked(now, seen)
	c.counters.attempts += uint64(len(dispatch))
	c.inflight.Add(len(dispatch))
	c.mu.Unlock()

	if len(dispatch) == 0 {
		return
	}

	attemptCtx := context.WithoutCancel(ctx)
	for _, id := range dispatch {
		c.logger.Debug("auto-log attempt", "target", id, "lat", pos.Latitude, "lng", pos.Longitude)
		go c.attempt(attemptCtx, id, pos.Latitude, pos.Longitude)
	}
}

func (c *Controller) skip() {
	c.mu.Lock()
	c.counters.ticks++
	c.counters.skippedTicks++
	c.mu.Unlock()
}

func (c *Controller) suppressed(st *targetState, now time.Time) bool {
	return !st.lastSuccess.IsZero() && now.Sub(st.lastSuccess) < c.cfg.SuppressionWindow
}

// pruneLocked drops state for targets that left the registry once nothing
// depends on it any more. Must be called with c.mu held.
func (c *Controller) pruneLocked(now time.Time, seen map[string]struct{}) {
	for id, st := range c.states {
		if _, ok := seen[id]; ok {
			continue
		}
		if st.inFlight || c.suppressed(st, now) {
			continue
		}
		delete(c.states, id)
	}
}

func (c *Controller) attempt(ctx context.Context, targetID string, lat, lng float64) {
	defer c.inflight.Done()
	c.resolve(targetID, c.invoke(ctx, targetID, lat, lng))
}

// invoke calls the log service, converting a panic into a failure so that
// nothing escapes the attempt goroutine.
func (c *Controller) invoke(ctx context.Context, targetID string, lat, lng float64) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failed(fmt.Errorf("log service panic: %v", r))
		}
	}()
	return c.logs.Attempt(ctx, targetID, lat, lng)
}

func (c *Controller) resolve(targetID string, res Result) {
	now := c.clock.Now()

	var (
		ev      *Event
		persist bool
	)

	c.mu.Lock()
	st, ok := c.states[targetID]
	if !ok {
		st = &targetState{}
		c.states[targetID] = st
	}
	st.inFlight = false

	switch res.Outcome {
	case OutcomeSuccess:
		st.lastSuccess = now
		c.counters.successes++
		e := newSucceededEvent(targetID, res.Reward, now)
		ev, persist = &e, true

	case OutcomeRateLimited:
		wait := c.cfg.GlobalCooldown
		if res.RetryAfter > wait {
			wait = res.RetryAfter
		}
		if until := now.Add(wait); until.After(c.cooldownUntil) {
			c.cooldownUntil = until
		}
		c.counters.rateLimited++
		persist = true

	default:
		err := res.Err
		if err == nil {
			err = ErrAttemptFailed
		}
		c.counters.failures++
		e := newFailedEvent(targetID, err, now)
		ev = &e
	}
	cooldownUntil := c.cooldownUntil
	c.mu.Unlock()

	switch res.Outcome {
	case OutcomeSuccess:
		attrs := []any{"target", targetID}
		if res.Reward != nil {
			attrs = append(attrs, "xp", res.Reward.XPGained, "claims", res.Reward.ClaimPoints)
		}
		c.logger.Info("auto-log succeeded", attrs...)
	case OutcomeRateLimited:
		c.logger.Debug("auto-log rate limited", "target", targetID, "cooldown_until", cooldownUntil)
	default:
		c.logger.Warn("auto-log failed", "target", targetID, "reason", ev.Reason)
	}

	if ev != nil && c.sink != nil {
		c.sink.Emit(*ev)
	}
	if persist {
		c.persist()
	}
}

// Stats returns a snapshot of counters and state sizes.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	inFlight := 0
	for _, st := range c.states {
		if st.inFlight {
			inFlight++
		}
	}
	return Stats{
		Running:        c.running,
		Ticks:          c.counters.ticks,
		SkippedTicks:   c.counters.skippedTicks,
		Attempts:       c.counters.attempts,
		Successes:      c.counters.successes,
		RateLimited:    c.counters.rateLimited,
		Failures:       c.counters.failures,
		InFlight:       inFlight,
		TrackedTargets: len(c.states),
		CooldownUntil:  c.cooldownUntil,
	}
}
