// Package autolog exposes the auto-log controller for embedding in other
// programs: supply a position source, a target registry and a log service,
// and the controller logs targets as the position comes within range.
package autolog

import (
	"log/slog"
	"time"

	internalautolog "github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
	"github.com/SmitUplenchwar2687/spotwalk/pkg/clock"
)

// ErrInvalidConfiguration is wrapped by every configuration error.
var ErrInvalidConfiguration = internalautolog.ErrInvalidConfiguration

// DefaultStateKey is the storage key used when none is configured.
const DefaultStateKey = internalautolog.DefaultStateKey

type (
	// Config tunes the controller.
	Config = internalautolog.Config
	// Controller decides when to log which target.
	Controller = internalautolog.Controller
	// Option customizes a Controller.
	Option = internalautolog.Option
	// Stats is a snapshot of controller counters.
	Stats = internalautolog.Stats
	// DistanceFunc returns the distance in meters between two points.
	DistanceFunc = internalautolog.DistanceFunc

	// Position is the current location of the player.
	Position = internalautolog.Position
	// Target is a loggable location.
	Target = internalautolog.Target
	// PositionSource supplies the latest position.
	PositionSource = internalautolog.PositionSource
	// TargetRegistry supplies the current targets.
	TargetRegistry = internalautolog.TargetRegistry
	// LogService performs one log attempt.
	LogService = internalautolog.LogService
	// LogServiceFunc adapts a function to LogService.
	LogServiceFunc = internalautolog.LogServiceFunc
	// Result is the outcome of one log attempt.
	Result = internalautolog.Result
	// Outcome tags a Result.
	Outcome = internalautolog.Outcome
	// Reward is what the backend granted for a successful log.
	Reward = internalautolog.Reward

	// Event is emitted when an attempt resolves.
	Event = internalautolog.Event
	// EventType identifies what an Event reports.
	EventType = internalautolog.EventType
	// Sink receives controller events.
	Sink = internalautolog.Sink
	// SinkFunc adapts a function to Sink.
	SinkFunc = internalautolog.SinkFunc
	// MultiSink fans events out to several sinks.
	MultiSink = internalautolog.MultiSink

	// StateStore persists suppression and cooldown state.
	StateStore = internalautolog.StateStore
	// Snapshot is the persisted controller state.
	Snapshot = internalautolog.Snapshot
)

const (
	OutcomeSuccess     = internalautolog.OutcomeSuccess
	OutcomeRateLimited = internalautolog.OutcomeRateLimited
	OutcomeFailure     = internalautolog.OutcomeFailure

	EventLogSucceeded = internalautolog.EventLogSucceeded
	EventLogFailed    = internalautolog.EventLogFailed
)

// DefaultConfig returns the default controller settings.
func DefaultConfig() Config {
	return internalautolog.DefaultConfig()
}

// New creates a Controller. It does not start ticking until Start.
func New(cfg Config, positions PositionSource, targets TargetRegistry, logs LogService, clk clock.Clock, opts ...Option) (*Controller, error) {
	return internalautolog.New(cfg, positions, targets, logs, clk, opts...)
}

// WithSink sets where events are delivered.
func WithSink(s Sink) Option { return internalautolog.WithSink(s) }

// WithStateStore persists suppression and cooldown state across restarts.
func WithStateStore(s StateStore) Option { return internalautolog.WithStateStore(s) }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return internalautolog.WithLogger(l) }

// WithDistanceFunc replaces the great-circle distance.
func WithDistanceFunc(f DistanceFunc) Option { return internalautolog.WithDistanceFunc(f) }

// Succeeded reports a successful log.
func Succeeded(r *Reward) Result { return internalautolog.Succeeded(r) }

// Throttled reports a rate-limited log. retryAfter is the server's hint, or 0.
func Throttled(retryAfter time.Duration) Result { return internalautolog.Throttled(retryAfter) }

// Failed reports a log that failed for a reason other than rate limiting.
func Failed(err error) Result { return internalautolog.Failed(err) }
