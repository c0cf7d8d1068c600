package autolog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Position is a single fix from the platform location feed.
type Position struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Heading    *float64  `json:"heading,omitempty"` // degrees, nil when unknown
	Accuracy   float64   `json:"accuracy"`          // meters
	ObservedAt time.Time `json:"observed_at"`
}

// Target is a spot eligible for proximity logging.
type Target struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PositionSource delivers the most recent position, or nil if none is known yet.
type PositionSource interface {
	Latest() *Position
}

// TargetRegistry returns the current candidate set. Implementations must
// return a copy the caller may iterate without further locking.
type TargetRegistry interface {
	Snapshot() []Target
}

// LogService issues a single log attempt against the backend. It must not
// block forever: the controller imposes no timeout of its own.
type LogService interface {
	Attempt(ctx context.Context, targetID string, lat, lng float64) Result
}

// LogServiceFunc adapts a function to LogService.
type LogServiceFunc func(ctx context.Context, targetID string, lat, lng float64) Result

func (f LogServiceFunc) Attempt(ctx context.Context, targetID string, lat, lng float64) Result {
	return f(ctx, targetID, lat, lng)
}

// Outcome tags a Result.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Reward is what the backend granted for a successful log.
type Reward struct {
	LogID       int       `json:"log_id"`
	XPGained    int       `json:"xp_gained"`
	ClaimPoints int       `json:"claim_points"`
	Distance    float64   `json:"distance"`
	Timestamp   time.Time `json:"timestamp"`
}

// Result is the outcome of one LogService.Attempt. Exactly one of the
// outcome-specific fields is meaningful, selected by Outcome.
type Result struct {
	Outcome    Outcome
	Reward     *Reward       // OutcomeSuccess
	RetryAfter time.Duration // OutcomeRateLimited, zero when the server gave no hint
	Err        error         // OutcomeFailure
}

// Succeeded builds a success result.
func Succeeded(r *Reward) Result {
	return Result{Outcome: OutcomeSuccess, Reward: r}
}

// Throttled builds a rate-limited result.
func Throttled(retryAfter time.Duration) Result {
	return Result{Outcome: OutcomeRateLimited, RetryAfter: retryAfter}
}

// Failed builds a failure result. A nil error is replaced by ErrAttemptFailed.
func Failed(err error) Result {
	if err == nil {
		err = ErrAttemptFailed
	}
	return Result{Outcome: OutcomeFailure, Err: err}
}

var (
	// ErrInvalidConfiguration is wrapped by every configuration error.
	ErrInvalidConfiguration = errors.New("invalid auto-log configuration")

	// ErrAttemptFailed stands in for failures that carried no error.
	ErrAttemptFailed = errors.New("log attempt failed")
)
