package autolog

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what an Event reports.
type EventType string

const (
	EventLogSucceeded EventType = "log_succeeded"
	EventLogFailed    EventType = "log_failed"
)

// Event is emitted to the Sink when an attempt resolves. Rate limits never
// produce an event.
type Event struct {
	ID       string    `json:"id"`
	Type     EventType `json:"type"`
	TargetID string    `json:"target_id"`
	Reward   *Reward   `json:"reward,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Time     time.Time `json:"time"`
}

// Sink receives controller events. Emit is called from attempt goroutines,
// never with controller locks held; implementations must be safe for
// concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans an event out to every non-nil sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

func newSucceededEvent(targetID string, r *Reward, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     EventLogSucceeded,
		TargetID: targetID,
		Reward:   r,
		Time:     at,
	}
}

func newFailedEvent(targetID string, err error, at time.Time) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     EventLogFailed,
		TargetID: targetID,
		Reason:   err.Error(),
		Time:     at,
	}
}
