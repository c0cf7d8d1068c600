// Package recorder captures auto-log events for later inspection.
package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
)

// Recorder captures controller events. It implements autolog.Sink.
// Thread-safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []autolog.Event
	writer io.Writer // optional: stream events as they arrive
	logger *slog.Logger
}

// New creates a new Recorder. If w is non-nil, events are also
// written to w as newline-delimited JSON as they arrive.
func New(w io.Writer) *Recorder {
	return &Recorder{
		writer: w,
		logger: slog.Default(),
	}
}

// Record captures a single event.
func (r *Recorder) Record(ev autolog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)

	if r.writer != nil {
		if err := json.NewEncoder(r.writer).Encode(ev); err != nil {
			return fmt.Errorf("streaming event: %w", err)
		}
	}
	return nil
}

// Emit records ev, logging rather than returning a stream error.
func (r *Recorder) Emit(ev autolog.Event) {
	if err := r.Record(ev); err != nil {
		r.logger.Warn("event not streamed", "event", ev.ID, "error", err)
	}
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []autolog.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]autolog.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Recent returns up to n of the latest events, newest last.
func (r *Recorder) Recent(n int) []autolog.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.events) {
		n = len(r.events)
	}
	out := make([]autolog.Event, n)
	copy(out, r.events[len(r.events)-n:])
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// ExportJSON writes all events to the given writer as a JSON array.
func (r *Recorder) ExportJSON(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := r.events
	if events == nil {
		events = []autolog.Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}

// ExportFile writes all events to a file as a JSON array.
func (r *Recorder) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := r.ExportJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadJSON reads events from a JSON array.
func LoadJSON(r io.Reader) ([]autolog.Event, error) {
	var events []autolog.Event
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, err
	}
	return events, nil
}

// Totals summarizes a list of events.
type Totals struct {
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	XPGained    int `json:"xp_gained"`
	ClaimPoints int `json:"claim_points"`
}

// Summarize adds up outcomes and rewards.
func Summarize(events []autolog.Event) Totals {
	var t Totals
	for _, ev := range events {
		switch ev.Type {
		case autolog.EventLogSucceeded:
			t.Succeeded++
			if ev.Reward != nil {
				t.XPGained += ev.Reward.XPGained
				t.ClaimPoints += ev.Reward.ClaimPoints
			}
		case autolog.EventLogFailed:
			t.Failed++
		}
	}
	return t
}
