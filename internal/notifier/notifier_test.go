package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
)

var (
	epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
)

type message struct{ subject, body string }

type fakeSender struct {
	mu       sync.Mutex
	messages []message
	err      error
	block    chan struct{}
}

func (f *fakeSender) Send(_ context.Context, subject, body string) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, message{subject, body})
	return nil
}

func (f *fakeSender) all() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func success(target string) autolog.Event {
	return autolog.Event{
		ID:       "ev-" + target,
		Type:     autolog.EventLogSucceeded,
		TargetID: target,
		Reward:   &autolog.Reward{XPGained: 10, ClaimPoints: 5, Distance: 12.34},
		Time:     epoch,
	}
}

func failure(target string) autolog.Event {
	return autolog.Event{ID: "ev-" + target, Type: autolog.EventLogFailed, TargetID: target, Reason: "timeout", Time: epoch}
}

func TestNotifier_SendsSuccesses(t *testing.T) {
	s := &fakeSender{}
	n := New(s, WithLogger(quiet))
	n.Emit(success("7"))
	n.Emit(failure("8"))
	n.Close()

	msgs := s.all()
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1 (failures off by default)", len(msgs))
	}
	if msgs[0].subject != "Auto Log! +10 XP, +5 Claims" {
		t.Errorf("subject = %q", msgs[0].subject)
	}
	if !strings.Contains(msgs[0].body, "Spot: 7") || !strings.Contains(msgs[0].body, "12.3 m") {
		t.Errorf("body = %q", msgs[0].body)
	}
	if n.Sent() != 1 {
		t.Errorf("Sent() = %d, want 1", n.Sent())
	}
}

func TestNotifier_WithFailures(t *testing.T) {
	s := &fakeSender{}
	n := New(s, WithFailures(), WithLogger(quiet))
	n.Emit(failure("8"))
	n.Close()

	msgs := s.all()
	if len(msgs) != 1 || msgs[0].subject != "Auto log failed for spot 8" {
		t.Fatalf("messages = %+v", msgs)
	}
	if !strings.Contains(msgs[0].body, "Reason: timeout") {
		t.Errorf("body = %q", msgs[0].body)
	}
}

func TestNotifier_SendErrorIsLogged(t *testing.T) {
	s := &fakeSender{err: errors.New("smtp down")}
	n := New(s, WithLogger(quiet))
	n.Emit(success("1"))
	n.Close()
	if n.Sent() != 0 {
		t.Errorf("Sent() = %d, want 0", n.Sent())
	}
}

func TestNotifier_DropsWhenFull(t *testing.T) {
	s := &fakeSender{block: make(chan struct{})}
	n := New(s, WithLogger(quiet))

	// One event is held by the blocked worker, queueSize more fill the queue.
	for i := 0; i < queueSize+5; i++ {
		n.Emit(success("1"))
	}
	if n.Dropped() == 0 {
		t.Error("Dropped() = 0, want some drops with a stalled sender")
	}

	close(s.block)
	n.Close()
	if got := n.Sent() + n.Dropped(); got != queueSize+5 {
		t.Errorf("Sent()+Dropped() = %d, want %d", got, queueSize+5)
	}
}

func TestNotifier_EmitAfterClose(t *testing.T) {
	s := &fakeSender{}
	n := New(s, WithLogger(quiet))
	n.Close()
	n.Close()
	n.Emit(success("1"))
	if len(s.all()) != 0 {
		t.Error("Emit after Close should be ignored")
	}
}

func TestFormat_SuccessWithoutReward(t *testing.T) {
	subject, body := Format(autolog.Event{Type: autolog.EventLogSucceeded, TargetID: "3", Time: epoch})
	if subject != "Auto Log!" {
		t.Errorf("subject = %q", subject)
	}
	if body != "Spot: 3\nTime: 2024-01-01 12:00:00 UTC" {
		t.Errorf("body = %q", body)
	}
}

func TestMailConfig_Validate(t *testing.T) {
	good := MailConfig{Host: "smtp.example.com", Port: 587, From: "bot@example.com", To: []string{"me@example.com"}}
	if err := good.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}

	cases := map[string]func(*MailConfig){
		"no host":       func(c *MailConfig) { c.Host = "" },
		"bad port":      func(c *MailConfig) { c.Port = 0 },
		"no sender":     func(c *MailConfig) { c.From = "" },
		"no recipients": func(c *MailConfig) { c.To = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := good
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
			if _, err := NewMailSender(cfg); err == nil {
				t.Error("NewMailSender() error = nil, want error")
			}
		})
	}

	if _, err := NewMailSender(good); err != nil {
		t.Errorf("NewMailSender() error = %v", err)
	}
}
