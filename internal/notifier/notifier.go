// Package notifier turns auto-log events into user notifications.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nikoksr/notify"
	"github.com/nikoksr/notify/service/mail"

	"github.com/SmitUplenchwar2687/spotwalk/internal/autolog"
)

const (
	queueSize   = 32
	sendTimeout = 30 * time.Second
)

// Sender delivers one notification. *notify.Notify implements it.
type Sender interface {
	Send(ctx context.Context, subject, message string) error
}

// MailConfig holds SMTP settings for mail notifications.
type MailConfig struct {
	Host     string   `json:"smtp_host"`
	Port     int      `json:"smtp_port"`
	User     string   `json:"smtp_user"`
	Password string   `json:"smtp_password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// Validate checks that mail can be addressed and routed.
func (c MailConfig) Validate() error {
	if c.Host == "" {
		return errors.New("smtp_host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("smtp_port must be positive, got %d", c.Port)
	}
	if c.From == "" {
		return errors.New("from is required")
	}
	if len(c.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	return nil
}

// NewMailSender builds a notify dispatcher with a single SMTP mail service.
func NewMailSender(cfg MailConfig) (*notify.Notify, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mail notifications: %w", err)
	}
	svc := mail.New(cfg.From, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))
	if cfg.User != "" {
		svc.AuthenticateSMTP("", cfg.User, cfg.Password, cfg.Host)
	}
	svc.AddReceivers(cfg.To...)

	n := notify.New()
	n.UseServices(svc)
	return n, nil
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithFailures also notifies about failed attempts.
func WithFailures() Option {
	return func(n *Notifier) { n.failures = true }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = l }
}

// Notifier is an autolog.Sink that sends notifications from a background
// worker, so a slow mail server never holds up an attempt goroutine.
type Notifier struct {
	sender   Sender
	failures bool
	logger   *slog.Logger

	queue chan autolog.Event
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	sent    int
	dropped int
}

// New starts a Notifier delivering through sender. Close stops it.
func New(sender Sender, opts ...Option) *Notifier {
	n := &Notifier{
		sender: sender,
		queue:  make(chan autolog.Event, queueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	go n.run()
	return n
}

// Emit queues a notification for ev. Events are dropped when the queue is
// full or the notifier is closed.
func (n *Notifier) Emit(ev autolog.Event) {
	if ev.Type == autolog.EventLogFailed && !n.failures {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.queue <- ev:
	default:
		n.dropped++
		n.logger.Warn("notification dropped", "event", ev.ID, "target", ev.TargetID)
	}
}

// Close delivers what is already queued and stops the worker.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
}

// Sent returns how many notifications were delivered.
func (n *Notifier) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

// Dropped returns how many notifications were discarded.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *Notifier) run() {
	defer close(n.done)
	for ev := range n.queue {
		subject, body := Format(ev)
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := n.sender.Send(ctx, subject, body)
		cancel()
		if err != nil {
			n.logger.Error("send notification failed", "event", ev.ID, "target", ev.TargetID, "error", err)
			continue
		}
		n.mu.Lock()
		n.sent++
		n.mu.Unlock()
	}
}

// Format renders the subject and body for ev.
func Format(ev autolog.Event) (subject, body string) {
	at := ev.Time.UTC().Format("2006-01-02 15:04:05 UTC")
	switch ev.Type {
	case autolog.EventLogSucceeded:
		subject = "Auto Log!"
		if ev.Reward != nil {
			subject = fmt.Sprintf("Auto Log! +%d XP, +%d Claims", ev.Reward.XPGained, ev.Reward.ClaimPoints)
			body = fmt.Sprintf("Spot: %s\nXP: +%d\nClaims: +%d\nDistance: %.1f m\nTime: %s",
				ev.TargetID, ev.Reward.XPGained, ev.Reward.ClaimPoints, ev.Reward.Distance, at)
		} else {
			body = fmt.Sprintf("Spot: %s\nTime: %s", ev.TargetID, at)
		}
	default:
		subject = fmt.Sprintf("Auto log failed for spot %s", ev.TargetID)
		body = fmt.Sprintf("Spot: %s\nReason: %s\nTime: %s", ev.TargetID, ev.Reason, at)
	}
	return subject, body
}
