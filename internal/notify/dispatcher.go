package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Mailer delivers a rendered notification to one address.
type Mailer interface {
	IsConfigured() bool
	SendNotification(to, recipientName, title, body string) error
}

type queue interface {
	Receive(ctx context.Context, timeout time.Duration) (Message, bool, error)
}

// Dispatcher drains the outbox and hands each message to the mailer.
// Delivery failures are logged and dropped.
type Dispatcher struct {
	queue   queue
	mailer  Mailer
	logger  *slog.Logger
	wait    time.Duration
	backoff func() backoff.BackOff
}

func NewDispatcher(outbox *Outbox, mailer Mailer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:  outbox,
		mailer: mailer,
		logger: logger,
		wait:   5 * time.Second,
		backoff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0
			return bo
		},
	}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	bo := d.backoff()
	for {
		if ctx.Err() != nil {
			return nil
		}
		msg, ok, err := d.queue.Receive(ctx, d.wait)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			wait := bo.NextBackOff()
			d.logger.Warn("outbox receive failed", "error", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()
		if !ok {
			continue
		}
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	if d.mailer == nil || !d.mailer.IsConfigured() {
		d.logger.Info("notification dropped, mail not configured", "id", msg.ID, "recipient", msg.RecipientID, "kind", msg.Kind)
		return
	}
	if msg.RecipientEmail == "" {
		d.logger.Info("notification dropped, recipient has no email", "id", msg.ID, "recipient", msg.RecipientID)
		return
	}
	if err := d.mailer.SendNotification(msg.RecipientEmail, msg.RecipientName, msg.Title, msg.Body); err != nil {
		d.logger.Warn("notification delivery failed", "id", msg.ID, "recipient", msg.RecipientID, "error", err)
		return
	}
	d.logger.Info("notification delivered", "id", msg.ID, "recipient", msg.RecipientID, "kind", msg.Kind)
}
