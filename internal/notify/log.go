package notify

import (
	"context"
	"log/slog"
)

// Notifier accepts a message for delivery. The Redis outbox and LogNotifier
// both implement it.
type Notifier interface {
	Send(context.Context, Message) error
}

// LogNotifier stands in for the outbox when Redis is not configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "id", msg.ID, "recipient", msg.RecipientID, "kind", msg.Kind, "title", msg.Title)
	return nil
}
