package app

import (
	"context"
	"log/slog"
	"time"

	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/notify"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

const (
	notificationPermission  = "permission"
	notificationAppointment = "appointment"
	notificationReschedule  = "reschedule"
	notificationAlert       = "alert"
)

// outbound is one message waiting for delivery after commit.
type outbound struct {
	recipientID string
	kind        string
	title       string
	body        string
}

// send delivers one message within the notify timeout. It never fails the
// caller.
func (s *Service) send(ctx context.Context, msg outbound) {
	if s.notifier == nil || msg.recipientID == "" {
		return
	}
	timeout := s.cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	message := notify.Message{
		ID:          util.NewID("msg"),
		RecipientID: msg.recipientID,
		Kind:        msg.kind,
		Title:       msg.title,
		Body:        msg.body,
		CreatedAt:   s.timestamp(),
	}
	if account, err := s.store.GetAccount(ctx, msg.recipientID); err == nil {
		message.RecipientName = account.DisplayName
		message.RecipientEmail = account.Email
	}
	if err := s.notifier.Send(ctx, message); err != nil {
		slog.Warn("notification delivery failed", "recipient", msg.recipientID, "kind", msg.kind, "error", err)
	}
}

// sendAsync detaches delivery from the request.
func (s *Service) sendAsync(ctx context.Context, msg outbound) {
	ctx = context.WithoutCancel(ctx)
	go s.send(ctx, msg)
}

func (s *Service) ListNotifications(ctx context.Context, caller identity.Account, limit int) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionReadNotifications); err != nil {
		return nil, err
	}
	items, err := s.store.ListNotifications(ctx, caller.ID(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	unread := 0
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if !item.IsRead {
			unread++
		}
		payload = append(payload, notificationPayload(item))
	}
	return map[string]any{"notifications": payload, "unread": unread}, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, caller identity.Account, notificationID string, isRead bool) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionReadNotifications); err != nil {
		return nil, err
	}
	ok, err := s.store.MarkNotificationRead(ctx, notificationID, caller.ID(), isRead)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Notification")
	}
	return map[string]any{"id": notificationID, "isRead": isRead}, nil
}

func notificationPayload(item store.Notification) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"type":         item.Type,
		"title":        item.Title,
		"message":      item.Message,
		"kilnId":       item.KilnID,
		"permissionId": item.PermissionID,
		"alertId":      item.AlertID,
		"isRead":       item.IsRead,
		"createdAt":    item.CreatedAt,
	}
}
