package app

import (
	"context"
	"strings"

	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

type RescheduleInput struct {
	Date    string `json:"requestedDate"`
	Time    string `json:"requestedTime"`
	Message string `json:"message"`
}

func (s *Service) RequestReschedule(ctx context.Context, caller identity.Account, appointmentID string, input RescheduleInput) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionRequestReschedule); err != nil {
		return nil, err
	}
	message, err := requireText(input.Message, "message")
	if err != nil {
		return nil, err
	}
	date, clock, err := parseSlot(input.Date, input.Time)
	if err != nil {
		return nil, err
	}
	appointment, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, lookupError(err, "Appointment")
	}
	if appointment.BurnerID != caller.ID() {
		return nil, forbidden("Appointment belongs to another operator")
	}
	if appointmentTerminal(appointment.Status) {
		return nil, appointmentTerminalError(appointment.Status)
	}

	item := store.Reschedule{
		ID:            util.NewID("resched"),
		AppointmentID: appointment.ID,
		BurnerID:      appointment.BurnerID,
		LeaderID:      appointment.LeaderID,
		RequestedDate: date,
		RequestedTime: clock,
		Message:       message,
		Status:        store.ReschedulePending,
		CreatedAt:     s.timestamp(),
	}
	if err := s.store.InsertReschedule(ctx, item); err != nil {
		return nil, err
	}
	s.sendAsync(ctx, outbound{
		recipientID: item.LeaderID,
		kind:        notificationReschedule,
		title:       "Reschedule requested",
		body:        message,
	})
	return reschedulePayload(item), nil
}

// DecideReschedule resolves a pending reschedule. Accepting moves the
// appointment slot without touching its status; both writes share one
// transaction.
func (s *Service) DecideReschedule(ctx context.Context, caller identity.Account, rescheduleID, decision, note string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionDecideReschedule); err != nil {
		return nil, err
	}
	decision = strings.TrimSpace(decision)
	if decision != store.RescheduleAccepted && decision != store.RescheduleRejected {
		return nil, validationError("decision must be accepted or rejected")
	}
	item, err := s.store.GetReschedule(ctx, rescheduleID)
	if err != nil {
		return nil, lookupError(err, "Reschedule request")
	}
	appointment, err := s.store.GetAppointment(ctx, item.AppointmentID)
	if err != nil {
		return nil, lookupError(err, "Appointment")
	}
	permission, err := s.store.GetPermissionRequest(ctx, appointment.PermissionID)
	if err != nil {
		return nil, lookupError(err, "Permission request")
	}
	if permission.LeaderID == nil || *permission.LeaderID != caller.ID() {
		return nil, forbidden("Only the routed approver may decide this reschedule")
	}
	if item.Status != store.ReschedulePending {
		return nil, alreadyResolved(item.Status)
	}
	if appointmentTerminal(appointment.Status) {
		return nil, appointmentTerminalError(appointment.Status)
	}

	message := item.Message
	if note = strings.TrimSpace(note); note != "" {
		message += "\n\n[Leader note]: " + note
	}
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.ResolveReschedule(ctx, item.ID, decision, message)
		if err != nil {
			return err
		}
		if !ok {
			current, err := s.store.GetReschedule(ctx, item.ID)
			if err != nil {
				return lookupError(err, "Reschedule request")
			}
			return alreadyResolved(current.Status)
		}
		if decision != store.RescheduleAccepted {
			return nil
		}
		moved, err := s.store.MoveAppointment(ctx, appointment.ID, item.RequestedDate, item.RequestedTime)
		if err != nil {
			return err
		}
		if !moved {
			current, err := s.store.GetAppointment(ctx, appointment.ID)
			if err != nil {
				return lookupError(err, "Appointment")
			}
			return appointmentTerminalError(current.Status)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.GetReschedule(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	title := "Reschedule rejected"
	body := "Your appointment stays on " + appointment.Date + " at " + appointment.Time + "."
	if decision == store.RescheduleAccepted {
		title = "Reschedule accepted"
		body = "Your appointment moved to " + item.RequestedDate + " at " + item.RequestedTime + "."
	}
	s.sendAsync(ctx, outbound{recipientID: item.BurnerID, kind: notificationReschedule, title: title, body: body})
	return reschedulePayload(updated), nil
}

// CancelReschedule withdraws the caller's own pending reschedule.
func (s *Service) CancelReschedule(ctx context.Context, caller identity.Account, rescheduleID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionRequestReschedule); err != nil {
		return nil, err
	}
	item, err := s.store.GetReschedule(ctx, rescheduleID)
	if err != nil {
		return nil, lookupError(err, "Reschedule request")
	}
	if item.BurnerID != caller.ID() {
		return nil, forbidden("Reschedule request belongs to another operator")
	}
	if item.Status != store.ReschedulePending {
		return nil, alreadyResolved(item.Status)
	}
	ok, err := s.store.ResolveReschedule(ctx, item.ID, store.RescheduleCancelled, item.Message)
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.GetReschedule(ctx, item.ID)
		if err != nil {
			return nil, lookupError(err, "Reschedule request")
		}
		return nil, alreadyResolved(current.Status)
	}
	item.Status = store.RescheduleCancelled
	return reschedulePayload(item), nil
}

func alreadyResolved(status string) *DomainError {
	return stateConflict("ALREADY_RESOLVED", "This reschedule request is already "+status, status)
}

func appointmentTerminalError(status string) *DomainError {
	return stateConflict("APPOINTMENT_TERMINAL", "Cannot reschedule an appointment that is "+status, status)
}

func reschedulePayload(item store.Reschedule) map[string]any {
	return map[string]any{
		"id":            item.ID,
		"appointmentId": item.AppointmentID,
		"burnerId":      item.BurnerID,
		"leaderId":      item.LeaderID,
		"requestedDate": item.RequestedDate,
		"requestedTime": item.RequestedTime,
		"message":       item.Message,
		"status":        item.Status,
		"createdAt":     item.CreatedAt,
		"resolvedAt":    item.ResolvedAt,
	}
}
