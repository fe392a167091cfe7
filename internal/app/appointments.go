package app

import (
	"context"
	"strings"
	"time"

	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

var appointmentTransitions = map[string]map[string]bool{
	store.AppointmentPending: {
		store.AppointmentApproved:  true,
		store.AppointmentCancelled: true,
	},
	store.AppointmentApproved: {
		store.AppointmentCompleted: true,
		store.AppointmentCancelled: true,
	},
}

func appointmentTerminal(status string) bool {
	_, open := appointmentTransitions[status]
	return !open
}

type AppointmentInput struct {
	PermissionID string `json:"permissionId"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Purpose      string `json:"purpose"`
}

// parseSlot normalizes a date and time to the stored layouts.
func parseSlot(date, clock string) (string, string, error) {
	day, err := time.Parse(store.DateLayout, strings.TrimSpace(date))
	if err != nil {
		return "", "", validationError("date must be YYYY-MM-DD")
	}
	at, err := time.Parse(store.TimeLayout, strings.TrimSpace(clock))
	if err != nil {
		return "", "", validationError("time must be HH:MM")
	}
	return day.Format(store.DateLayout), at.Format(store.TimeLayout), nil
}

// RequestAppointment creates a pending appointment for a request the
// approver has marked appointment_required.
func (s *Service) RequestAppointment(ctx context.Context, caller identity.Account, input AppointmentInput) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionRequestAppointment); err != nil {
		return nil, err
	}
	purpose, err := requireText(input.Purpose, "purpose")
	if err != nil {
		return nil, err
	}
	date, clock, err := parseSlot(input.Date, input.Time)
	if err != nil {
		return nil, err
	}
	permission, err := s.store.GetPermissionRequest(ctx, strings.TrimSpace(input.PermissionID))
	if err != nil {
		return nil, lookupError(err, "Permission request")
	}
	if permission.BurnerID != caller.ID() {
		return nil, forbidden("Permission request belongs to another operator")
	}
	if permission.Status != store.PermissionAppointmentRequired {
		return nil, stateConflict("INVALID_TRANSITION", "Appointments can only be requested when the request is appointment_required", permission.Status)
	}
	if permission.LeaderID == nil {
		return nil, stateConflict("INVALID_TRANSITION", "Permission request has no approver", permission.Status)
	}

	item := store.Appointment{
		ID:           util.NewID("appt"),
		PermissionID: permission.ID,
		LeaderID:     *permission.LeaderID,
		BurnerID:     permission.BurnerID,
		Date:         date,
		Time:         clock,
		Purpose:      purpose,
		Status:       store.AppointmentPending,
		CreatedAt:    s.timestamp(),
	}
	if err := s.store.InsertAppointment(ctx, item); err != nil {
		return nil, err
	}
	s.sendAsync(ctx, outbound{
		recipientID: item.LeaderID,
		kind:        notificationAppointment,
		title:       "Appointment requested",
		body:        "An appointment was requested for " + date + " at " + clock + ".",
	})
	return appointmentPayload(item), nil
}

// DecideAppointment moves an appointment along its graph. The note is written
// to the owning permission request.
func (s *Service) DecideAppointment(ctx context.Context, caller identity.Account, appointmentID, decision, note string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionDecideAppointment); err != nil {
		return nil, err
	}
	decision = strings.TrimSpace(decision)
	switch decision {
	case store.AppointmentApproved, store.AppointmentCancelled, store.AppointmentCompleted:
	default:
		return nil, validationError("decision must be one of approved, cancelled, completed")
	}
	item, permission, err := s.ledAppointment(ctx, caller, appointmentID)
	if err != nil {
		return nil, err
	}
	if !appointmentTransitions[item.Status][decision] {
		return nil, invalidAppointmentTransition(item.Status, decision)
	}

	note = strings.TrimSpace(note)
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		ok, err := s.store.TransitionAppointment(ctx, item.ID, item.Status, decision)
		if err != nil {
			return err
		}
		if !ok {
			current, err := s.store.GetAppointment(ctx, item.ID)
			if err != nil {
				return lookupError(err, "Appointment")
			}
			return invalidAppointmentTransition(current.Status, decision)
		}
		if note != "" {
			if _, err := s.store.UpdatePermissionNote(ctx, permission.ID, note); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	item.Status = decision
	if note != "" {
		permission.LeaderNote = note
		s.indexPermission(permission)
	}
	s.sendAsync(ctx, outbound{
		recipientID: item.BurnerID,
		kind:        notificationAppointment,
		title:       "Appointment " + decision,
		body:        firstNonBlank(note, "Your appointment on "+item.Date+" at "+item.Time+" is now "+decision+"."),
	})
	return appointmentPayload(item), nil
}

// LeaveAppointmentNote writes the note of the owning permission request.
func (s *Service) LeaveAppointmentNote(ctx context.Context, caller identity.Account, appointmentID, note string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionNotePermission); err != nil {
		return nil, err
	}
	_, permission, err := s.ledAppointment(ctx, caller, appointmentID)
	if err != nil {
		return nil, err
	}
	return s.writePermissionNote(ctx, permission, note)
}

func (s *Service) GetAppointment(ctx context.Context, caller identity.Account, appointmentID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionReadPermission); err != nil {
		return nil, err
	}
	item, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return nil, lookupError(err, "Appointment")
	}
	permission, err := s.store.GetPermissionRequest(ctx, item.PermissionID)
	if err != nil {
		return nil, lookupError(err, "Permission request")
	}
	if !canSeePermission(caller, permission) && item.LeaderID != caller.ID() {
		return nil, forbidden("Appointment is not visible to this account")
	}
	reschedules, err := s.store.ListReschedules(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	payload := appointmentPayload(item)
	payload["leaderNote"] = permission.LeaderNote
	items := make([]map[string]any, 0, len(reschedules))
	for _, reschedule := range reschedules {
		items = append(items, reschedulePayload(reschedule))
	}
	payload["reschedules"] = items
	return payload, nil
}

// ledAppointment loads an appointment and its permission and checks the
// caller is the permission's current leader.
func (s *Service) ledAppointment(ctx context.Context, caller identity.Account, appointmentID string) (store.Appointment, store.PermissionRequest, error) {
	item, err := s.store.GetAppointment(ctx, appointmentID)
	if err != nil {
		return store.Appointment{}, store.PermissionRequest{}, lookupError(err, "Appointment")
	}
	permission, err := s.store.GetPermissionRequest(ctx, item.PermissionID)
	if err != nil {
		return store.Appointment{}, store.PermissionRequest{}, lookupError(err, "Permission request")
	}
	if permission.LeaderID == nil || *permission.LeaderID != caller.ID() {
		return store.Appointment{}, store.PermissionRequest{}, forbidden("Only the routed approver may act on this appointment")
	}
	return item, permission, nil
}

func invalidAppointmentTransition(from, to string) *DomainError {
	return stateConflict("INVALID_TRANSITION", "Cannot change an appointment that is "+from+" to "+to, from)
}

func appointmentPayload(item store.Appointment) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"permissionId": item.PermissionID,
		"leaderId":     item.LeaderID,
		"burnerId":     item.BurnerID,
		"date":         item.Date,
		"time":         item.Time,
		"purpose":      item.Purpose,
		"status":       item.Status,
		"createdAt":    item.CreatedAt,
	}
}
