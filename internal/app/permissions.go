package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/search"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

type PermissionInput struct {
	KilnID              string  `json:"kilnId"`
	ActivityLocation    string  `json:"activityLocation"`
	KilnSiteName        string  `json:"kilnSiteName"`
	StartDate           string  `json:"startDate"`
	EndDate             string  `json:"endDate"`
	Purpose             string  `json:"purpose"`
	EstimatedQuantityKg float64 `json:"estimatedQuantityKg"`
	Message             string  `json:"message"`
	IDDocument          string  `json:"idDocument"`
	LandCertificate     string  `json:"landCertificate"`
	CoopCertificate     string  `json:"coopCertificate"`
	TreeAgeProof        string  `json:"treeAgeProof"`
}

func (in PermissionInput) validate() error {
	if strings.TrimSpace(in.KilnID) == "" {
		return validationError("kilnId is required")
	}
	for _, field := range []struct{ name, value string }{
		{"activityLocation", in.ActivityLocation},
		{"kilnSiteName", in.KilnSiteName},
		{"purpose", in.Purpose},
	} {
		if _, err := requireText(field.value, field.name); err != nil {
			return err
		}
	}
	start, err := time.Parse(store.DateLayout, strings.TrimSpace(in.StartDate))
	if err != nil {
		return validationError("startDate must be YYYY-MM-DD")
	}
	end, err := time.Parse(store.DateLayout, strings.TrimSpace(in.EndDate))
	if err != nil {
		return validationError("endDate must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return validationError("endDate must not be before startDate")
	}
	if in.EstimatedQuantityKg <= 0 {
		return validationError("estimatedQuantityKg must be greater than zero")
	}
	return nil
}

var permissionTransitions = map[string]map[string]bool{
	store.PermissionSubmitted: {
		store.PermissionAppointmentRequired: true,
		store.PermissionApproved:            true,
		store.PermissionRejected:            true,
		store.PermissionCancelled:           true,
	},
	store.PermissionAppointmentRequired: {
		store.PermissionApproved: true,
		store.PermissionRejected: true,
	},
}

var defaultDecisionNotes = map[string]string{
	store.PermissionApproved:            "Approved by leader.",
	store.PermissionRejected:            "Rejected by leader.",
	store.PermissionAppointmentRequired: "Appointment required before approval.",
}

func permissionTerminal(status string) bool {
	_, open := permissionTransitions[status]
	return !open
}

// SubmitPermission persists the request, routes it to the approver for the
// kiln's jurisdiction and sets the leader in one transaction. When no
// approver covers the jurisdiction the request row is deleted before the
// failure is returned.
func (s *Service) SubmitPermission(ctx context.Context, caller identity.Account, input PermissionInput) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionSubmitPermission); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	kiln, err := s.store.GetKiln(ctx, strings.TrimSpace(input.KilnID))
	if err != nil {
		return nil, lookupError(err, "Kiln")
	}
	if kiln.OwnerID != caller.ID() {
		return nil, forbidden("Kiln belongs to another operator")
	}
	if strings.TrimSpace(kiln.District) == "" || strings.TrimSpace(kiln.Sector) == "" {
		return nil, validationError("Kiln district and sector are required before submitting")
	}

	item := store.PermissionRequest{
		ID:                  util.NewID("perm"),
		BurnerID:            caller.ID(),
		KilnID:              kiln.ID,
		KilnDistrict:        kiln.District,
		KilnSector:          kiln.Sector,
		ActivityLocation:    strings.TrimSpace(input.ActivityLocation),
		KilnSiteName:        strings.TrimSpace(input.KilnSiteName),
		StartDate:           strings.TrimSpace(input.StartDate),
		EndDate:             strings.TrimSpace(input.EndDate),
		Purpose:             strings.TrimSpace(input.Purpose),
		EstimatedQuantityKg: input.EstimatedQuantityKg,
		Message:             strings.TrimSpace(input.Message),
		IDDocument:          strings.TrimSpace(input.IDDocument),
		LandCertificate:     strings.TrimSpace(input.LandCertificate),
		CoopCertificate:     strings.TrimSpace(input.CoopCertificate),
		TreeAgeProof:        strings.TrimSpace(input.TreeAgeProof),
		Status:              store.PermissionSubmitted,
		CreatedAt:           s.timestamp(),
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertPermissionRequest(ctx, item); err != nil {
			return err
		}
		approver, err := s.store.FindApproverByJurisdiction(ctx, kiln.District, kiln.Sector)
		if errors.Is(err, sql.ErrNoRows) {
			if err := s.store.DeletePermissionRequest(ctx, item.ID); err != nil {
				return err
			}
			return noApproverForJurisdiction(kiln.District, kiln.Sector)
		}
		if err != nil {
			return err
		}
		ok, err := s.store.SetPermissionLeader(ctx, item.ID, approver.ID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("route permission request: request row missing")
		}
		item.LeaderID = &approver.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.indexPermission(item)
	s.sendAsync(ctx, outbound{
		recipientID: *item.LeaderID,
		kind:        notificationPermission,
		title:       "New permission request",
		body:        "A permission request for " + item.KilnSiteName + " is waiting for your decision.",
	})
	return permissionPayload(item, nil), nil
}

func noApproverForJurisdiction(district, sector string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, KindRouting, "NO_APPROVER_FOR_JURISDICTION",
		"No approver is registered for this kiln's district and sector", map[string]any{
			"kiln_district": district,
			"kiln_sector":   sector,
			"hint":          "Ask an administrator to register an approver for this jurisdiction.",
		})
}

// DecidePermission applies an approver decision with a conditional write
// keyed on the status that was read.
func (s *Service) DecidePermission(ctx context.Context, caller identity.Account, permissionID, decision, note string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionDecidePermission); err != nil {
		return nil, err
	}
	decision = strings.TrimSpace(decision)
	if _, ok := defaultDecisionNotes[decision]; !ok {
		return nil, validationError("decision must be one of approved, rejected, appointment_required")
	}
	item, err := s.routedPermission(ctx, caller, permissionID)
	if err != nil {
		return nil, err
	}
	if !permissionTransitions[item.Status][decision] {
		return nil, invalidPermissionTransition(item.Status, decision)
	}

	note = firstNonBlank(strings.TrimSpace(note), item.LeaderNote, defaultDecisionNotes[decision])
	ok, err := s.store.TransitionPermission(ctx, item.ID, item.Status, decision, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.permissionConflict(ctx, item.ID, decision)
	}

	updated, err := s.store.GetPermissionRequest(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	s.indexPermission(updated)
	s.sendAsync(ctx, outbound{
		recipientID: updated.BurnerID,
		kind:        notificationPermission,
		title:       "Permission request " + strings.ReplaceAll(decision, "_", " "),
		body:        note,
	})
	return permissionPayload(updated, nil), nil
}

func (s *Service) LeavePermissionNote(ctx context.Context, caller identity.Account, permissionID, note string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionNotePermission); err != nil {
		return nil, err
	}
	item, err := s.routedPermission(ctx, caller, permissionID)
	if err != nil {
		return nil, err
	}
	return s.writePermissionNote(ctx, item, note)
}

func (s *Service) writePermissionNote(ctx context.Context, item store.PermissionRequest, note string) (map[string]any, error) {
	note, err := requireText(note, "note")
	if err != nil {
		return nil, err
	}
	ok, err := s.store.UpdatePermissionNote(ctx, item.ID, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Permission request")
	}
	item.LeaderNote = note
	s.indexPermission(item)
	return permissionPayload(item, nil), nil
}

// ReassignPermission points an open request at another approver whose
// jurisdiction covers the request's kiln district and sector.
func (s *Service) ReassignPermission(ctx context.Context, caller identity.Account, permissionID, approverID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionReassignPermission); err != nil {
		return nil, err
	}
	item, err := s.store.GetPermissionRequest(ctx, permissionID)
	if err != nil {
		return nil, lookupError(err, "Permission request")
	}
	if permissionTerminal(item.Status) {
		return nil, stateConflict("INVALID_TRANSITION", "Cannot reassign a request that is "+item.Status, item.Status)
	}
	target, err := s.approverAccount(ctx, approverID)
	if err != nil {
		return nil, err
	}
	if !target.Jurisdiction.Matches(item.KilnDistrict, item.KilnSector) {
		return nil, domainError(http.StatusUnprocessableEntity, KindValidation, "JURISDICTION_MISMATCH",
			"Approver jurisdiction does not cover the request's district and sector", map[string]any{
				"kiln_district":     item.KilnDistrict,
				"kiln_sector":       item.KilnSector,
				"approver_district": target.Jurisdiction.District,
				"approver_sector":   target.Jurisdiction.Sector,
			})
	}
	ok, err := s.store.SetPermissionLeader(ctx, item.ID, target.ID())
	if err != nil {
		return nil, err
	}
	if !ok {
		current, err := s.store.GetPermissionRequest(ctx, item.ID)
		if err != nil {
			return nil, lookupError(err, "Permission request")
		}
		return nil, stateConflict("INVALID_TRANSITION", "Cannot reassign a request that is "+current.Status, current.Status)
	}
	leaderID := target.ID()
	item.LeaderID = &leaderID
	s.indexPermission(item)
	s.sendAsync(ctx, outbound{
		recipientID: leaderID,
		kind:        notificationPermission,
		title:       "Permission request assigned",
		body:        "A permission request for " + item.KilnSiteName + " was assigned to you.",
	})
	return permissionPayload(item, nil), nil
}

// CancelPermission lets the owning operator withdraw a request nobody has
// acted on yet.
func (s *Service) CancelPermission(ctx context.Context, caller identity.Account, permissionID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionCancelPermission); err != nil {
		return nil, err
	}
	item, err := s.store.GetPermissionRequest(ctx, permissionID)
	if err != nil {
		return nil, lookupError(err, "Permission request")
	}
	if item.BurnerID != caller.ID() {
		return nil, forbidden("Permission request belongs to another operator")
	}
	if item.Status != store.PermissionSubmitted {
		return nil, invalidPermissionTransition(item.Status, store.PermissionCancelled)
	}
	ok, err := s.store.TransitionPermission(ctx, item.ID, item.Status, store.PermissionCancelled, item.LeaderNote)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.permissionConflict(ctx, item.ID, store.PermissionCancelled)
	}
	item.Status = store.PermissionCancelled
	s.indexPermission(item)
	return permissionPayload(item, nil), nil
}

func (s *Service) GetPermission(ctx context.Context, caller identity.Account, permissionID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionReadPermission); err != nil {
		return nil, err
	}
	item, err := s.store.GetPermissionRequest(ctx, permissionID)
	if err != nil {
		return nil, lookupError(err, "Permission request")
	}
	if !canSeePermission(caller, item) {
		return nil, forbidden("Permission request is not visible to this account")
	}
	active, err := s.store.ActiveAppointment(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	return permissionPayload(item, active), nil
}

func (s *Service) ListPermissions(ctx context.Context, caller identity.Account, status string, limit int) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionReadPermission); err != nil {
		return nil, err
	}
	filter := store.PermissionFilter{Status: strings.TrimSpace(status), Limit: clampLimit(limit)}
	switch caller.Role() {
	case rbac.RoleOperator:
		filter.BurnerID = caller.ID()
	case rbac.RoleApprover:
		filter.LeaderID = caller.ID()
	}
	items, err := s.store.ListPermissionRequests(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, permissionPayload(item, nil))
	}
	return map[string]any{"permissions": payload}, nil
}

// routedPermission loads a request and checks the caller is its leader.
func (s *Service) routedPermission(ctx context.Context, caller identity.Account, permissionID string) (store.PermissionRequest, error) {
	item, err := s.store.GetPermissionRequest(ctx, permissionID)
	if err != nil {
		return store.PermissionRequest{}, lookupError(err, "Permission request")
	}
	if item.LeaderID == nil || *item.LeaderID != caller.ID() {
		return store.PermissionRequest{}, forbidden("Only the routed approver may act on this request")
	}
	return item, nil
}

func (s *Service) approverAccount(ctx context.Context, approverID string) (identity.Approver, error) {
	record, err := s.store.GetAccount(ctx, strings.TrimSpace(approverID))
	if err != nil {
		return identity.Approver{}, lookupError(err, "Approver")
	}
	account, err := identity.FromRecord(record.ID, record.DisplayName, record.Email, record.Role, record.District, record.Sector)
	if err != nil {
		return identity.Approver{}, notFound("Approver")
	}
	approver, ok := account.(identity.Approver)
	if !ok {
		return identity.Approver{}, notFound("Approver")
	}
	return approver, nil
}

// permissionConflict re-reads after a lost conditional write so the caller
// gets the status that won.
func (s *Service) permissionConflict(ctx context.Context, permissionID, to string) error {
	current, err := s.store.GetPermissionRequest(ctx, permissionID)
	if err != nil {
		return lookupError(err, "Permission request")
	}
	return invalidPermissionTransition(current.Status, to)
}

func invalidPermissionTransition(from, to string) *DomainError {
	return stateConflict("INVALID_TRANSITION", "Cannot move a request that is "+from+" to "+to, from)
}

func canSeePermission(caller identity.Account, item store.PermissionRequest) bool {
	switch caller.Role() {
	case rbac.RoleAdmin:
		return true
	case rbac.RoleOperator:
		return item.BurnerID == caller.ID()
	case rbac.RoleApprover:
		return item.LeaderID != nil && *item.LeaderID == caller.ID()
	default:
		return false
	}
}

func (s *Service) indexPermission(item store.PermissionRequest) {
	if s.search == nil {
		return
	}
	leaderID := ""
	if item.LeaderID != nil {
		leaderID = *item.LeaderID
	}
	s.search.IndexPermission(search.PermissionRecord{
		ID:               item.ID,
		KilnID:           item.KilnID,
		KilnSiteName:     item.KilnSiteName,
		ActivityLocation: item.ActivityLocation,
		Purpose:          item.Purpose,
		KilnDistrict:     item.KilnDistrict,
		KilnSector:       item.KilnSector,
		LeaderNote:       item.LeaderNote,
		Status:           item.Status,
		LeaderID:         leaderID,
		BurnerID:         item.BurnerID,
	})
}

func permissionPayload(item store.PermissionRequest, active *store.Appointment) map[string]any {
	payload := map[string]any{
		"id":                  item.ID,
		"burnerId":            item.BurnerID,
		"kilnId":              item.KilnID,
		"leaderId":            item.LeaderID,
		"kilnDistrict":        item.KilnDistrict,
		"kilnSector":          item.KilnSector,
		"activityLocation":    item.ActivityLocation,
		"kilnSiteName":        item.KilnSiteName,
		"startDate":           item.StartDate,
		"endDate":             item.EndDate,
		"purpose":             item.Purpose,
		"estimatedQuantityKg": item.EstimatedQuantityKg,
		"message":             nilIfEmpty(item.Message),
		"documents": map[string]any{
			"idDocument":      nilIfEmpty(item.IDDocument),
			"landCertificate": nilIfEmpty(item.LandCertificate),
			"coopCertificate": nilIfEmpty(item.CoopCertificate),
			"treeAgeProof":    nilIfEmpty(item.TreeAgeProof),
		},
		"leaderNote": item.LeaderNote,
		"status":     item.Status,
		"createdAt":  item.CreatedAt,
		"decidedAt":  item.DecidedAt,
	}
	if active != nil {
		payload["activeAppointment"] = appointmentPayload(*active)
	}
	return payload
}
