package app

import (
	"context"
	"strings"

	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

type KilnInput struct {
	Name                string   `json:"name"`
	Province            string   `json:"province"`
	District            string   `json:"district"`
	Sector              string   `json:"sector"`
	Cell                string   `json:"cell"`
	Village             string   `json:"village"`
	Latitude            *float64 `json:"latitude"`
	Longitude           *float64 `json:"longitude"`
	LocationDescription string   `json:"locationDescription"`
}

func (in KilnInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationError("name is required")
	}
	if strings.TrimSpace(in.District) == "" || strings.TrimSpace(in.Sector) == "" {
		return validationError("district and sector are required")
	}
	if in.Latitude != nil && (*in.Latitude < -90 || *in.Latitude > 90) {
		return validationError("latitude must be between -90 and 90")
	}
	if in.Longitude != nil && (*in.Longitude < -180 || *in.Longitude > 180) {
		return validationError("longitude must be between -180 and 180")
	}
	return nil
}

func (in KilnInput) apply(kiln *store.Kiln) {
	kiln.Name = strings.TrimSpace(in.Name)
	kiln.Province = strings.TrimSpace(in.Province)
	kiln.District = strings.TrimSpace(in.District)
	kiln.Sector = strings.TrimSpace(in.Sector)
	kiln.Cell = strings.TrimSpace(in.Cell)
	kiln.Village = strings.TrimSpace(in.Village)
	kiln.Latitude = in.Latitude
	kiln.Longitude = in.Longitude
	kiln.LocationDescription = strings.TrimSpace(in.LocationDescription)
}

func (s *Service) CreateKiln(ctx context.Context, caller identity.Account, input KilnInput) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageKiln); err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	kiln := store.Kiln{ID: util.NewID("kiln"), OwnerID: caller.ID(), CreatedAt: s.timestamp()}
	input.apply(&kiln)
	if err := s.store.InsertKiln(ctx, kiln); err != nil {
		return nil, err
	}
	return kilnPayload(kiln), nil
}

func (s *Service) ListKilns(ctx context.Context, caller identity.Account) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionReadTelemetry); err != nil {
		return nil, err
	}
	ownerID := ""
	if caller.Role() == rbac.RoleOperator {
		ownerID = caller.ID()
	}
	kilns, err := s.store.ListKilns(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	jurisdiction, isApprover := identity.JurisdictionOf(caller)
	items := make([]map[string]any, 0, len(kilns))
	for _, kiln := range kilns {
		if isApprover && !jurisdiction.Matches(kiln.District, kiln.Sector) {
			continue
		}
		items = append(items, kilnPayload(kiln))
	}
	return map[string]any{"kilns": items}, nil
}

func (s *Service) GetKiln(ctx context.Context, caller identity.Account, kilnID string) (map[string]any, error) {
	kiln, err := s.readableKiln(ctx, caller, kilnID)
	if err != nil {
		return nil, err
	}
	return kilnPayload(kiln), nil
}

// UpdateKiln changes name and location. Requests already submitted keep the
// district and sector they were routed with.
func (s *Service) UpdateKiln(ctx context.Context, caller identity.Account, kilnID string, input KilnInput) (map[string]any, error) {
	kiln, err := s.ownedKiln(ctx, caller, kilnID)
	if err != nil {
		return nil, err
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	input.apply(&kiln)
	ok, err := s.store.UpdateKiln(ctx, kiln)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Kiln")
	}
	return kilnPayload(kiln), nil
}

func (s *Service) DeleteKiln(ctx context.Context, caller identity.Account, kilnID string) error {
	if _, err := s.ownedKiln(ctx, caller, kilnID); err != nil {
		return err
	}
	ok, err := s.store.DeleteKiln(ctx, kilnID)
	if err != nil {
		return err
	}
	if !ok {
		return stateConflict("KILN_IN_USE", "Kiln is referenced by an active permission request", "in_use")
	}
	return nil
}

func (s *Service) ownedKiln(ctx context.Context, caller identity.Account, kilnID string) (store.Kiln, error) {
	if err := authorize(caller, rbac.ActionManageKiln); err != nil {
		return store.Kiln{}, err
	}
	kiln, err := s.store.GetKiln(ctx, kilnID)
	if err != nil {
		return store.Kiln{}, lookupError(err, "Kiln")
	}
	if kiln.OwnerID != caller.ID() {
		return store.Kiln{}, forbidden("Kiln belongs to another operator")
	}
	return kiln, nil
}

// readableKiln lets operators see their own kilns and approvers see kilns
// whose approved permission is routed to them. Admins see every kiln.
func (s *Service) readableKiln(ctx context.Context, caller identity.Account, kilnID string) (store.Kiln, error) {
	if err := authorize(caller, rbac.ActionReadTelemetry); err != nil {
		return store.Kiln{}, err
	}
	kiln, err := s.store.GetKiln(ctx, kilnID)
	if err != nil {
		return store.Kiln{}, lookupError(err, "Kiln")
	}
	switch caller.Role() {
	case rbac.RoleAdmin:
		return kiln, nil
	case rbac.RoleOperator:
		if kiln.OwnerID == caller.ID() {
			return kiln, nil
		}
	case rbac.RoleApprover:
		if kiln.ApprovedPermissionID != nil {
			permission, err := s.store.GetPermissionRequest(ctx, *kiln.ApprovedPermissionID)
			if err != nil {
				return store.Kiln{}, lookupError(err, "Permission request")
			}
			if permission.LeaderID != nil && *permission.LeaderID == caller.ID() {
				return kiln, nil
			}
		}
	}
	return store.Kiln{}, forbidden("Kiln is not visible to this account")
}

func kilnPayload(kiln store.Kiln) map[string]any {
	return map[string]any{
		"id":                   kiln.ID,
		"ownerId":              kiln.OwnerID,
		"name":                 kiln.Name,
		"province":             kiln.Province,
		"district":             kiln.District,
		"sector":               kiln.Sector,
		"cell":                 kiln.Cell,
		"village":              kiln.Village,
		"latitude":             kiln.Latitude,
		"longitude":            kiln.Longitude,
		"locationDescription":  kiln.LocationDescription,
		"approvedForBurning":   kiln.ApprovedForBurning,
		"approvedPermissionId": kiln.ApprovedPermissionID,
		"createdAt":            kiln.CreatedAt,
	}
}
