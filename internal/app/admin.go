package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"kilnguard/api/internal/auth"
	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/rbac"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

type AccountInput struct {
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Role        string `json:"role"`
	District    string `json:"district"`
	Sector      string `json:"sector"`
}

// CreateAccount registers an account. Approvers need a jurisdiction no other
// approver covers.
func (s *Service) CreateAccount(ctx context.Context, caller identity.Account, input AccountInput) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageAccounts); err != nil {
		return nil, err
	}
	name, err := requireText(input.DisplayName, "displayName")
	if err != nil {
		return nil, err
	}
	role := rbac.Normalize(strings.ToLower(strings.TrimSpace(input.Role)))
	if role == "" {
		return nil, validationError("role must be one of operator, approver, admin")
	}
	account := store.Account{
		ID:          util.NewID("acct"),
		DisplayName: name,
		Email:       strings.TrimSpace(input.Email),
		Role:        string(role),
		CreatedAt:   s.timestamp(),
	}
	if role == rbac.RoleApprover {
		jurisdiction := identity.Jurisdiction{District: strings.TrimSpace(input.District), Sector: strings.TrimSpace(input.Sector)}
		if jurisdiction.Empty() {
			return nil, validationError("district and sector are required for approvers")
		}
		if err := s.ensureJurisdictionFree(ctx, "", jurisdiction); err != nil {
			return nil, err
		}
		account.District = jurisdiction.District
		account.Sector = jurisdiction.Sector
	}
	if err := s.store.InsertAccount(ctx, account); err != nil {
		return nil, translateDuplicate(err)
	}
	return accountPayload(account), nil
}

func (s *Service) ListAccounts(ctx context.Context, caller identity.Account, role string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageAccounts); err != nil {
		return nil, err
	}
	accounts, err := s.store.ListAccounts(ctx, strings.TrimSpace(role))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		items = append(items, accountPayload(account))
	}
	return map[string]any{"accounts": items}, nil
}

// UpdateApproverJurisdiction moves an approver to another jurisdiction.
// Requests already routed to the approver keep their leader.
func (s *Service) UpdateApproverJurisdiction(ctx context.Context, caller identity.Account, approverID, district, sector string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageAccounts); err != nil {
		return nil, err
	}
	approver, err := s.approverAccount(ctx, approverID)
	if err != nil {
		return nil, err
	}
	jurisdiction := identity.Jurisdiction{District: strings.TrimSpace(district), Sector: strings.TrimSpace(sector)}
	if jurisdiction.Empty() {
		return nil, validationError("district and sector are required")
	}
	if err := s.ensureJurisdictionFree(ctx, approver.ID(), jurisdiction); err != nil {
		return nil, err
	}
	ok, err := s.store.UpdateApproverJurisdiction(ctx, approver.ID(), jurisdiction.District, jurisdiction.Sector)
	if err != nil {
		return nil, translateDuplicate(err)
	}
	if !ok {
		return nil, notFound("Approver")
	}
	return accountPayload(store.Account{
		ID:          approver.ID(),
		DisplayName: approver.Name(),
		Email:       approver.Email,
		Role:        string(rbac.RoleApprover),
		District:    jurisdiction.District,
		Sector:      jurisdiction.Sector,
	}), nil
}

// ensureJurisdictionFree fails when an approver other than selfID already
// covers the jurisdiction. The unique index catches concurrent writers.
func (s *Service) ensureJurisdictionFree(ctx context.Context, selfID string, jurisdiction identity.Jurisdiction) error {
	existing, err := s.store.FindApproverByJurisdiction(ctx, jurisdiction.District, jurisdiction.Sector)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == selfID {
		return nil
	}
	return jurisdictionTaken(jurisdiction)
}

func jurisdictionTaken(jurisdiction identity.Jurisdiction) *DomainError {
	return domainError(http.StatusConflict, KindStateConflict, "JURISDICTION_TAKEN",
		"Another approver already covers this district and sector", map[string]any{
			"district": jurisdiction.District,
			"sector":   jurisdiction.Sector,
		})
}

func translateDuplicate(err error) error {
	var duplicate *store.DuplicateError
	if !errors.As(err, &duplicate) {
		return err
	}
	switch duplicate.Constraint {
	case store.ConstraintApproverJurisdiction:
		return domainError(http.StatusConflict, KindStateConflict, "JURISDICTION_TAKEN",
			"Another approver already covers this district and sector", nil)
	case store.ConstraintSensorSerial:
		return domainError(http.StatusConflict, KindStateConflict, "SERIAL_TAKEN",
			"A sensor with this serial number already exists", nil)
	default:
		return domainError(http.StatusConflict, KindStateConflict, "DUPLICATE", "Resource already exists", nil)
	}
}

func accountPayload(account store.Account) map[string]any {
	payload := map[string]any{
		"id":          account.ID,
		"displayName": account.DisplayName,
		"email":       account.Email,
		"role":        account.Role,
		"createdAt":   account.CreatedAt,
	}
	if account.Role == string(rbac.RoleApprover) {
		payload["jurisdiction"] = map[string]any{"district": account.District, "sector": account.Sector}
	}
	return payload
}

var sensorTypes = map[string]struct{}{
	"smoke":       {},
	"co2":         {},
	"pm25":        {},
	"temperature": {},
	"humidity":    {},
}

type SensorInput struct {
	KilnID       string `json:"kilnId"`
	SensorType   string `json:"sensorType"`
	SerialNumber string `json:"serialNumber"`
	IsActive     *bool  `json:"isActive"`
}

// CreateSensor registers a device. The returned apiKey is never shown again.
func (s *Service) CreateSensor(ctx context.Context, caller identity.Account, input SensorInput) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageSensors); err != nil {
		return nil, err
	}
	serial, err := requireText(input.SerialNumber, "serialNumber")
	if err != nil {
		return nil, err
	}
	sensorType := strings.ToLower(strings.TrimSpace(input.SensorType))
	if _, ok := sensorTypes[sensorType]; !ok {
		return nil, validationError("sensorType must be one of smoke, co2, pm25, temperature, humidity")
	}
	kiln, err := s.store.GetKiln(ctx, strings.TrimSpace(input.KilnID))
	if err != nil {
		return nil, lookupError(err, "Kiln")
	}

	secret := util.NewSecret()
	sensor := store.Sensor{
		ID:           util.NewID("sensor"),
		KilnID:       kiln.ID,
		SensorType:   sensorType,
		SerialNumber: serial,
		SecretHash:   auth.HashSecret(secret),
		IsActive:     input.IsActive == nil || *input.IsActive,
		InstalledAt:  s.timestamp(),
	}
	if err := s.store.InsertSensor(ctx, sensor); err != nil {
		return nil, translateDuplicate(err)
	}
	payload := sensorPayload(sensor)
	payload["apiKey"] = secret
	return payload, nil
}

func (s *Service) ListSensors(ctx context.Context, caller identity.Account, kilnID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageSensors); err != nil {
		return nil, err
	}
	sensors, err := s.store.ListSensors(ctx, strings.TrimSpace(kilnID))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sensors))
	for _, sensor := range sensors {
		items = append(items, sensorPayload(sensor))
	}
	return map[string]any{"sensors": items}, nil
}

// RotateSensorSecret replaces the device credential and returns the new one
// once.
func (s *Service) RotateSensorSecret(ctx context.Context, caller identity.Account, sensorID string) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageSensors); err != nil {
		return nil, err
	}
	sensor, err := s.store.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, lookupError(err, "Sensor")
	}
	secret := util.NewSecret()
	ok, err := s.store.UpdateSensorSecret(ctx, sensor.ID, auth.HashSecret(secret))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Sensor")
	}
	payload := sensorPayload(sensor)
	payload["apiKey"] = secret
	return payload, nil
}

func (s *Service) SetSensorActive(ctx context.Context, caller identity.Account, sensorID string, active bool) (map[string]any, error) {
	if err := authorize(caller, rbac.ActionManageSensors); err != nil {
		return nil, err
	}
	sensor, err := s.store.GetSensor(ctx, sensorID)
	if err != nil {
		return nil, lookupError(err, "Sensor")
	}
	ok, err := s.store.SetSensorActive(ctx, sensor.ID, active)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Sensor")
	}
	sensor.IsActive = active
	return sensorPayload(sensor), nil
}

func sensorPayload(sensor store.Sensor) map[string]any {
	return map[string]any{
		"id":           sensor.ID,
		"kilnId":       sensor.KilnID,
		"sensorType":   sensor.SensorType,
		"serialNumber": sensor.SerialNumber,
		"isActive":     sensor.IsActive,
		"installedAt":  sensor.InstalledAt,
	}
}
