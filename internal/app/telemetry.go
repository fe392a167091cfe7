package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"kilnguard/api/internal/auth"
	"kilnguard/api/internal/identity"
	"kilnguard/api/internal/search"
	"kilnguard/api/internal/store"
	"kilnguard/api/internal/util"
)

const (
	severityWarning  = "warning"
	severityCritical = "critical"

	alertTitle       = "Emission threshold exceeded"
	alertOwnerTitle  = "Kiln emission alert"
	alertLeaderTitle = "Kiln emission alert (leader)"
)

// thresholdRule fires when a reading from one of its sensor types exceeds
// the limit.
type thresholdRule struct {
	sensorTypes []string
	limit       float64
	severity    string
	message     func(sensorType, value string) string
}

var thresholdRules = []thresholdRule{
	{
		sensorTypes: []string{"smoke", "pm25"},
		limit:       150,
		severity:    severityCritical,
		message:     func(sensorType, value string) string { return "High " + sensorType + " detected: " + value },
	},
	{
		sensorTypes: []string{"co2"},
		limit:       1500,
		severity:    severityWarning,
		message:     func(_, value string) string { return "High CO2 detected: " + value },
	},
}

type triggeredRule struct {
	severity string
	message  string
}

func evaluateThresholds(sensorType string, value float64) []triggeredRule {
	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	var fired []triggeredRule
	for _, rule := range thresholdRules {
		if value <= rule.limit {
			continue
		}
		for _, candidate := range rule.sensorTypes {
			if candidate == sensorType {
				fired = append(fired, triggeredRule{severity: rule.severity, message: rule.message(sensorType, formatted)})
				break
			}
		}
	}
	return fired
}

type ReadingInput struct {
	SerialNumber string   `json:"serialNumber"`
	APIKey       string   `json:"apiKey"`
	Value        *float64 `json:"value"`
	Unit         string   `json:"unit"`
}

// IngestReading authenticates a device, stores its reading and raises one
// alert per triggered threshold rule. Reading, alerts and notification rows
// commit together; outbound delivery runs after commit and never fails the
// call.
func (s *Service) IngestReading(ctx context.Context, input ReadingInput) (map[string]any, error) {
	serial := strings.TrimSpace(input.SerialNumber)
	sensor, err := s.store.GetSensorBySerial(ctx, serial)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil || !sensor.IsActive {
		auth.SecretMatches("", input.APIKey)
		return nil, invalidCredentials()
	}
	if !auth.SecretMatches(sensor.SecretHash, input.APIKey) {
		return nil, invalidCredentials()
	}
	if input.Value == nil {
		return nil, validationError("value is required")
	}

	kiln, err := s.store.GetKiln(ctx, sensor.KilnID)
	if err != nil {
		return nil, lookupError(err, "Kiln")
	}
	if !kiln.ApprovedForBurning {
		return nil, stateConflict("KILN_NOT_APPROVED", "Kiln is not approved for burning", "not_approved")
	}

	var leaderID string
	if kiln.ApprovedPermissionID != nil {
		permission, err := s.store.GetPermissionRequest(ctx, *kiln.ApprovedPermissionID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		if err == nil && permission.LeaderID != nil {
			leaderID = *permission.LeaderID
		}
	}

	now := s.timestamp()
	value := *input.Value
	unit := strings.TrimSpace(input.Unit)
	reading := store.SensorReading{
		ID:         util.NewID("read"),
		SensorID:   sensor.ID,
		Value:      value,
		Unit:       unit,
		RecordedAt: now,
	}

	fired := evaluateThresholds(sensor.SensorType, value)
	alerts := make([]store.Alert, 0, len(fired))
	var deliveries []outbound
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.InsertReading(ctx, reading); err != nil {
			return err
		}
		for _, rule := range fired {
			payload, err := json.Marshal(map[string]any{
				"sensor_type": sensor.SensorType,
				"value":       value,
				"unit":        nilIfEmpty(unit),
			})
			if err != nil {
				return err
			}
			alert := store.Alert{
				ID:           util.NewID("alert"),
				KilnID:       kiln.ID,
				PermissionID: kiln.ApprovedPermissionID,
				Severity:     rule.severity,
				Title:        alertTitle,
				Message:      rule.message,
				Payload:      payload,
				CreatedBy:    "system",
				CreatedAt:    now,
			}
			if err := s.store.InsertAlert(ctx, alert); err != nil {
				return err
			}
			alerts = append(alerts, alert)

			recipients := []outbound{{recipientID: kiln.OwnerID, kind: notificationAlert, title: alertOwnerTitle, body: rule.message}}
			if leaderID != "" {
				recipients = append(recipients, outbound{recipientID: leaderID, kind: notificationAlert, title: alertLeaderTitle, body: rule.message})
			}
			for _, recipient := range recipients {
				kilnID, alertID := kiln.ID, alert.ID
				if err := s.store.InsertNotification(ctx, store.Notification{
					ID:           util.NewID("notif"),
					RecipientID:  recipient.recipientID,
					Type:         notificationAlert,
					Title:        recipient.title,
					Message:      recipient.body,
					KilnID:       &kilnID,
					PermissionID: kiln.ApprovedPermissionID,
					AlertID:      &alertID,
					CreatedAt:    now,
				}); err != nil {
					return err
				}
			}
			deliveries = append(deliveries, recipients...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deliverAll(ctx, deliveries)
	s.indexAlerts(alerts, leaderID)

	alertPayloads := make([]map[string]any, 0, len(alerts))
	for _, alert := range alerts {
		alertPayloads = append(alertPayloads, alertPayload(alert))
	}
	return map[string]any{
		"message":   "Reading saved.",
		"readingId": reading.ID,
		"alerts":    alertPayloads,
	}, nil
}

// deliverAll fans out committed alert messages in parallel. Each send is
// bounded by the notify timeout and failures are only logged.
func (s *Service) deliverAll(ctx context.Context, deliveries []outbound) {
	if len(deliveries) == 0 {
		return
	}
	var group errgroup.Group
	group.SetLimit(maxParallelDeliveries)
	for _, msg := range deliveries {
		group.Go(func() error {
			s.send(ctx, msg)
			return nil
		})
	}
	_ = group.Wait()
}

const maxParallelDeliveries = 8

func (s *Service) indexAlerts(alerts []store.Alert, leaderID string) {
	if s.search == nil || len(alerts) == 0 {
		return
	}
	records := make([]search.AlertRecord, 0, len(alerts))
	for _, alert := range alerts {
		records = append(records, search.AlertRecord{
			ID:       alert.ID,
			KilnID:   alert.KilnID,
			Title:    alert.Title,
			Message:  alert.Message,
			Severity: alert.Severity,
			LeaderID: leaderID,
		})
	}
	s.search.IndexAlerts(records)
}

func (s *Service) ListReadings(ctx context.Context, caller identity.Account, kilnID string, limit int) (map[string]any, error) {
	kiln, err := s.readableKiln(ctx, caller, kilnID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListReadings(ctx, kiln.ID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, map[string]any{
			"id":           item.ID,
			"sensorId":     item.SensorID,
			"sensorType":   item.SensorType,
			"serialNumber": item.SerialNumber,
			"value":        item.Value,
			"unit":         nilIfEmpty(item.Unit),
			"recordedAt":   item.RecordedAt,
		})
	}
	return map[string]any{"kilnId": kiln.ID, "readings": payload}, nil
}

func (s *Service) ListAlerts(ctx context.Context, caller identity.Account, kilnID string, limit int) (map[string]any, error) {
	kiln, err := s.readableKiln(ctx, caller, kilnID)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListAlerts(ctx, kiln.ID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload = append(payload, alertPayload(item))
	}
	return map[string]any{"kilnId": kiln.ID, "alerts": payload}, nil
}

func alertPayload(item store.Alert) map[string]any {
	return map[string]any{
		"id":           item.ID,
		"kilnId":       item.KilnID,
		"permissionId": item.PermissionID,
		"severity":     item.Severity,
		"title":        item.Title,
		"message":      item.Message,
		"payload":      item.Payload,
		"createdBy":    item.CreatedBy,
		"createdAt":    item.CreatedAt,
	}
}
