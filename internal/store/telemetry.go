package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const sensorColumns = `id, kiln_id, sensor_type, serial_number, secret_hash, is_active, installed_at`

func scanSensor(row interface{ Scan(...any) error }) (Sensor, error) {
	var item Sensor
	err := row.Scan(&item.ID, &item.KilnID, &item.SensorType, &item.SerialNumber, &item.SecretHash, &item.IsActive, &item.InstalledAt)
	return item, err
}

func (s *PostgresStore) InsertSensor(ctx context.Context, item Sensor) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO sensors (id, kiln_id, sensor_type, serial_number, secret_hash, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.KilnID, item.SensorType, item.SerialNumber, item.SecretHash, item.IsActive)
	if err != nil {
		return translateError("insert sensor", err)
	}
	return nil
}

func (s *PostgresStore) GetSensor(ctx context.Context, sensorID string) (Sensor, error) {
	return scanSensor(s.conn(ctx).QueryRowContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE id=$1`, sensorID))
}

func (s *PostgresStore) GetSensorBySerial(ctx context.Context, serialNumber string) (Sensor, error) {
	return scanSensor(s.conn(ctx).QueryRowContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE serial_number=$1`, serialNumber))
}

func (s *PostgresStore) ListSensors(ctx context.Context, kilnID string) ([]Sensor, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT `+sensorColumns+` FROM sensors WHERE kiln_id=$1 ORDER BY installed_at ASC`, kilnID)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	defer rows.Close()

	var items []Sensor
	for rows.Next() {
		item, err := scanSensor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpdateSensorSecret(ctx context.Context, sensorID, secretHash string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `UPDATE sensors SET secret_hash=$2 WHERE id=$1`, sensorID, secretHash)
	if err != nil {
		return false, fmt.Errorf("update sensor secret: %w", err)
	}
	return affected(result, "update sensor secret")
}

func (s *PostgresStore) SetSensorActive(ctx context.Context, sensorID string, active bool) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `UPDATE sensors SET is_active=$2 WHERE id=$1`, sensorID, active)
	if err != nil {
		return false, fmt.Errorf("set sensor active: %w", err)
	}
	return affected(result, "set sensor active")
}

func (s *PostgresStore) InsertReading(ctx context.Context, item SensorReading) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO sensor_readings (id, sensor_id, value, unit, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.SensorID, item.Value, item.Unit, item.RecordedAt)
	if err != nil {
		return translateError("insert reading", err)
	}
	return nil
}

// ReadingView joins a reading with its sensor for kiln-level listings.
type ReadingView struct {
	SensorReading
	SensorType   string
	SerialNumber string
}

func (s *PostgresStore) ListReadings(ctx context.Context, kilnID string, limit int) ([]ReadingView, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT r.id, r.sensor_id, r.value, r.unit, r.recorded_at, se.sensor_type, se.serial_number
		FROM sensor_readings r
		JOIN sensors se ON se.id = r.sensor_id
		WHERE se.kiln_id=$1
		ORDER BY r.recorded_at DESC
		LIMIT $2
	`, kilnID, limit)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var items []ReadingView
	for rows.Next() {
		var item ReadingView
		if err := rows.Scan(&item.ID, &item.SensorID, &item.Value, &item.Unit, &item.RecordedAt, &item.SensorType, &item.SerialNumber); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const alertColumns = `id, kiln_id, permission_id, severity, title, message, payload, created_by, created_at`

func scanAlert(row interface{ Scan(...any) error }) (Alert, error) {
	var item Alert
	var permissionID sql.NullString
	var payload []byte
	err := row.Scan(&item.ID, &item.KilnID, &permissionID, &item.Severity, &item.Title, &item.Message, &payload, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Alert{}, err
	}
	if permissionID.Valid {
		item.PermissionID = &permissionID.String
	}
	item.Payload = json.RawMessage(payload)
	return item, nil
}

func (s *PostgresStore) InsertAlert(ctx context.Context, item Alert) error {
	payload := item.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO alerts (id, kiln_id, permission_id, severity, title, message, payload, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
	`, item.ID, item.KilnID, item.PermissionID, item.Severity, item.Title, item.Message, string(payload), item.CreatedBy, item.CreatedAt)
	if err != nil {
		return translateError("insert alert", err)
	}
	return nil
}

func (s *PostgresStore) ListAlerts(ctx context.Context, kilnID string, limit int) ([]Alert, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE kiln_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, kilnID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var items []Alert
	for rows.Next() {
		item, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const notificationColumns = `id, recipient_id, type, title, message, kiln_id, permission_id, alert_id, is_read, created_at`

func scanNotification(row interface{ Scan(...any) error }) (Notification, error) {
	var item Notification
	var kilnID, permissionID, alertID sql.NullString
	err := row.Scan(&item.ID, &item.RecipientID, &item.Type, &item.Title, &item.Message, &kilnID, &permissionID, &alertID, &item.IsRead, &item.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	if kilnID.Valid {
		item.KilnID = &kilnID.String
	}
	if permissionID.Valid {
		item.PermissionID = &permissionID.String
	}
	if alertID.Valid {
		item.AlertID = &alertID.String
	}
	return item, nil
}

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, type, title, message, kiln_id, permission_id, alert_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.RecipientID, item.Type, item.Title, item.Message, item.KilnID, item.PermissionID, item.AlertID)
	if err != nil {
		return translateError("insert notification", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		item, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkNotificationRead only touches rows owned by the recipient.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, recipientID string, isRead bool) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE notifications SET is_read=$3 WHERE id=$1 AND recipient_id=$2
	`, notificationID, recipientID, isRead)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return affected(result, "mark notification read")
}
