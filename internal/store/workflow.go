package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const permissionColumns = `id, burner_id, kiln_id, leader_id, kiln_district, kiln_sector,
	activity_location, kiln_site_name, to_char(start_date, 'YYYY-MM-DD'), to_char(end_date, 'YYYY-MM-DD'),
	purpose, estimated_quantity_kg, message, id_document, land_certificate, coop_certificate, tree_age_proof,
	leader_note, status, created_at, decided_at`

func scanPermission(row interface{ Scan(...any) error }) (PermissionRequest, error) {
	var item PermissionRequest
	var leaderID sql.NullString
	var decidedAt sql.NullTime
	err := row.Scan(
		&item.ID, &item.BurnerID, &item.KilnID, &leaderID, &item.KilnDistrict, &item.KilnSector,
		&item.ActivityLocation, &item.KilnSiteName, &item.StartDate, &item.EndDate,
		&item.Purpose, &item.EstimatedQuantityKg, &item.Message, &item.IDDocument, &item.LandCertificate,
		&item.CoopCertificate, &item.TreeAgeProof, &item.LeaderNote, &item.Status, &item.CreatedAt, &decidedAt,
	)
	if err != nil {
		return PermissionRequest{}, err
	}
	if leaderID.Valid {
		item.LeaderID = &leaderID.String
	}
	if decidedAt.Valid {
		item.DecidedAt = &decidedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) InsertPermissionRequest(ctx context.Context, item PermissionRequest) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO permission_requests (
			id, burner_id, kiln_id, leader_id, kiln_district, kiln_sector, activity_location, kiln_site_name,
			start_date, end_date, purpose, estimated_quantity_kg, message,
			id_document, land_certificate, coop_certificate, tree_age_proof, status
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10::date, $11, $12, $13, $14, $15, $16, $17, $18)
	`, item.ID, item.BurnerID, item.KilnID, item.LeaderID, item.KilnDistrict, item.KilnSector,
		item.ActivityLocation, item.KilnSiteName, item.StartDate, item.EndDate, item.Purpose,
		item.EstimatedQuantityKg, item.Message, item.IDDocument, item.LandCertificate, item.CoopCertificate,
		item.TreeAgeProof, item.Status)
	if err != nil {
		return translateError("insert permission request", err)
	}
	return nil
}

func (s *PostgresStore) GetPermissionRequest(ctx context.Context, permissionID string) (PermissionRequest, error) {
	return scanPermission(s.conn(ctx).QueryRowContext(ctx, `SELECT `+permissionColumns+` FROM permission_requests WHERE id=$1`, permissionID))
}

func (s *PostgresStore) DeletePermissionRequest(ctx context.Context, permissionID string) error {
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM permission_requests WHERE id=$1`, permissionID); err != nil {
		return fmt.Errorf("delete permission request: %w", err)
	}
	return nil
}

// SetPermissionLeader routes an open request to an approver. It reports false
// when the request is missing or already terminal.
func (s *PostgresStore) SetPermissionLeader(ctx context.Context, permissionID, leaderID string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE permission_requests SET leader_id=$2
		WHERE id=$1 AND status IN ('submitted', 'appointment_required')
	`, permissionID, leaderID)
	if err != nil {
		return false, fmt.Errorf("set permission leader: %w", err)
	}
	return affected(result, "set permission leader")
}

// TransitionPermission moves a request from one status to another only if it
// is still in the expected status. decided_at is stamped the first time the
// request reaches approved or rejected.
func (s *PostgresStore) TransitionPermission(ctx context.Context, permissionID, from, to, note string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE permission_requests
		SET status=$3,
			leader_note=$4,
			decided_at=CASE WHEN $3 IN ('approved', 'rejected') THEN COALESCE(decided_at, NOW()) ELSE decided_at END
		WHERE id=$1 AND status=$2
	`, permissionID, from, to, note)
	if err != nil {
		return false, fmt.Errorf("transition permission: %w", err)
	}
	return affected(result, "transition permission")
}

func (s *PostgresStore) UpdatePermissionNote(ctx context.Context, permissionID, note string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `UPDATE permission_requests SET leader_note=$2 WHERE id=$1`, permissionID, note)
	if err != nil {
		return false, fmt.Errorf("update permission note: %w", err)
	}
	return affected(result, "update permission note")
}

func (s *PostgresStore) ListPermissionRequests(ctx context.Context, filter PermissionFilter) ([]PermissionRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.BurnerID != "" {
		args = append(args, filter.BurnerID)
		where = append(where, fmt.Sprintf("burner_id = $%d", len(args)))
	}
	if filter.LeaderID != "" {
		args = append(args, filter.LeaderID)
		where = append(where, fmt.Sprintf("leader_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	args = append(args, limit)

	query := `SELECT ` + permissionColumns + ` FROM permission_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list permission requests: %w", err)
	}
	defer rows.Close()

	var items []PermissionRequest
	for rows.Next() {
		item, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission request: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const appointmentColumns = `id, permission_id, leader_id, burner_id, to_char(appointment_date, 'YYYY-MM-DD'),
	to_char(appointment_time, 'HH24:MI'), purpose, status, created_at`

func scanAppointment(row interface{ Scan(...any) error }) (Appointment, error) {
	var item Appointment
	err := row.Scan(&item.ID, &item.PermissionID, &item.LeaderID, &item.BurnerID, &item.Date, &item.Time,
		&item.Purpose, &item.Status, &item.CreatedAt)
	return item, err
}

func (s *PostgresStore) InsertAppointment(ctx context.Context, item Appointment) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO appointments (id, permission_id, leader_id, burner_id, appointment_date, appointment_time, purpose, status)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, $7, $8)
	`, item.ID, item.PermissionID, item.LeaderID, item.BurnerID, item.Date, item.Time, item.Purpose, item.Status)
	if err != nil {
		return translateError("insert appointment", err)
	}
	return nil
}

func (s *PostgresStore) GetAppointment(ctx context.Context, appointmentID string) (Appointment, error) {
	return scanAppointment(s.conn(ctx).QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id=$1`, appointmentID))
}

// ActiveAppointment returns the most recent non-terminal appointment for a
// permission, or nil when there is none.
func (s *PostgresStore) ActiveAppointment(ctx context.Context, permissionID string) (*Appointment, error) {
	item, err := scanAppointment(s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE permission_id=$1 AND status IN ('pending', 'approved')
		ORDER BY created_at DESC
		LIMIT 1
	`, permissionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active appointment: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) TransitionAppointment(ctx context.Context, appointmentID, from, to string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `UPDATE appointments SET status=$3 WHERE id=$1 AND status=$2`, appointmentID, from, to)
	if err != nil {
		return false, fmt.Errorf("transition appointment: %w", err)
	}
	return affected(result, "transition appointment")
}

// MoveAppointment overwrites the slot of a non-terminal appointment.
func (s *PostgresStore) MoveAppointment(ctx context.Context, appointmentID, date, clock string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE appointments
		SET appointment_date=$2::date, appointment_time=$3::time
		WHERE id=$1 AND status IN ('pending', 'approved')
	`, appointmentID, date, clock)
	if err != nil {
		return false, fmt.Errorf("move appointment: %w", err)
	}
	return affected(result, "move appointment")
}

const rescheduleColumns = `id, appointment_id, burner_id, leader_id, to_char(requested_date, 'YYYY-MM-DD'),
	to_char(requested_time, 'HH24:MI'), message, status, created_at, resolved_at`

func scanReschedule(row interface{ Scan(...any) error }) (Reschedule, error) {
	var item Reschedule
	var resolvedAt sql.NullTime
	err := row.Scan(&item.ID, &item.AppointmentID, &item.BurnerID, &item.LeaderID, &item.RequestedDate,
		&item.RequestedTime, &item.Message, &item.Status, &item.CreatedAt, &resolvedAt)
	if err != nil {
		return Reschedule{}, err
	}
	if resolvedAt.Valid {
		item.ResolvedAt = &resolvedAt.Time
	}
	return item, nil
}

func (s *PostgresStore) InsertReschedule(ctx context.Context, item Reschedule) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO appointment_reschedules (id, appointment_id, burner_id, leader_id, requested_date, requested_time, message, status)
		VALUES ($1, $2, $3, $4, $5::date, $6::time, $7, $8)
	`, item.ID, item.AppointmentID, item.BurnerID, item.LeaderID, item.RequestedDate, item.RequestedTime, item.Message, item.Status)
	if err != nil {
		return translateError("insert reschedule", err)
	}
	return nil
}

func (s *PostgresStore) GetReschedule(ctx context.Context, rescheduleID string) (Reschedule, error) {
	return scanReschedule(s.conn(ctx).QueryRowContext(ctx, `SELECT `+rescheduleColumns+` FROM appointment_reschedules WHERE id=$1`, rescheduleID))
}

func (s *PostgresStore) ListReschedules(ctx context.Context, appointmentID string) ([]Reschedule, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+rescheduleColumns+`
		FROM appointment_reschedules
		WHERE appointment_id=$1
		ORDER BY created_at DESC
	`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list reschedules: %w", err)
	}
	defer rows.Close()

	var items []Reschedule
	for rows.Next() {
		item, err := scanReschedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reschedule: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ResolveReschedule leaves pending exactly once. resolved_at is stamped for
// accepted and rejected only.
func (s *PostgresStore) ResolveReschedule(ctx context.Context, rescheduleID, to, message string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE appointment_reschedules
		SET status=$2,
			message=$3,
			resolved_at=CASE WHEN $2 IN ('accepted', 'rejected') THEN NOW() ELSE resolved_at END
		WHERE id=$1 AND status='pending'
	`, rescheduleID, to, message)
	if err != nil {
		return false, fmt.Errorf("resolve reschedule: %w", err)
	}
	return affected(result, "resolve reschedule")
}
