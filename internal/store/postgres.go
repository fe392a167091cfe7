package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const accountColumns = `id, display_name, email, role, district, sector, created_at`

func scanAccount(row interface{ Scan(...any) error }) (Account, error) {
	var account Account
	err := row.Scan(&account.ID, &account.DisplayName, &account.Email, &account.Role, &account.District, &account.Sector, &account.CreatedAt)
	return account, err
}

func (s *PostgresStore) InsertAccount(ctx context.Context, account Account) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO accounts (id, display_name, email, role, district, sector)
		VALUES ($1, $2, $3, $4, BTRIM($5), BTRIM($6))
	`, account.ID, account.DisplayName, account.Email, account.Role, account.District, account.Sector)
	if err != nil {
		return translateError("insert account", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	return scanAccount(s.conn(ctx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, accountID))
}

func (s *PostgresStore) ListAccounts(ctx context.Context, role string) ([]Account, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE ($1 = '' OR role = $1)
		ORDER BY created_at ASC
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// FindApproverByJurisdiction returns sql.ErrNoRows when no approver covers
// the district and sector.
func (s *PostgresStore) FindApproverByJurisdiction(ctx context.Context, district, sector string) (Account, error) {
	account, err := scanAccount(s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE role = 'approver'
			AND LOWER(BTRIM(district)) = LOWER(BTRIM($1))
			AND LOWER(BTRIM(sector)) = LOWER(BTRIM($2))
		ORDER BY created_at ASC
		LIMIT 1
	`, district, sector))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, err
		}
		return Account{}, fmt.Errorf("find approver: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) UpdateApproverJurisdiction(ctx context.Context, accountID, district, sector string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE accounts
		SET district=BTRIM($2), sector=BTRIM($3)
		WHERE id=$1 AND role='approver'
	`, accountID, district, sector)
	if err != nil {
		return false, translateError("update approver jurisdiction", err)
	}
	return affected(result, "update approver jurisdiction")
}

const kilnColumns = `id, owner_id, name, province, district, sector, cell, village, latitude, longitude,
	location_description, approved_for_burning, approved_permission_id, created_at`

func scanKiln(row interface{ Scan(...any) error }) (Kiln, error) {
	var kiln Kiln
	var latitude, longitude sql.NullFloat64
	var approvedPermission sql.NullString
	err := row.Scan(
		&kiln.ID, &kiln.OwnerID, &kiln.Name, &kiln.Province, &kiln.District, &kiln.Sector,
		&kiln.Cell, &kiln.Village, &latitude, &longitude, &kiln.LocationDescription,
		&kiln.ApprovedForBurning, &approvedPermission, &kiln.CreatedAt,
	)
	if err != nil {
		return Kiln{}, err
	}
	if latitude.Valid {
		kiln.Latitude = &latitude.Float64
	}
	if longitude.Valid {
		kiln.Longitude = &longitude.Float64
	}
	if approvedPermission.Valid {
		kiln.ApprovedPermissionID = &approvedPermission.String
	}
	return kiln, nil
}

func (s *PostgresStore) InsertKiln(ctx context.Context, kiln Kiln) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO kilns (id, owner_id, name, province, district, sector, cell, village, latitude, longitude, location_description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, kiln.ID, kiln.OwnerID, kiln.Name, kiln.Province, kiln.District, kiln.Sector, kiln.Cell, kiln.Village,
		kiln.Latitude, kiln.Longitude, kiln.LocationDescription)
	if err != nil {
		return translateError("insert kiln", err)
	}
	return nil
}

func (s *PostgresStore) GetKiln(ctx context.Context, kilnID string) (Kiln, error) {
	return scanKiln(s.conn(ctx).QueryRowContext(ctx, `SELECT `+kilnColumns+` FROM kilns WHERE id=$1`, kilnID))
}

// ListKilns lists kilns for an owner, or every kiln when ownerID is empty.
func (s *PostgresStore) ListKilns(ctx context.Context, ownerID string) ([]Kiln, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+kilnColumns+`
		FROM kilns
		WHERE ($1 = '' OR owner_id = $1)
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list kilns: %w", err)
	}
	defer rows.Close()

	var kilns []Kiln
	for rows.Next() {
		kiln, err := scanKiln(rows)
		if err != nil {
			return nil, fmt.Errorf("scan kiln: %w", err)
		}
		kilns = append(kilns, kiln)
	}
	return kilns, rows.Err()
}

func (s *PostgresStore) UpdateKiln(ctx context.Context, kiln Kiln) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE kilns
		SET name=$2, province=$3, district=$4, sector=$5, cell=$6, village=$7,
			latitude=$8, longitude=$9, location_description=$10
		WHERE id=$1
	`, kiln.ID, kiln.Name, kiln.Province, kiln.District, kiln.Sector, kiln.Cell, kiln.Village,
		kiln.Latitude, kiln.Longitude, kiln.LocationDescription)
	if err != nil {
		return false, fmt.Errorf("update kiln: %w", err)
	}
	return affected(result, "update kiln")
}

// DeleteKiln removes a kiln unless a submitted or appointment_required
// permission still references it.
func (s *PostgresStore) DeleteKiln(ctx context.Context, kilnID string) (bool, error) {
	result, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM kilns
		WHERE id=$1
			AND NOT EXISTS (
				SELECT 1 FROM permission_requests
				WHERE kiln_id=$1 AND status IN ('submitted', 'appointment_required')
			)
	`, kilnID)
	if err != nil {
		return false, fmt.Errorf("delete kiln: %w", err)
	}
	return affected(result, "delete kiln")
}

// MarkKilnApproved is idempotent. A later approved permission replaces the
// linked one.
func (s *PostgresStore) MarkKilnApproved(ctx context.Context, kilnID, permissionID string) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE kilns
		SET approved_for_burning=TRUE, approved_permission_id=$2
		WHERE id=$1
	`, kilnID, permissionID)
	if err != nil {
		return fmt.Errorf("mark kiln approved: %w", err)
	}
	return nil
}
