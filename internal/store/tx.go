package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

type txKey struct{}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction bound to ctx, or the pool.
func (s *PostgresStore) conn(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn inside a transaction carried on the context. Store calls
// made with that context join the transaction. Nested calls reuse the outer
// transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ErrDuplicate is matched by every DuplicateError.
var ErrDuplicate = errors.New("duplicate key")

// DuplicateError reports a unique constraint violation.
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate key violates %s", e.Constraint)
}

func (e *DuplicateError) Unwrap() error {
	return ErrDuplicate
}

const (
	ConstraintApproverJurisdiction = "accounts_approver_jurisdiction_key"
	ConstraintSensorSerial         = "sensors_serial_number_key"
)

func translateError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &DuplicateError{Constraint: pgErr.ConstraintName}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func affected(result sql.Result, op string) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows affected: %w", op, err)
	}
	return rows > 0, nil
}
