package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsPgUndefinedTableError checks if error is a missing relation, which
// usually means the table prefix does not match the replica
func IsPgUndefinedTableError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 42P01 = undefined_table
		return pgErr.Code == "42P01"
	}
	return false
}

// IsPgPermissionError checks if error is an insufficient privilege error
func IsPgPermissionError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 42501 = insufficient_privilege
		return pgErr.Code == "42501"
	}
	return false
}

// Describe adds a hint to well-known setup errors
func Describe(err error, table string) error {
	switch {
	case IsPgUndefinedTableError(err):
		return fmt.Errorf("table %s does not exist (check TABLE_PREFIX): %w", table, err)
	case IsPgPermissionError(err):
		return fmt.Errorf("no read permission on %s: %w", table, err)
	default:
		return err
	}
}
