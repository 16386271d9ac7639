package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the stores translate into domain errors.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsDuplicate reports a unique or exclusion index conflict.
func IsDuplicate(err error) bool { return sqlState(err) == codeUniqueViolation }

// IsForeignKey reports a reference to a missing row.
func IsForeignKey(err error) bool { return sqlState(err) == codeForeignKeyViolation }

func IsNotFound(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
