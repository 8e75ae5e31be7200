package sqlstore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/m-mizutani/goerr/v2"
)

const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
)

func asPgError(err error) (*pgconn.PgError, bool) {
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// wrapWrite wraps a failed write, tagging Postgres failures with their
// SQLSTATE and constraint so they surface in logs.
func wrapWrite(err error, msg string) error {
	if pe, ok := asPgError(err); ok {
		return goerr.Wrap(err, msg,
			goerr.V("sqlstate", pe.Code),
			goerr.V("constraint", pe.ConstraintName),
			goerr.V("unique_violation", pe.Code == uniqueViolationCode),
			goerr.V("foreign_key_violation", pe.Code == foreignKeyViolationCode),
		)
	}
	return goerr.Wrap(err, msg)
}
