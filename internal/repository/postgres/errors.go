package postgres

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"uniadmit/internal/common"
)

const (
	uniqueViolation = "23505"
	checkViolation  = "23514"
	fkViolation     = "23503"
)

type scanner interface {
	Scan(dest ...any) error
}

// storeError maps driver errors to the common taxonomy. The message is what the
// caller sees; the driver error stays in the chain.
func storeError(message string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return common.NewError(common.CodeNotFound, message, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return common.NewError(common.CodeConflict, message+": already exists", err)
		case checkViolation, fkViolation:
			return common.NewError(common.CodeValidation, message+": "+pgErr.Message, err)
		}
	}
	return common.NewError(common.CodeInternal, message, err)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time.UTC()
	return &value
}

func nullUUID(id common.UUID) sql.NullString {
	if id.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}
