package errutil

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Classify decides the Kind of a raw store error. It is a pure function: the
// same error always classifies the same way, so callers can unit-test retry
// policy without a live store.
func Classify(err error) Kind {
	if err == nil {
		return KindPermanentStore
	}

	var e Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransientStore
	}

	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, gorm.ErrInvalidData),
		errors.Is(err, gorm.ErrInvalidValue):
		return KindPermanentStore
	case errors.Is(err, gorm.ErrInvalidTransaction):
		return KindTransientStore
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	// Connection-level failures surface as plain net errors from the driver.
	return KindTransientStore
}

// classifySQLState buckets Postgres SQLSTATE codes by class. Classes 08
// (connection), 40 (rollback), 53 (resources), 57 (operator intervention) and
// 58 (system) are worth retrying; everything else is a statement-level fault
// that a retry cannot fix.
func classifySQLState(code string) Kind {
	if len(code) < 2 {
		return KindPermanentStore
	}
	switch code[:2] {
	case "08", "40", "53", "57", "58":
		return KindTransientStore
	default:
		return KindPermanentStore
	}
}

// ClassifyStore wraps a raw store error into the taxonomy, preserving the
// SQLSTATE as the code when one is present.
func ClassifyStore(msg string, err error) error {
	if err == nil {
		return nil
	}

	code := ""
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code = pgErr.Code
	}

	return New(Classify(err), msg, WithErr(err), WithCode(code))
}
