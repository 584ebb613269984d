package errs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common sentinel errors for cross-layer signaling.
var (
	ErrNotFound  = errors.New("not_found")
	ErrConflict  = errors.New("conflict")
	ErrInvalid   = errors.New("invalid")
	ErrImmutable = errors.New("immutable")
	// ErrTransient marks failures that are safe to retry from the start of a unit of work.
	ErrTransient = errors.New("transient")

	// Ledger integrity. These are never retried.
	ErrUnbalancedGroup  = errors.New("unbalanced_group")
	ErrCurrencyMismatch = errors.New("currency_mismatch")
	ErrSignMismatch     = errors.New("sign_mismatch")
	ErrBalanceMismatch  = errors.New("balance_mismatch")
	ErrAlreadyRefunded  = errors.New("already_refunded")
)

// Postgres SQLSTATE codes that indicate a unit of work can be replayed.
const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// IsUniqueViolation reports whether err came from a unique constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// IsRetryable reports whether the whole unit of work may be replayed.
// Integrity errors are never retryable even when wrapped together with a transient cause.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsIntegrity(err) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return true
		}
	}
	return false
}

// IsIntegrity reports data-integrity failures.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrUnbalancedGroup) ||
		errors.Is(err, ErrBalanceMismatch) ||
		errors.Is(err, ErrSignMismatch) ||
		errors.Is(err, ErrCurrencyMismatch)
}
