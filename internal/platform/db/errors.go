package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/clinicbill/internal/platform/apperr"
)

// PostgreSQL error codes translated by TranslateError.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeRaiseException       = "P0001"
)

// RecordLockedHint is the HINT raised by the clinical entry trigger when a
// write targets a locked medical record.
const RecordLockedHint = "record_locked"

// TranslateError maps pgx errors onto the apperr taxonomy. what describes the
// failed operation and becomes the message.
func TranslateError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Wrap(apperr.KindNotFound, err, "%s: not found", what)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return apperr.Wrap(apperr.KindAlreadyExists, err, "%s: already exists", what)
		case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return apperr.Wrap(apperr.KindConcurrentModification, err, "%s: row is being modified concurrently", what)
		case codeRaiseException:
			if pgErr.Hint == RecordLockedHint {
				return apperr.Wrap(apperr.KindRecordLocked, err, "%s: medical record is locked", what)
			}
		}
	}
	return err
}
