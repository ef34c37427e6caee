package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors returned by repositories. Callers should compare with
// errors.Is, never by matching error text.
var (
	// ErrNotFound indicates the requested row does not exist, is
	// soft-deleted, or belongs to a different project.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a caller-supplied value failed validation
	// (e.g. observation content out of the 1..100000 char range).
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a unique constraint violation.
	ErrConflict = errors.New("conflict")

	// ErrVectorUnsupported indicates a vector-dependent operation was
	// attempted while no vector extension is loaded.
	ErrVectorUnsupported = errors.New("vector support unavailable")
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound for consistent handling at call sites.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err (or a wrapped cause) is ErrConflict,
// exported so callers outside the package can branch on it.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err (or a wrapped cause) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
