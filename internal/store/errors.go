package store

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the storage engine. Callers match with
// errors.Is; every failure is reported, never swallowed, and the engine
// never retries on its own (a silent retry could violate at-most-once
// Add semantics).
var (
	// ErrAlreadyExists is returned by Add (and per-record import) when
	// the identifier is already present.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrNotFound is returned by Get, Update and Delete when the
	// identifier is missing, so callers can detect lost updates.
	ErrNotFound = errors.New("record not found")

	// ErrTransactionAborted wraps an underlying storage failure
	// mid-commit. The transaction rolled back; no partial write is
	// observable.
	ErrTransactionAborted = errors.New("transaction aborted")

	// ErrConflicted is returned when a remote write diverges from local
	// state and cannot be fast-forwarded.
	ErrConflicted = errors.New("conflicting versions")
)

// ValidationCode categorizes validation failures.
type ValidationCode string

const (
	// CodeMissingRequiredField indicates a required field is empty.
	CodeMissingRequiredField ValidationCode = "MISSING_REQUIRED_FIELD"

	// CodeInvalidEnumValue indicates a field holds a value outside its
	// closed set (layer, consent kind, ...).
	CodeInvalidEnumValue ValidationCode = "INVALID_ENUM_VALUE"

	// CodeDanglingReference indicates a reference to a record that does
	// not exist (threadId, identityAxisId, thread members).
	CodeDanglingReference ValidationCode = "DANGLING_REFERENCE"

	// CodeConstraintViolation covers every other invariant breach, such
	// as duplicate thread members.
	CodeConstraintViolation ValidationCode = "CONSTRAINT_VIOLATION"
)

// ValidationError describes why an entity was rejected before any write
// committed. Validation is pure; a ValidationError means the store was
// not touched.
type ValidationError struct {
	Code    ValidationCode
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// abortErr tags a driver/commit failure with ErrTransactionAborted while
// preserving the underlying cause for logs.
func abortErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrTransactionAborted, err)
}
