package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by single-entity fetches when nothing matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict signals a lost update: the row changed between read and
	// write.
	ErrConflict = errors.New("concurrent modification")
	// ErrDuplicate reports a uniqueness guard hit: the idempotency key or
	// the (template, occurrence date) pair already exists.
	ErrDuplicate = errors.New("duplicate key")
)

// ValidationError reports malformed input at the call that introduced it.
// It is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Msg
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Msg)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
