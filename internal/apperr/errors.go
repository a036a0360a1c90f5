// Package apperr holds the error taxonomy shared by the scheduling core.
// Callers match with errors.Is; the wrapped message says which rule failed.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation                = errors.New("validation failed")
	ErrNotFound                  = errors.New("not found")
	ErrForbidden                 = errors.New("forbidden")
	ErrSlotUnavailable           = errors.New("slot unavailable")
	ErrPastSlot                  = errors.New("slot is in the past")
	ErrCancellationWindowExpired = errors.New("cancellation window expired")
	ErrInvalidTransition         = errors.New("invalid status transition")
)

// Retryable reports whether err belongs to the transient class: the caller
// may try again with the same or another candidate slot.
func Retryable(err error) bool {
	return errors.Is(err, ErrSlotUnavailable)
}

// FieldError is a single violated rule.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError collects every rule an input violated.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a violation. Reasons are formatted with fmt.Sprintf.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// Merge copies the violations of other under the given field prefix.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	if other == nil {
		return
	}
	for _, f := range other.Fields {
		field := f.Field
		if prefix != "" {
			field = prefix + "." + field
		}
		e.Fields = append(e.Fields, FieldError{Field: field, Reason: f.Reason})
	}
}

// Err returns nil when nothing was recorded, so it can be returned directly.
func (e *ValidationError) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Invalid builds a ValidationError with one violation.
func Invalid(field, format string, args ...any) error {
	v := &ValidationError{}
	v.Add(field, format, args...)
	return v
}

// FieldsOf extracts the field violations of err, if any.
func FieldsOf(err error) []FieldError {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Fields
	}
	return nil
}

// Known reports whether err belongs to the taxonomy above, as opposed to
// an infrastructure failure.
func Known(err error) bool {
	for _, target := range []error{
		ErrValidation, ErrNotFound, ErrForbidden, ErrSlotUnavailable,
		ErrPastSlot, ErrCancellationWindowExpired, ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
