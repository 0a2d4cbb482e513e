package monitor

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// ErrorDetail describes one rejected input field.
type ErrorDetail struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
	Hint    string `json:"hint"`
}

// ValidationError carries the per-field details of a rejected request.
type ValidationError struct {
	Message string
	Details []ErrorDetail
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s %s", e.Message, e.Details[0].Field, e.Details[0].Problem)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(message string, details ...ErrorDetail) error {
	return &ValidationError{Message: message, Details: details}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
