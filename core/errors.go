package core

import "github.com/pkg/errors"

// FieldError names an input field and what is wrong with it, as shown to API clients.
type FieldError struct {
	Field string
	Error string
}

// ValidationError rejects caller input. The API answers it with 400 and the per field messages.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func (err ValidationError) Unwrap() error { return err.Err }

// shutdownError is returned when the process can no longer serve, e.g. its database schema is behind.
type shutdownError struct {
	reason string
}

// NewShutdownError reports a condition that only a restart or a migration fixes.
// The API stops accepting requests once it sees one.
func NewShutdownError(reason string) error {
	return &shutdownError{reason: reason}
}

func (s *shutdownError) Error() string {
	return s.reason
}

// IsShutdown reports whether err, or any error it wraps, asks the process to stop.
func IsShutdown(err error) bool {
	var s *shutdownError
	return errors.As(err, &s)
}
