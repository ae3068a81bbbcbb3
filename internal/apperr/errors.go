// Package apperr defines the error kinds shared by the services and the HTTP layer.
package apperr

import "errors"

var (
	ErrValidation   = errors.New("validation")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrStorage      = errors.New("storage")
)

// Error is an error of a given kind carrying a message safe to show to clients.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New returns an error of the given kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap returns an error of the given kind caused by err.
func Wrap(kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// Message returns the client-facing message of err, or fallback if err
// does not carry one.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}
