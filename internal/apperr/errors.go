package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotAuthorized       = errors.New("not authorized")
	ErrInvalidToken        = errors.New("invalid invitation token")
	ErrInvitationsDisabled = errors.New("invitations are disabled for this group")
	ErrInvalidTarget       = errors.New("peer is not a member of the group")
	ErrNotFound            = errors.New("not found")
	ErrTransientIO         = errors.New("transient io failure")
	ErrValidation          = errors.New("validation error")
)

// Kind codes used on the wire. The client maps them back to the sentinels above.
const (
	CodeNotAuthorized       = "not_authorized"
	CodeInvalidToken        = "invalid_token"
	CodeInvitationsDisabled = "invitations_disabled"
	CodeInvalidTarget       = "invalid_target"
	CodeNotFound            = "not_found"
	CodeTransientIO         = "transient_io"
	CodeValidation          = "validation_error"
)

var kinds = []struct {
	err    error
	code   string
	status int
}{
	{ErrNotAuthorized, CodeNotAuthorized, http.StatusForbidden},
	{ErrInvalidToken, CodeInvalidToken, http.StatusNotFound},
	{ErrInvitationsDisabled, CodeInvitationsDisabled, http.StatusForbidden},
	{ErrInvalidTarget, CodeInvalidTarget, http.StatusUnprocessableEntity},
	{ErrNotFound, CodeNotFound, http.StatusNotFound},
	{ErrTransientIO, CodeTransientIO, http.StatusServiceUnavailable},
	{ErrValidation, CodeValidation, http.StatusBadRequest},
}

type transientError struct {
	cause error
}

func (e *transientError) Error() string {
	return fmt.Sprintf("%s: %v", ErrTransientIO, e.cause)
}

func (e *transientError) Is(target error) bool {
	return target == ErrTransientIO
}

func (e *transientError) Unwrap() error {
	return e.cause
}

// Transient marks err as a retryable store or feed failure. Errors that already
// belong to the taxonomy are returned unchanged.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if Code(err) != "" {
		return err
	}
	return &transientError{cause: err}
}

// Validation returns an ErrValidation carrying a field specific message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Code reports the wire code of err, or "" when err is outside the taxonomy.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return ""
}

// HTTPStatus maps err to a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}

// FromCode is the inverse of Code. An unknown code yields nil.
func FromCode(code string) error {
	for _, k := range kinds {
		if k.code == code {
			return k.err
		}
	}
	return nil
}

// Retryable reports whether an explicit retry of the failed action may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

// Message is the text safe to show a caller. Store and driver causes are
// never exposed.
func Message(err error) string {
	switch HTTPStatus(err) {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	}
	return err.Error()
}
