package service

import (
	"errors"
	"fmt"
	"strings"
)

// Kinds of failures returned by the consultation engine. Match with errors.Is.
var (
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrExpertNotFound        = errors.New("expert not found")
	ErrConsultationNotFound  = errors.New("consultation not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrSlotUnavailable       = errors.New("slot unavailable")
	ErrTooEarly              = errors.New("too early")
	ErrTooLate               = errors.New("too late")
	ErrAlreadyReviewed       = errors.New("already reviewed")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrExternalServiceFailed = errors.New("external service failure")
)

// Error carries the kind, the operation that failed and details for the caller.
type Error struct {
	Kind    error
	Op      string
	Message string

	// MinutesRemaining is set for ErrTooEarly.
	MinutesRemaining int

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns the human readable part without the operation prefix.
func (e *Error) Reason() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func invalidArgument(op, format string, args ...any) error {
	return newError(ErrInvalidArgument, op, format, args...)
}

func invalidState(op, format string, args ...any) error {
	return newError(ErrInvalidState, op, format, args...)
}

func unauthorized(op, format string, args ...any) error {
	return newError(ErrUnauthorized, op, format, args...)
}

func slotUnavailable(op, reason string) error {
	return &Error{Kind: ErrSlotUnavailable, Op: op, Message: reason}
}

func tooEarly(op string, minutes int) error {
	return &Error{
		Kind:             ErrTooEarly,
		Op:               op,
		Message:          fmt.Sprintf("consultation can be joined in %d minutes", minutes),
		MinutesRemaining: minutes,
	}
}

// externalFailure wraps a collaborator error with the originating operation.
func externalFailure(op, collaborator string, err error) error {
	return &Error{Kind: ErrExternalServiceFailed, Op: op, Message: collaborator + " call failed", Err: err}
}

// AsError extracts *Error from a chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
