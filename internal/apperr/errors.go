// Package apperr defines the error taxonomy shared by all schedhub services.
//
// Errors carry a Kind so the transport layer can map them to status codes and
// callers can distinguish "not found" from "malformed request" without string
// matching. Batch operations report one Error per failed item.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidSchedule
	KindIllegalTransition
	KindInvalidCursor
	KindStorage
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidSchedule:
		return "invalid_schedule_definition"
	case KindIllegalTransition:
		return "illegal_state_transition"
	case KindInvalidCursor:
		return "invalid_cursor"
	case KindStorage:
		return "storage_error"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error // optional cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

func E(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool          { return KindOf(err) == KindNotFound }
func IsInvalidSchedule(err error) bool   { return KindOf(err) == KindInvalidSchedule }
func IsIllegalTransition(err error) bool { return KindOf(err) == KindIllegalTransition }
func IsInvalidCursor(err error) bool     { return KindOf(err) == KindInvalidCursor }
