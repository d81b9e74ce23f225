// Package apperr defines the error taxonomy shared by the engine.
//
// Every failure the engine returns is classified by a Kind so callers
// can map it to an appropriate transport status without string-matching
// messages. Errors wrap an underlying cause where one exists and work
// with errors.Is/errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind int

const (
	// KindUnknown is the zero Kind, used for unclassified errors.
	KindUnknown Kind = iota

	// KindNotFound: a referenced group, settlement, or share is absent.
	KindNotFound

	// KindPermission: the actor is not a group member or settlement party.
	KindPermission

	// KindValidation: bad amount, same-user settlement, unsupported
	// currency, or over-settlement of a share.
	KindValidation

	// KindConversion: a rate lookup failed and no fallback was available.
	KindConversion

	// KindInvalidStateTransition: mutating a terminal settlement.
	KindInvalidStateTransition
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindValidation:
		return "validation"
	case KindConversion:
		return "conversion"
	case KindInvalidStateTransition:
		return "invalid_state_transition"
	default:
		return "unknown"
	}
}

// Error is a classified engine error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two apperr errors by Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NotFound builds a KindNotFound error.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Permission builds a KindPermission error.
func Permission(format string, args ...any) error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

// Validation builds a KindValidation error.
func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Conversion builds a KindConversion error wrapping cause (may be nil).
func Conversion(cause error, format string, args ...any) error {
	return &Error{Kind: KindConversion, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// InvalidStateTransition builds a KindInvalidStateTransition error.
func InvalidStateTransition(format string, args ...any) error {
	return &Error{Kind: KindInvalidStateTransition, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from err, or KindUnknown if err is not an
// engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
