// Package errs defines the error kinds shared by the card and transfer services.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers can react without parsing messages.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindCodec
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindCodec:
		return "codec"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is a classified error. Two errors match under errors.Is when the
// target is a bare sentinel of the same kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Sentinels for errors.Is.
var (
	ErrInternal          = &Error{Kind: KindInternal}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrAuthentication    = &Error{Kind: KindAuthentication}
	ErrAuthorization     = &Error{Kind: KindAuthorization}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds}
	ErrCodec             = &Error{Kind: KindCodec}
	ErrTransient         = &Error{Kind: KindTransient}
)

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Authentication(msg string) error {
	return &Error{Kind: KindAuthentication, Msg: msg}
}

func Authorization(msg string) error {
	return &Error{Kind: KindAuthorization, Msg: msg}
}

// NotFound reports a missing resource, e.g. NotFound("card", 42).
func NotFound(resource string, id any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s not found with id: %v", resource, id)}
}

func Conflict(msg string) error {
	return &Error{Kind: KindConflict, Msg: msg}
}

func InsufficientFunds(msg string) error {
	return &Error{Kind: KindInsufficientFunds, Msg: msg}
}

func Codec(msg string, err error) error {
	return &Error{Kind: KindCodec, Msg: msg, Err: err}
}

func Transient(msg string, err error) error {
	return &Error{Kind: KindTransient, Msg: msg, Err: err}
}

// KindOf returns the kind of the first classified error in the chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
