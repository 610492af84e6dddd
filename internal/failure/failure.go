// Package failure defines the error taxonomy shared by the stores, the access policy and the
// HTTP layer.
package failure

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates a missing or malformed required field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicate indicates a unique key collision.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidCredentials indicates a username/password mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCaptchaFailed indicates an unknown, expired or mismatched captcha.
	ErrCaptchaFailed = errors.New("captcha failed")
	// ErrUnauthorized indicates a missing or unknown session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates an authenticated user acting outside their role or ownership.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates a missing entity or cross reference.
	ErrNotFound = errors.New("not found")
	// ErrNotEnrolled indicates a student acting on a project outside their roster snapshot.
	ErrNotEnrolled = errors.New("not enrolled")
)

// Error carries a stable operation code alongside the taxonomy kind it belongs to.
type Error struct {
	code  string
	kind  error
	cause error
}

func (e *Error) Error() string {
	switch {
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", e.code, e.cause)
	case e.kind != nil:
		return fmt.Sprintf("%s: %v", e.code, e.kind)
	default:
		return e.code
	}
}

// Unwrap exposes both the kind and the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.cause != nil {
		unwrapped = append(unwrapped, e.cause)
	}
	return unwrapped
}

// Code returns the "<operation>.<reason>" identifier.
func (e *Error) Code() string {
	return e.code
}

// Kind returns the taxonomy sentinel, or nil for internal failures.
func (e *Error) Kind() error {
	return e.kind
}

// New builds a coded failure of the given kind.
func New(operation, reason string, kind error) error {
	return &Error{code: operation + "." + reason, kind: kind}
}

// Wrap builds a coded internal failure around cause, typically a file-system error.
func Wrap(operation, reason string, cause error) error {
	return &Error{code: operation + "." + reason, cause: cause}
}

// CodeOf returns the failure code carried by err, or an empty string.
func CodeOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}
