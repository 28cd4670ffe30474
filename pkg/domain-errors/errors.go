// Package domainerrors provides coded errors that cross layer boundaries.
//
// Services return these so transports can translate them into HTTP status
// codes without string matching, and tests can assert on the code rather
// than the message. Infrastructure facts (not found, expired, conflict)
// use pkg/platform/sentinel at the store boundary; services translate
// sentinel errors into coded errors here.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error class. The value doubles as the wire-level
// error code in JSON responses, so keep them stable.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// Application lifecycle codes.
	CodeNotAssigned           Code = "not_assigned"
	CodeAlreadyAssigned       Code = "already_assigned"
	CodeIncompleteApplication Code = "incomplete_application"
	CodeInvalidTransition     Code = "invalid_transition"

	// Public verification codes.
	CodeInvalidOTP Code = "invalid_or_expired_otp"

	// CodeCertificateCollision is fatal: the derived certificate number hit
	// the uniqueness constraint. Surfaced distinctly so operators investigate
	// instead of retrying blindly.
	CodeCertificateCollision Code = "certificate_collision"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error with no cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error. The cause stays
// reachable through errors.Is / errors.As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return New(code, message)
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if errors.As(err, &de) {
			if de.Code == code {
				return true
			}
			err = de.cause
			continue
		}
		return false
	}
	return false
}

// Is is an alias of HasCode kept for call-site readability in tests.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Message returns the outermost coded message, or empty when uncoded.
func Message(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}
