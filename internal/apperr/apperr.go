// Package apperr classifies errors by kind rather than by type, so every
// boundary (REST handlers, real-time error frames) can map a failure to a
// stable status code without caring which package produced it.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-readable error classification.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindRateLimited    Kind = "rate_limited"
	KindTransient      Kind = "transient"
	KindFatal          Kind = "fatal"
)

// Error wraps an underlying cause with a Kind, a stable machine-readable
// Code and a human message safe to surface to clients.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is comparisons against a sentinel built with the same
// Kind and Code (Cause and Message are ignored for matching purposes).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

func WithDetail(err *Error, detail string) *Error {
	out := *err
	out.Detail = detail
	return &out
}

// KindOf returns the Kind of err, or KindTransient if err does not carry
// one — an unclassified error from a dependency is treated as transient
// rather than silently surfaced as a 500 with no retry semantics.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func Authentication(code, message string) *Error { return New(KindAuthentication, code, message) }
func Authorization(code, message string) *Error  { return New(KindAuthorization, code, message) }
func Validation(code, message string) *Error     { return New(KindValidation, code, message) }
func NotFound(code, message string) *Error       { return New(KindNotFound, code, message) }
func Conflict(code, message string) *Error       { return New(KindConflict, code, message) }
func RateLimited(code, message string) *Error    { return New(KindRateLimited, code, message) }
func Transient(code, message string, cause error) *Error {
	return Wrap(KindTransient, code, message, cause)
}
func Fatal(code, message string, cause error) *Error {
	return Wrap(KindFatal, code, message, cause)
}

// Common sentinel codes referenced across packages.
const (
	CodeUsernameTaken      = "username_taken"
	CodeEmailTaken         = "email_taken"
	CodeWeakPassword       = "weak_password"
	CodeInvalidCredentials = "invalid_credentials"
	CodeDisabled           = "disabled"
	CodeStaleSession       = "stale_session"
	CodeNameConflict       = "name_conflict"
	CodeInvalidDimensions  = "invalid_dimensions"
	CodeVersionConflict    = "version_conflict"
	CodeInvitationSpent    = "invitation_spent"
	CodeInvitationExpired  = "invitation_expired"
	CodeTargetsOwner       = "targets_owner"
	CodeSlowConsumer       = "slow_consumer"
)
