// Package apperror defines the error kinds returned by auth services and their HTTP mapping.
package apperror

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifies a failure. Handlers map kinds to HTTP statuses; services never pick a status themselves.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindInvalidPhone       Kind = "INVALID_PHONE"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindOTPExpired         Kind = "OTP_EXPIRED"
	KindOTPInvalid         Kind = "OTP_INVALID"
	KindOTPMaxAttempts     Kind = "OTP_MAX_ATTEMPTS"
	KindWrongAuthMethod    Kind = "WRONG_AUTH_METHOD"
	KindInvalidCredentials Kind = "INVALID_CREDENTIALS"
	KindWrongUserType      Kind = "WRONG_USER_TYPE"
	KindPhoneNotVerified   Kind = "PHONE_NOT_VERIFIED"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindInvalidResetToken  Kind = "INVALID_RESET_TOKEN"
	KindInvalidResetCode   Kind = "INVALID_RESET_CODE"

	KindUnauthorized         Kind = "UNAUTHORIZED"
	KindTokenExpired         Kind = "TOKEN_EXPIRED"
	KindTokenReusedOrInvalid Kind = "TOKEN_REUSED_OR_INVALID"
	KindTokenMismatch        Kind = "TOKEN_MISMATCH"

	KindAccountInactive    Kind = "ACCOUNT_INACTIVE"
	KindDoctorNotValidated Kind = "DOCTOR_NOT_VALIDATED"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindDeliveryFailed     Kind = "DELIVERY_FAILED"
	KindUnavailable        Kind = "SERVICE_UNAVAILABLE"
	KindInternal           Kind = "INTERNAL"
)

// HTTPStatus returns the response status for the kind. Unknown kinds map to 500.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidPhone, KindRateLimited,
		KindOTPExpired, KindOTPInvalid, KindOTPMaxAttempts,
		KindWrongAuthMethod, KindInvalidCredentials, KindWrongUserType,
		KindPhoneNotVerified, KindAlreadyExists,
		KindInvalidResetToken, KindInvalidResetCode:
		return http.StatusBadRequest
	case KindUnauthorized, KindTokenExpired, KindTokenReusedOrInvalid, KindTokenMismatch:
		return http.StatusUnauthorized
	case KindAccountInactive, KindDoctorNotValidated, KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure with optional structured context.
type Error struct {
	Kind    Kind
	Message string
	// Code overrides Kind as the public error code (e.g. SMS_SEND_FAILED for DELIVERY_FAILED).
	Code string
	// RetryAfter is set for RATE_LIMITED.
	RetryAfter time.Duration
	// Details is extra public context such as the offending field.
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// PublicCode is the code exposed to clients.
func (e *Error) PublicCode() string {
	if e.Code != "" {
		return e.Code
	}
	return string(e.Kind)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *Error) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// New returns an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap returns an Error of the given kind wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// RateLimited returns a RATE_LIMITED error carrying the remaining wait.
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// Field returns a VALIDATION error naming the offending field.
func Field(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: map[string]any{"field": field}}
}

// WithCode sets the public code override and returns e.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a public detail and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified with kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
