package usecase

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPendingNotFound indicates there is no pending registration (or challenge) to act on.
	ErrPendingNotFound = errors.New("no pending verification found")
	// ErrOTPExpired indicates the code existed but its window has passed.
	ErrOTPExpired = errors.New("verification code expired")
	// ErrOTPInvalid indicates the submitted code does not match.
	ErrOTPInvalid = errors.New("verification code is invalid")
	// ErrDuplicateAccount indicates an account already exists for the email or mobile.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrResendTooSoon indicates the caller must wait before requesting a new code.
	ErrResendTooSoon = errors.New("code was sent recently")
	// ErrResendLimitReached indicates the pending registration used up its resends.
	ErrResendLimitReached = errors.New("resend limit reached")
	// ErrTooManyAttempts indicates a mobile challenge received too many wrong codes.
	ErrTooManyAttempts = errors.New("too many verification attempts")
	// ErrDelivery indicates a code or notification could not be dispatched.
	ErrDelivery = errors.New("delivery failed")
	// ErrInvalidCredentials indicates the identifier or password are incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidAccessToken indicates the access token is malformed or its signature is wrong.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrExpiredAccessToken indicates the access token has expired.
	ErrExpiredAccessToken = errors.New("access token expired")
)

// FieldError describes one rejected input field using its wire name.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every rejected field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field was rejected.
func (e *ValidationError) Has(field string) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func requiredField(field string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: "is required"}}}
}

// TransportError reports a failed dispatch after state was already committed.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s delivery failed: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

// ResendTooSoonError carries how long the caller must wait.
type ResendTooSoonError struct {
	RetryAfter time.Duration
}

func (e *ResendTooSoonError) Error() string {
	return fmt.Sprintf("%s, retry in %s", ErrResendTooSoon.Error(), e.RetryAfter.Round(time.Second))
}

func (e *ResendTooSoonError) Unwrap() error {
	return ErrResendTooSoon
}
