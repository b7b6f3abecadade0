package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Session errors
var (
	ErrMalformedIdentity = errors.New("malformed identity")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrSessionInvalid    = errors.New("session is no longer valid")
	ErrUnreachable       = errors.New("session server unreachable")
)

// OTP errors
var (
	ErrChallengeNotSent   = errors.New("no otp challenge has been sent")
	ErrChallengeBusy      = errors.New("otp verification already in progress")
	ErrChallengeState     = errors.New("otp challenge is not in a state that allows this action")
	ErrOTPResendTooSoon   = errors.New("otp resend requested too soon")
	ErrOTPCodeRequired    = errors.New("otp code is required")
	ErrVerificationFailed = errors.New("verification failed, please try again")
)

// Request errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation failed")
)

// APIError is a non-2xx answer from the platform API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

// UserMessage returns the server's message or fallback when there is none
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// StatusOf returns the HTTP status carried by err, or 0
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// FailureClass is how a validator failure is interpreted
type FailureClass int

const (
	// FailureInfrastructure covers network errors, 5xx and timeouts. The
	// session is kept.
	FailureInfrastructure FailureClass = iota
	// FailureSessionInvalid means the server rejected the session.
	FailureSessionInvalid
	// FailureCancelled means the caller gave up; the result is discarded.
	FailureCancelled
)

func (c FailureClass) String() string {
	switch c {
	case FailureSessionInvalid:
		return "session_invalid"
	case FailureCancelled:
		return "cancelled"
	default:
		return "infrastructure"
	}
}

// ClassifyFailure maps a validator error to its failure class. Only
// 401, 403 and 404 reject a session.
func ClassifyFailure(err error) FailureClass {
	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}
	if errors.Is(err, ErrSessionInvalid) {
		return FailureSessionInvalid
	}
	switch StatusOf(err) {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return FailureSessionInvalid
	}
	return FailureInfrastructure
}

// FieldErrors holds per-field form validation messages
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation
func (f FieldErrors) Unwrap() error { return ErrValidation }
