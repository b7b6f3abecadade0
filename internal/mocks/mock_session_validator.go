package mocks

import (
	"context"
	"sync/atomic"

	"github.com/you/carebook/domain"
)

// MockSessionValidator implements domain.SessionValidator for testing
type MockSessionValidator struct {
	ValidateFunc func(ctx context.Context) (domain.RawIdentity, error)

	calls atomic.Int32
}

// NewMockSessionValidator creates a new MockSessionValidator
func NewMockSessionValidator() *MockSessionValidator {
	return &MockSessionValidator{}
}

// Calls returns how many validations were issued
func (m *MockSessionValidator) Calls() int {
	return int(m.calls.Load())
}

// Validate implements domain.SessionValidator
func (m *MockSessionValidator) Validate(ctx context.Context) (domain.RawIdentity, error) {
	m.calls.Add(1)
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx)
	}
	// Default behavior: the server does not know the session
	return nil, &domain.APIError{Status: 401, Message: "unauthorized"}
}

// Compile-time interface compliance verification
var _ domain.SessionValidator = (*MockSessionValidator)(nil)
