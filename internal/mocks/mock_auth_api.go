package mocks

import (
	"context"

	"github.com/you/carebook/domain"
)

// MockAuthAPI implements domain.AuthAPI for testing
type MockAuthAPI struct {
	LoginFunc  func(ctx context.Context, email, password string) (*domain.AuthResult, error)
	LogoutFunc func(ctx context.Context, token string) error
}

// NewMockAuthAPI creates a new MockAuthAPI
func NewMockAuthAPI() *MockAuthAPI {
	return &MockAuthAPI{}
}

// Login implements domain.AuthAPI
func (m *MockAuthAPI) Login(ctx context.Context, email, password string) (*domain.AuthResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, email, password)
	}
	// Default behavior: reject
	return nil, &domain.APIError{Status: 401, Message: "Invalid credentials"}
}

// Logout implements domain.AuthAPI
func (m *MockAuthAPI) Logout(ctx context.Context, token string) error {
	if m.LogoutFunc != nil {
		return m.LogoutFunc(ctx, token)
	}
	return nil
}

// Compile-time interface compliance verification
var _ domain.AuthAPI = (*MockAuthAPI)(nil)
