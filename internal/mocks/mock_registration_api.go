package mocks

import (
	"context"
	"sync"

	"github.com/you/carebook/domain"
)

// MockRegistrationAPI implements domain.RegistrationAPI for testing and
// records the requests it received
type MockRegistrationAPI struct {
	SendOTPFunc   func(ctx context.Context, email, phone string) (string, error)
	VerifyOTPFunc func(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error)
	ResendOTPFunc func(ctx context.Context, email string) (string, error)

	mu              sync.Mutex
	SendCalls       int
	VerifyCalls     int
	ResendCalls     int
	LastVerifyEmail string
	LastPayload     *domain.RegistrationPayload
	LastResendEmail string
}

// NewMockRegistrationAPI creates a new MockRegistrationAPI
func NewMockRegistrationAPI() *MockRegistrationAPI {
	return &MockRegistrationAPI{}
}

// SendOTP implements domain.RegistrationAPI
func (m *MockRegistrationAPI) SendOTP(ctx context.Context, email, phone string) (string, error) {
	m.mu.Lock()
	m.SendCalls++
	m.mu.Unlock()
	if m.SendOTPFunc != nil {
		return m.SendOTPFunc(ctx, email, phone)
	}
	return "OTP sent", nil
}

// VerifyOTP implements domain.RegistrationAPI
func (m *MockRegistrationAPI) VerifyOTP(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error) {
	m.mu.Lock()
	m.VerifyCalls++
	m.LastVerifyEmail = email
	p := payload
	m.LastPayload = &p
	m.mu.Unlock()
	if m.VerifyOTPFunc != nil {
		return m.VerifyOTPFunc(ctx, email, otp, payload)
	}
	// Default behavior: accept "123456"
	if otp != "123456" {
		return nil, &domain.APIError{Status: 400, Message: "Invalid OTP"}
	}
	return &domain.AuthResult{Message: "Account created"}, nil
}

// ResendOTP implements domain.RegistrationAPI
func (m *MockRegistrationAPI) ResendOTP(ctx context.Context, email string) (string, error) {
	m.mu.Lock()
	m.ResendCalls++
	m.LastResendEmail = email
	m.mu.Unlock()
	if m.ResendOTPFunc != nil {
		return m.ResendOTPFunc(ctx, email)
	}
	return "OTP resent", nil
}

// Compile-time interface compliance verification
var _ domain.RegistrationAPI = (*MockRegistrationAPI)(nil)
