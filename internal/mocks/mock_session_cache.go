package mocks

import (
	"context"
	"sync"

	"github.com/you/carebook/domain"
)

// MockSessionCache implements domain.CredentialCache in memory. Each
// method can be overridden through its Func field.
type MockSessionCache struct {
	ReadFunc       func(ctx context.Context) *domain.Identity
	WriteFunc      func(ctx context.Context, identity domain.Identity) error
	ClearFunc      func(ctx context.Context) error
	ReadTokenFunc  func(ctx context.Context) (string, bool)
	WriteTokenFunc func(ctx context.Context, token string) error
	ClearTokenFunc func(ctx context.Context) error

	mu        sync.Mutex
	identity  *domain.Identity
	token     string
	readCalls int
}

// NewMockSessionCache creates an empty in-memory cache
func NewMockSessionCache() *MockSessionCache {
	return &MockSessionCache{}
}

// Seed stores an identity as if a previous process had written it
func (m *MockSessionCache) Seed(identity domain.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = &identity
}

// Stored returns the cached identity without counting as a Read
func (m *MockSessionCache) Stored() *domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return nil
	}
	cp := *m.identity
	return &cp
}

// StoredToken returns the cached token without counting as a read
func (m *MockSessionCache) StoredToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// ReadCalls returns how many times Read was called
func (m *MockSessionCache) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// Read implements domain.SessionCache
func (m *MockSessionCache) Read(ctx context.Context) *domain.Identity {
	m.mu.Lock()
	m.readCalls++
	m.mu.Unlock()
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx)
	}
	return m.Stored()
}

// Write implements domain.SessionCache
func (m *MockSessionCache) Write(ctx context.Context, identity domain.Identity) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, identity)
	}
	m.Seed(identity)
	return nil
}

// Clear implements domain.SessionCache
func (m *MockSessionCache) Clear(ctx context.Context) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = nil
	return nil
}

// ReadToken implements domain.TokenStore
func (m *MockSessionCache) ReadToken(ctx context.Context) (string, bool) {
	if m.ReadTokenFunc != nil {
		return m.ReadTokenFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.token != ""
}

// WriteToken implements domain.TokenStore
func (m *MockSessionCache) WriteToken(ctx context.Context, token string) error {
	if m.WriteTokenFunc != nil {
		return m.WriteTokenFunc(ctx, token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// ClearToken implements domain.TokenStore
func (m *MockSessionCache) ClearToken(ctx context.Context) error {
	if m.ClearTokenFunc != nil {
		return m.ClearTokenFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}

// Compile-time interface compliance verification
var _ domain.CredentialCache = (*MockSessionCache)(nil)
