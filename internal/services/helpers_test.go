package services

import (
	"context"
	"testing"
	"time"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/logger"
	"github.com/you/carebook/internal/mocks"
)

// createValidIdentity creates a well-formed identity for testing
func createValidIdentity(t *testing.T, role domain.Role) domain.Identity {
	t.Helper()

	return domain.Identity{
		ID:        "1",
		FirstName: "A",
		LastName:  "B",
		Email:     "a@b.com",
		Role:      role,
	}
}

// createStoreForTest creates a SessionStore over an in-memory cache
func createStoreForTest(t *testing.T) (*SessionStore, *mocks.MockSessionCache, *mocks.MockAuditLogger) {
	t.Helper()

	cache := mocks.NewMockSessionCache()
	audit := mocks.NewMockAuditLogger()
	store := NewSessionStore(cache, logger.Discard(), WithTokenStore(cache), WithAudit(audit))
	return store, cache, audit
}

// createResolverForTest creates a resolver over a fresh store
func createResolverForTest(t *testing.T, cache *mocks.MockSessionCache, validator *mocks.MockSessionValidator, opts ...ResolverOption) (*SessionResolver, *SessionStore) {
	t.Helper()

	store := NewSessionStore(cache, logger.Discard(), WithTokenStore(cache))
	resolver := NewSessionResolver(store, validator, logger.Discard(), opts...)
	t.Cleanup(resolver.Stop)
	return resolver, store
}

// createTestContext creates a context for testing with timeout
func createTestContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// waitSettled waits for the resolver's current cycle to settle
func waitSettled(t *testing.T, r *SessionResolver) SessionView {
	t.Helper()

	view, err := r.Wait(createTestContext(t))
	if err != nil {
		t.Fatalf("validation did not settle: %v", err)
	}
	return view
}

// testRoutes returns the default navigation surface
func testRoutes() config.Routes {
	return config.DefaultRoutes()
}
