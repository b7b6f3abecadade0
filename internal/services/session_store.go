package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/telemetry"
)

// SessionStore is the single live truth for one user agent's session.
// Only Login and Logout (and their conditional forms) mutate it, and only
// they touch the cache. Transitions are decided under mu; cache I/O runs
// under io so readers never wait on the cache.
type SessionStore struct {
	cache   domain.SessionCache
	tokens  domain.TokenStore
	logger  *slog.Logger
	audit   domain.AuditLogger
	metrics *telemetry.Metrics

	io sync.Mutex

	mu       sync.RWMutex
	session  domain.Session
	hydrated bool
	version  uint64
}

// SessionStoreOption configures a SessionStore
type SessionStoreOption func(*SessionStore)

// WithTokenStore lets Logout wipe the held access token as well
func WithTokenStore(tokens domain.TokenStore) SessionStoreOption {
	return func(s *SessionStore) { s.tokens = tokens }
}

// WithAudit routes store events to an audit logger
func WithAudit(audit domain.AuditLogger) SessionStoreOption {
	return func(s *SessionStore) { s.audit = audit }
}

// WithMetrics records store activity
func WithMetrics(m *telemetry.Metrics) SessionStoreOption {
	return func(s *SessionStore) { s.metrics = m }
}

// NewSessionStore creates an empty store backed by cache
func NewSessionStore(cache domain.SessionCache, logger *slog.Logger, opts ...SessionStoreOption) *SessionStore {
	s := &SessionStore{cache: cache, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hydrate seeds the store from the cache. The cache is only a cold-start
// hint: it is read at most once per store, and never after a write.
func (s *SessionStore) Hydrate(ctx context.Context) {
	s.mu.RLock()
	done := s.hydrated
	s.mu.RUnlock()
	if done {
		return
	}

	identity := s.cache.Read(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydrated {
		return
	}
	s.hydrated = true
	if identity != nil {
		s.session = domain.NewSession(identity)
	}
}

// Login sanitizes raw and, if it yields a well-formed identity, makes it
// the current session and persists it. A payload that cannot be sanitized
// leaves the store untouched. Reports whether the update was applied.
func (s *SessionStore) Login(ctx context.Context, raw domain.RawIdentity) bool {
	identity, err := s.sanitize(ctx, raw)
	if err != nil {
		return false
	}
	s.apply(ctx, nil, *identity)
	return true
}

// LoginIf is Login applied only while the store is still at version, so a
// Login or Logout made in between wins. It reports whether the identity
// was applied; a payload that cannot be sanitized is returned as an error.
func (s *SessionStore) LoginIf(ctx context.Context, version uint64, raw domain.RawIdentity) (bool, error) {
	identity, err := s.sanitize(ctx, raw)
	if err != nil {
		return false, err
	}
	return s.apply(ctx, &version, *identity), nil
}

// LoginIdentity is Login for an already typed identity
func (s *SessionStore) LoginIdentity(ctx context.Context, identity domain.Identity) bool {
	return s.Login(ctx, domain.RawFromIdentity(identity))
}

func (s *SessionStore) sanitize(ctx context.Context, raw domain.RawIdentity) (*domain.Identity, error) {
	identity, err := domain.SanitizeIdentity(raw)
	if err != nil {
		s.logger.DebugContext(ctx, "login payload dropped", "error", err)
		s.metrics.Login(false)
		s.emit(ctx, domain.NewAuditEvent(domain.SessionLoginDropped).WithError(err))
		return nil, err
	}
	return identity, nil
}

func (s *SessionStore) apply(ctx context.Context, expect *uint64, identity domain.Identity) bool {
	version, _, ok := s.transition(expect, domain.NewSession(&identity))
	if !ok {
		return false
	}

	s.persist(version, func() {
		// persistence failure only loses the identity for the next reload
		if err := s.cache.Write(ctx, identity); err != nil {
			s.logger.WarnContext(ctx, "failed to persist session", "user_id", identity.ID, "error", err)
		}
	})
	s.metrics.Login(true)
	s.emit(ctx, domain.NewAuditEvent(domain.SessionLoginEvent).WithIdentity(&identity))
	return true
}

// Logout clears the session, the cache and the access token. It never fails.
func (s *SessionStore) Logout(ctx context.Context) {
	s.clear(ctx, nil)
}

// LogoutIf is Logout applied only while the store is still at version. It
// returns the identity it cleared and whether it applied.
func (s *SessionStore) LogoutIf(ctx context.Context, version uint64) (*domain.Identity, bool) {
	return s.clear(ctx, &version)
}

func (s *SessionStore) clear(ctx context.Context, expect *uint64) (*domain.Identity, bool) {
	version, prev, ok := s.transition(expect, domain.Session{})
	if !ok {
		return nil, false
	}

	s.persist(version, func() {
		if err := s.cache.Clear(ctx); err != nil {
			s.logger.WarnContext(ctx, "failed to clear session cache", "error", err)
		}
		if s.tokens != nil {
			if err := s.tokens.ClearToken(ctx); err != nil {
				s.logger.WarnContext(ctx, "failed to clear access token", "error", err)
			}
		}
	})
	s.emit(ctx, domain.NewAuditEvent(domain.SessionLogoutEvent).WithIdentity(prev))
	return prev, true
}

// transition swaps in next unless expect is set and the store has moved
// past it. It returns the new version and the identity it replaced.
func (s *SessionStore) transition(expect *uint64, next domain.Session) (uint64, *domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expect != nil && s.version != *expect {
		return s.version, nil, false
	}
	prev := s.session.Identity
	s.session = next
	s.hydrated = true
	s.version++
	return s.version, prev, true
}

// persist runs write unless a later transition already owns the cache
func (s *SessionStore) persist(version uint64, write func()) {
	s.io.Lock()
	defer s.io.Unlock()
	if s.Version() != version {
		return
	}
	write()
}

// Current returns a copy of the session
func (s *SessionStore) Current() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.NewSession(s.session.Identity)
}

// Version increases on every Login and Logout
func (s *SessionStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *SessionStore) emit(ctx context.Context, event *domain.AuditEvent) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, event)
	}
}
