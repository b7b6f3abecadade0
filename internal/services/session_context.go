package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/telemetry"
)

// SessionContext is everything one user agent needs: its store, the
// resolver that confirms it and the registration flow. Login and Logout
// go through here so an in-flight validation never overrides them.
type SessionContext struct {
	deviceID     string
	store        *SessionStore
	resolver     *SessionResolver
	tokens       domain.TokenStore
	auth         domain.AuthAPI
	registration *RegistrationFlow
	logger       *slog.Logger
}

// SessionSettings tunes every SessionContext a process creates
type SessionSettings struct {
	ValidateTimeout time.Duration
	DegradedRetry   time.Duration
	RevalidateAfter time.Duration
	ResendCooldown  time.Duration
	Routes          config.Routes
}

// SettingsFromConfig extracts the session settings from cfg
func SettingsFromConfig(cfg *config.Config) SessionSettings {
	return SessionSettings{
		ValidateTimeout: cfg.ValidateTimeout,
		DegradedRetry:   cfg.DegradedRetry,
		RevalidateAfter: cfg.RevalidateAfter,
		ResendCooldown:  cfg.OTPResendCooldown,
		Routes:          cfg.Routes,
	}
}

// SessionDeps are the collaborators shared by every SessionContext
type SessionDeps struct {
	Auth         domain.AuthAPI
	Registration domain.RegistrationAPI
	Settings     SessionSettings
	Logger       *slog.Logger
	Audit        domain.AuditLogger
	Metrics      *telemetry.Metrics
}

// NewSessionContext wires a store, resolver and registration flow for
// deviceID over its credential cache and validator
func NewSessionContext(deviceID string, cache domain.CredentialCache, validator domain.SessionValidator, deps SessionDeps) *SessionContext {
	logger := deps.Logger.With("device_id", deviceID)

	store := NewSessionStore(cache, logger,
		WithTokenStore(cache),
		WithAudit(deviceAudit{deviceID: deviceID, next: deps.Audit}),
		WithMetrics(deps.Metrics),
	)
	resolver := NewSessionResolver(store, validator, logger,
		WithValidateTimeout(deps.Settings.ValidateTimeout),
		WithDegradedRetry(deps.Settings.DegradedRetry),
		WithRevalidateAfter(deps.Settings.RevalidateAfter),
		WithResolverAudit(deps.Audit),
		WithResolverMetrics(deps.Metrics),
		WithDeviceID(deviceID),
	)

	var flow *RegistrationFlow
	if deps.Registration != nil {
		flow = NewRegistrationFlow(deps.Registration, deps.Settings.Routes, logger,
			WithResendCooldown(deps.Settings.ResendCooldown),
			WithFlowAudit(deviceAudit{deviceID: deviceID, next: deps.Audit}),
			WithFlowMetrics(deps.Metrics),
		)
	}

	return &SessionContext{
		deviceID:     deviceID,
		store:        store,
		resolver:     resolver,
		tokens:       cache,
		auth:         deps.Auth,
		registration: flow,
		logger:       logger,
	}
}

// DeviceID identifies the user agent this context belongs to
func (sc *SessionContext) DeviceID() string { return sc.deviceID }

// Start mounts the context, see SessionResolver.Start
func (sc *SessionContext) Start(ctx context.Context) { sc.resolver.Start(ctx) }

// View returns the merged session view
func (sc *SessionContext) View() SessionView { return sc.resolver.View() }

// Current returns the store's session, ignoring validation progress
func (sc *SessionContext) Current() domain.Session { return sc.store.Current() }

// Wait blocks until validation settles or ctx is done
func (sc *SessionContext) Wait(ctx context.Context) (SessionView, error) {
	return sc.resolver.Wait(ctx)
}

// State returns the resolver state
func (sc *SessionContext) State() ResolverState { return sc.resolver.State() }

// LastError returns the failure of the last validation cycle
func (sc *SessionContext) LastError() error { return sc.resolver.LastError() }

// Registration returns the device's registration flow
func (sc *SessionContext) Registration() *RegistrationFlow { return sc.registration }

// Login applies an auth result to the store and keeps its token. A user
// payload that cannot be sanitized changes nothing and reports false.
func (sc *SessionContext) Login(ctx context.Context, result *domain.AuthResult) bool {
	if result == nil || !sc.store.Login(ctx, result.User) {
		return false
	}
	if result.AccessToken != "" {
		if err := sc.tokens.WriteToken(ctx, result.AccessToken); err != nil {
			sc.logger.WarnContext(ctx, "failed to persist access token", "error", err)
		}
	}
	sc.resolver.Supersede()
	return true
}

// Authenticate exchanges credentials with the API and logs the result in.
// The returned view is the identity it logged in, even if a concurrent
// Logout has already cleared it again.
func (sc *SessionContext) Authenticate(ctx context.Context, email, password string) (SessionView, error) {
	if sc.auth == nil {
		return sc.View(), fmt.Errorf("authenticate: no auth api configured")
	}
	result, err := sc.auth.Login(ctx, email, password)
	if err != nil {
		switch domain.StatusOf(err) {
		case 400, 401, 403, 404:
			return sc.View(), fmt.Errorf("%w: %w", domain.ErrInvalidCredentials, err)
		}
		return sc.View(), err
	}
	if !sc.Login(ctx, result) {
		return sc.View(), fmt.Errorf("authenticate: %w", domain.ErrMalformedIdentity)
	}
	identity, err := domain.SanitizeIdentity(result.User)
	if err != nil {
		return sc.View(), fmt.Errorf("authenticate: %w", err)
	}
	return SessionView{User: identity, IsAuthenticated: true}, nil
}

// Logout tells the API (best effort) and clears the session locally
func (sc *SessionContext) Logout(ctx context.Context) {
	if token, ok := sc.tokens.ReadToken(ctx); ok && sc.auth != nil {
		if err := sc.auth.Logout(ctx, token); err != nil {
			sc.logger.WarnContext(ctx, "server logout failed", "error", err)
		}
	}
	sc.store.Logout(ctx)
	sc.resolver.Supersede()
	if sc.registration != nil {
		sc.registration.Cancel()
	}
}

// Close unmounts the context
func (sc *SessionContext) Close() {
	sc.resolver.Stop()
}

// deviceAudit stamps the device id on events the store and flow emit
type deviceAudit struct {
	deviceID string
	next     domain.AuditLogger
}

func (d deviceAudit) LogEvent(ctx context.Context, event *domain.AuditEvent) {
	if d.next == nil {
		return
	}
	d.next.LogEvent(ctx, event.WithDevice(d.deviceID))
}

// ContextFactory builds a SessionContext for a device seen for the first time
type ContextFactory func(deviceID string) *SessionContext

// SessionRegistry keeps the live SessionContext of each device. The least
// recently used context is closed when the registry is full.
type SessionRegistry struct {
	contexts *lru.Cache[string, *SessionContext]
	factory  ContextFactory
	metrics  *telemetry.Metrics
}

// NewSessionRegistry creates a registry holding at most size contexts
func NewSessionRegistry(size int, factory ContextFactory, metrics *telemetry.Metrics) (*SessionRegistry, error) {
	r := &SessionRegistry{factory: factory, metrics: metrics}
	contexts, err := lru.NewWithEvict(size, func(_ string, sc *SessionContext) {
		sc.Close()
		r.metrics.ContextClosed()
	})
	if err != nil {
		return nil, fmt.Errorf("create session registry: %w", err)
	}
	r.contexts = contexts
	return r, nil
}

// Get returns the device's context, creating it on first use
func (r *SessionRegistry) Get(deviceID string) *SessionContext {
	if sc, ok := r.contexts.Get(deviceID); ok {
		return sc
	}
	sc := r.factory(deviceID)
	// a concurrent request may have created it first
	if prev, ok, _ := r.contexts.PeekOrAdd(deviceID, sc); ok {
		return prev
	}
	r.metrics.ContextOpened()
	return sc
}

// Len returns the number of live contexts
func (r *SessionRegistry) Len() int { return r.contexts.Len() }

// Close unmounts every context
func (r *SessionRegistry) Close() { r.contexts.Purge() }
