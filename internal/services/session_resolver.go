package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/telemetry"
)

// DefaultValidateTimeout bounds a validation cycle when none is configured
const DefaultValidateTimeout = 10 * time.Second

// DefaultDegradedRetry is how long a degraded session is trusted before
// Start checks it with the server again
const DefaultDegradedRetry = 10 * time.Second

// ResolverState is the position of the resolver in its validation cycle
type ResolverState int

const (
	// StateBootstrapping: no candidate identity, nothing to validate
	StateBootstrapping ResolverState = iota
	// StateValidating: a local identity exists and the server check is in flight
	StateValidating
	// StateConfirmed: the server confirmed the session
	StateConfirmed
	// StateRejected: the server rejected the session and it was cleared
	StateRejected
	// StateDegraded: the server could not be reached; the local identity is trusted
	StateDegraded
)

func (s ResolverState) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateValidating:
		return "validating"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	case StateDegraded:
		return "degraded"
	}
	return "unknown"
}

// SessionView is what guards and pages read
type SessionView struct {
	User            *domain.Identity `json:"user"`
	IsAuthenticated bool             `json:"isAuthenticated"`
	IsValidating    bool             `json:"isValidating"`
}

// cycleSignal is closed once when a validation cycle settles or is abandoned
type cycleSignal struct {
	done chan struct{}
	once sync.Once
}

func newCycleSignal() *cycleSignal { return &cycleSignal{done: make(chan struct{})} }

func settledSignal() *cycleSignal {
	s := newCycleSignal()
	s.close()
	return s
}

func (s *cycleSignal) close() { s.once.Do(func() { close(s.done) }) }

// SessionResolver merges the store with the server's verdict on the
// session. It is the only place validator failures are classified:
// session-semantics failures log the user out, infrastructure failures
// leave the session alone.
type SessionResolver struct {
	store     *SessionStore
	validator domain.SessionValidator
	timeout   time.Duration
	retry     time.Duration
	recheck   time.Duration
	now       func() time.Time
	logger    *slog.Logger
	audit     domain.AuditLogger
	metrics   *telemetry.Metrics
	deviceID  string
	mount     singleflight.Group

	mu        sync.Mutex
	mounted   bool
	state     ResolverState
	settledAt time.Time
	cycle     uint64
	signal    *cycleSignal
	cancel    context.CancelFunc
	lastErr   error
}

// ResolverOption configures a SessionResolver
type ResolverOption func(*SessionResolver)

// WithValidateTimeout bounds each validation cycle
func WithValidateTimeout(d time.Duration) ResolverOption {
	return func(r *SessionResolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithDegradedRetry sets how long a degraded session waits before Start
// validates it again. Zero retries on every Start.
func WithDegradedRetry(d time.Duration) ResolverOption {
	return func(r *SessionResolver) {
		if d >= 0 {
			r.retry = d
		}
	}
}

// WithRevalidateAfter makes Start validate a confirmed session again once
// it is older than d. Zero never revalidates.
func WithRevalidateAfter(d time.Duration) ResolverOption {
	return func(r *SessionResolver) {
		if d >= 0 {
			r.recheck = d
		}
	}
}

// WithResolverAudit routes resolver outcomes to an audit logger
func WithResolverAudit(audit domain.AuditLogger) ResolverOption {
	return func(r *SessionResolver) { r.audit = audit }
}

// WithResolverMetrics counts validation outcomes
func WithResolverMetrics(m *telemetry.Metrics) ResolverOption {
	return func(r *SessionResolver) { r.metrics = m }
}

// WithDeviceID tags resolver logs and events with a device id
func WithDeviceID(id string) ResolverOption {
	return func(r *SessionResolver) { r.deviceID = id }
}

// NewSessionResolver creates a resolver over store and validator
func NewSessionResolver(store *SessionStore, validator domain.SessionValidator, logger *slog.Logger, opts ...ResolverOption) *SessionResolver {
	r := &SessionResolver{
		store:     store,
		validator: validator,
		timeout:   DefaultValidateTimeout,
		retry:     DefaultDegradedRetry,
		now:       time.Now,
		logger:    logger,
		signal:    settledSignal(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start mounts the resolver: it hydrates the store and, when a candidate
// identity exists, launches a validation cycle. On a mounted resolver
// Start only validates again when the last verdict is due: a degraded
// session after the retry delay, a confirmed one after the revalidation
// interval. Concurrent callers return once the first has hydrated.
// Without a candidate identity the validator is never called.
func (r *SessionResolver) Start(ctx context.Context) {
	r.mount.Do("mount", func() (any, error) {
		r.mu.Lock()
		due := !r.mounted || r.dueLocked()
		r.mounted = true
		r.mu.Unlock()
		if due {
			r.begin(ctx)
		}
		return nil, nil
	})
}

func (r *SessionResolver) dueLocked() bool {
	age := r.now().Sub(r.settledAt)
	switch r.state {
	case StateDegraded:
		return age >= r.retry
	case StateConfirmed:
		return r.recheck > 0 && age >= r.recheck
	}
	return false
}

// Invalidate abandons any in-flight cycle and starts a fresh one
func (r *SessionResolver) Invalidate(ctx context.Context) {
	r.begin(ctx)
}

func (r *SessionResolver) begin(ctx context.Context) {
	r.store.Hydrate(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.mounted = true
	r.abandonLocked()
	r.cycle++
	r.lastErr = nil

	if !r.store.Current().IsAuthenticated {
		r.state = StateBootstrapping
		r.signal = settledSignal()
		return
	}

	r.state = StateValidating
	r.signal = newCycleSignal()

	// the cycle outlives the request that mounted it; Stop cancels it
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.cancel = cancel
	go r.run(cctx, cancel, r.cycle, r.store.Version(), r.signal)
}

type validation struct {
	raw domain.RawIdentity
	err error
}

func (r *SessionResolver) run(ctx context.Context, cancel context.CancelFunc, cycle, version uint64, signal *cycleSignal) {
	defer cancel()
	defer signal.close()

	results := make(chan validation, 1)
	go func() {
		raw, err := r.validator.Validate(ctx)
		results <- validation{raw: raw, err: err}
	}()

	var res validation
	select {
	case res = <-results:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w: %w", domain.ErrUnreachable, ctx.Err())
	}

	r.mu.Lock()
	if cycle != r.cycle {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "discarding stale validation result", "device_id", r.deviceID, "cycle", cycle)
		r.metrics.ValidationOutcome("discarded")
		return
	}
	r.cancel = nil
	r.mu.Unlock()

	// the store writes below must not inherit the cycle deadline
	wctx := context.WithoutCancel(ctx)
	state, prev, applied := r.verdict(wctx, version, res)

	r.mu.Lock()
	defer r.mu.Unlock()
	if cycle != r.cycle {
		// Supersede or Stop settled the resolver while the store was written
		return
	}
	if !applied {
		// a login or logout happened while the check was in flight; it wins
		r.logger.DebugContext(ctx, "session changed during validation, result discarded", "device_id", r.deviceID)
		r.metrics.ValidationOutcome("discarded")
		r.settleFromStoreLocked()
		return
	}

	r.lastErr = res.err
	r.state = state
	r.settledAt = r.now()
	switch state {
	case StateConfirmed:
		r.record(wctx, domain.SessionConfirmedEvent, nil)
	case StateRejected:
		r.logger.InfoContext(ctx, "session rejected by server", "device_id", r.deviceID, "status", domain.StatusOf(res.err))
		r.recordFor(wctx, domain.SessionRejectedEvent, prev, res.err)
	default:
		r.logger.WarnContext(ctx, "session check failed, keeping local session", "device_id", r.deviceID, "error", res.err)
		r.record(wctx, domain.SessionDegradedEvent, res.err)
	}
}

// verdict applies a validation result to the store, provided the store is
// still at version. It runs without r.mu held.
func (r *SessionResolver) verdict(ctx context.Context, version uint64, res validation) (ResolverState, *domain.Identity, bool) {
	if res.err == nil {
		applied, err := r.store.LoginIf(ctx, version, res.raw)
		if err != nil {
			r.logger.WarnContext(ctx, "server identity could not be sanitized, keeping local session", "device_id", r.deviceID)
			return StateConfirmed, nil, r.store.Version() == version
		}
		return StateConfirmed, nil, applied
	}

	switch domain.ClassifyFailure(res.err) {
	case domain.FailureSessionInvalid:
		prev, applied := r.store.LogoutIf(ctx, version)
		return StateRejected, prev, applied
	default:
		return StateDegraded, nil, r.store.Version() == version
	}
}

func (r *SessionResolver) record(ctx context.Context, event domain.AuditEventType, err error) {
	r.recordFor(ctx, event, r.store.Current().Identity, err)
}

func (r *SessionResolver) recordFor(ctx context.Context, eventType domain.AuditEventType, id *domain.Identity, err error) {
	r.metrics.ValidationOutcome(r.state.String())
	if r.audit == nil {
		return
	}
	event := domain.NewAuditEvent(eventType).WithIdentity(id).WithDevice(r.deviceID)
	if err != nil {
		event.WithError(err).WithMetadata("status", domain.StatusOf(err))
	}
	r.audit.LogEvent(ctx, event)
}

// Supersede ends the current cycle because the session was just written
// through Login or Logout; the store already holds the truth.
func (r *SessionResolver) Supersede() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandonLocked()
	r.cycle++
	r.settleFromStoreLocked()
}

// Stop unmounts the resolver. An in-flight cycle is cancelled and its
// result will not be applied.
func (r *SessionResolver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mounted = false
	if r.state != StateValidating {
		return
	}
	r.abandonLocked()
	r.cycle++
	// the local identity was never confirmed but is still trusted
	if r.store.Current().IsAuthenticated {
		r.state = StateDegraded
		r.settledAt = r.now()
	} else {
		r.state = StateBootstrapping
	}
}

func (r *SessionResolver) settleFromStoreLocked() {
	r.settledAt = r.now()
	if r.store.Current().IsAuthenticated {
		r.state = StateConfirmed
	} else {
		r.state = StateBootstrapping
	}
	r.signal = settledSignal()
}

func (r *SessionResolver) abandonLocked() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.signal.close()
}

// View returns the merged session view
func (r *SessionResolver) View() SessionView {
	r.mu.Lock()
	validating := r.state == StateValidating
	r.mu.Unlock()

	s := r.store.Current()
	return SessionView{
		User:            s.Identity,
		IsAuthenticated: s.IsAuthenticated,
		IsValidating:    validating,
	}
}

// State returns the resolver state
func (r *SessionResolver) State() ResolverState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastError returns the failure of the last settled cycle, if any
func (r *SessionResolver) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Wait blocks until the current cycle settles or ctx is done, then returns
// the view. A cycle replaced while waiting also ends the wait.
func (r *SessionResolver) Wait(ctx context.Context) (SessionView, error) {
	r.mu.Lock()
	signal := r.signal
	r.mu.Unlock()

	select {
	case <-signal.done:
		return r.View(), nil
	case <-ctx.Done():
		return r.View(), ctx.Err()
	}
}
