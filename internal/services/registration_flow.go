package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/telemetry"
)

// DefaultResendCooldown is the minimum gap between OTP resends
const DefaultResendCooldown = 30 * time.Second

// OTP steps as reported to metrics
const (
	stepSend   = "send"
	stepVerify = "verify"
	stepResend = "resend"
)

// RegistrationError is an OTP step failure with the message to show the user
type RegistrationError struct {
	Step    string
	Message string
	Err     error
}

func (e *RegistrationError) Error() string { return e.Message }

func (e *RegistrationError) Unwrap() error { return e.Err }

// VerifyResult is what a successful verification leads to
type VerifyResult struct {
	User        domain.RawIdentity
	AccessToken string
	Message     string
	Redirect    string
}

// RegistrationFlow drives the OTP-gated sign-up of one user agent:
// NotSent -> Sent -> Verifying -> Verified, with Failed reachable from
// Verifying when the server expires or rate-limits the code. The sign-up
// payload is buffered from Send until the challenge ends.
type RegistrationFlow struct {
	api      domain.RegistrationAPI
	validate *validator.Validate
	routes   config.Routes
	cooldown time.Duration
	logger   *slog.Logger
	audit    domain.AuditLogger
	metrics  *telemetry.Metrics

	mu        sync.Mutex
	state     domain.ChallengeState
	challenge *domain.OTPChallenge
	payload   *domain.RegistrationPayload
	limiter   *rate.Limiter
}

// FlowOption configures a RegistrationFlow
type FlowOption func(*RegistrationFlow)

// WithResendCooldown sets the minimum gap between resends
func WithResendCooldown(d time.Duration) FlowOption {
	return func(f *RegistrationFlow) {
		if d > 0 {
			f.cooldown = d
		}
	}
}

// WithFlowAudit routes registration events to an audit logger
func WithFlowAudit(audit domain.AuditLogger) FlowOption {
	return func(f *RegistrationFlow) { f.audit = audit }
}

// WithFlowMetrics counts OTP steps
func WithFlowMetrics(m *telemetry.Metrics) FlowOption {
	return func(f *RegistrationFlow) { f.metrics = m }
}

// NewRegistrationFlow creates a flow with no challenge
func NewRegistrationFlow(api domain.RegistrationAPI, routes config.Routes, logger *slog.Logger, opts ...FlowOption) *RegistrationFlow {
	f := &RegistrationFlow{
		api:      api,
		validate: newPayloadValidator(),
		routes:   routes,
		cooldown: DefaultResendCooldown,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func newPayloadValidator() *validator.Validate {
	validate := validator.New()
	// Report JSON field names so errors line up with the form
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// ValidatePayload checks the whole sign-up form. Failures come back as
// domain.FieldErrors.
func (f *RegistrationFlow) ValidatePayload(payload domain.RegistrationPayload) error {
	err := f.validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(domain.FieldErrors, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "e164":
		return "must be an international phone number, e.g. +15551234567"
	case "min":
		return fmt.Sprintf("must be at least %s characters long", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters long", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "is invalid"
	}
}

// Send validates payload and asks the server to send a code to its email
// and phone. Nothing is sent when the payload is invalid. On success the
// flow is Sent and payload is held for Verify.
func (f *RegistrationFlow) Send(ctx context.Context, payload domain.RegistrationPayload) (string, error) {
	payload.Email = strings.TrimSpace(payload.Email)
	payload.Phone = strings.TrimSpace(payload.Phone)
	if err := f.ValidatePayload(payload); err != nil {
		return "", err
	}

	f.mu.Lock()
	busy := f.state == domain.ChallengeVerifying
	f.mu.Unlock()
	if busy {
		return "", domain.ErrChallengeBusy
	}

	msg, err := f.api.SendOTP(ctx, payload.Email, payload.Phone)
	f.metrics.OTPStep(stepSend, err)
	if err != nil {
		f.logger.InfoContext(ctx, "otp send failed", "email", payload.Email, "status", domain.StatusOf(err))
		return "", &RegistrationError{
			Step:    stepSend,
			Message: domain.UserMessage(err, "Failed to send verification code"),
			Err:     err,
		}
	}

	f.mu.Lock()
	f.state = domain.ChallengeSent
	f.challenge = &domain.OTPChallenge{Email: payload.Email, Phone: payload.Phone, State: domain.ChallengeSent}
	f.payload = &payload
	f.limiter = rate.NewLimiter(rate.Every(f.cooldown), 1)
	// the send itself counts against the cooldown
	f.limiter.Allow()
	f.mu.Unlock()

	f.emit(ctx, domain.NewAuditEvent(domain.OTPSentEvent).WithEmail(payload.Email).WithMetadata("role", string(payload.Role)))
	return msg, nil
}

// Verify submits code with the buffered payload. Success ends the
// challenge. A rejected code returns the flow to Sent with the payload
// kept for another attempt; an expired or rate-limited code (410, 429)
// moves it to Failed, from which only Resend recovers.
func (f *RegistrationFlow) Verify(ctx context.Context, code string) (*VerifyResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrOTPCodeRequired
	}

	f.mu.Lock()
	switch {
	case f.challenge == nil:
		f.mu.Unlock()
		return nil, domain.ErrChallengeNotSent
	case f.state == domain.ChallengeVerifying:
		f.mu.Unlock()
		return nil, domain.ErrChallengeBusy
	case f.state != domain.ChallengeSent:
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrChallengeState, f.state)
	}
	challenge := f.challenge
	payload := *f.payload
	f.state = domain.ChallengeVerifying
	challenge.State = domain.ChallengeVerifying
	f.mu.Unlock()

	res, err := f.api.VerifyOTP(ctx, challenge.Email, code, payload)
	f.metrics.OTPStep(stepVerify, err)

	f.mu.Lock()
	// cancelled or restarted while the request was out
	current := f.challenge == challenge
	if err != nil {
		if current {
			f.state = domain.ChallengeSent
			switch domain.StatusOf(err) {
			case http.StatusGone, http.StatusTooManyRequests:
				f.state = domain.ChallengeFailed
			}
			challenge.State = f.state
		}
		f.mu.Unlock()

		f.logger.InfoContext(ctx, "otp verification failed", "email", challenge.Email, "status", domain.StatusOf(err))
		f.emit(ctx, domain.NewAuditEvent(domain.OTPVerifyFailureEvent).WithEmail(challenge.Email).WithError(err))
		return nil, &RegistrationError{
			Step:    stepVerify,
			Message: domain.UserMessage(err, domain.ErrVerificationFailed.Error()),
			Err:     err,
		}
	}
	if current {
		f.state = domain.ChallengeVerified
		f.challenge = nil
		f.payload = nil
		f.limiter = nil
	}
	f.mu.Unlock()

	result := &VerifyResult{Redirect: f.routes.Login}
	if res != nil {
		result.User = res.User
		result.AccessToken = res.AccessToken
		result.Message = res.Message
	}
	if identity, err := domain.SanitizeIdentity(result.User); err == nil {
		result.Redirect = RoleRedirect(string(identity.Role), f.routes)
	}

	f.emit(ctx, domain.NewAuditEvent(domain.OTPVerifiedEvent).WithEmail(challenge.Email).WithMetadata("role", string(payload.Role)))
	return result, nil
}

// Resend asks the server for a fresh code for the same email. It is
// allowed from Sent or Failed and returns the flow to Sent.
func (f *RegistrationFlow) Resend(ctx context.Context) (string, error) {
	f.mu.Lock()
	switch {
	case f.challenge == nil:
		f.mu.Unlock()
		return "", domain.ErrChallengeNotSent
	case f.state == domain.ChallengeVerifying:
		f.mu.Unlock()
		return "", domain.ErrChallengeBusy
	}
	r := f.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		f.mu.Unlock()
		return "", fmt.Errorf("%w: retry in %s", domain.ErrOTPResendTooSoon, delay.Round(time.Second))
	}
	challenge := f.challenge
	f.mu.Unlock()

	msg, err := f.api.ResendOTP(ctx, challenge.Email)
	f.metrics.OTPStep(stepResend, err)
	if err != nil {
		f.logger.InfoContext(ctx, "otp resend failed", "email", challenge.Email, "status", domain.StatusOf(err))
		return "", &RegistrationError{
			Step:    stepResend,
			Message: domain.UserMessage(err, "Failed to resend verification code"),
			Err:     err,
		}
	}

	f.mu.Lock()
	if f.challenge == challenge {
		f.state = domain.ChallengeSent
		challenge.State = domain.ChallengeSent
	}
	f.mu.Unlock()

	f.emit(ctx, domain.NewAuditEvent(domain.OTPResentEvent).WithEmail(challenge.Email))
	return msg, nil
}

// Cancel drops the challenge and the buffered payload
func (f *RegistrationFlow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = domain.ChallengeNotSent
	f.challenge = nil
	f.payload = nil
	f.limiter = nil
}

// State returns the flow state
func (f *RegistrationFlow) State() domain.ChallengeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Challenge returns a copy of the pending challenge, if any
func (f *RegistrationFlow) Challenge() (domain.OTPChallenge, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.challenge == nil {
		return domain.OTPChallenge{State: f.state}, false
	}
	return *f.challenge, true
}

// Payload returns a copy of the buffered sign-up form, if any
func (f *RegistrationFlow) Payload() (domain.RegistrationPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payload == nil {
		return domain.RegistrationPayload{}, false
	}
	return *f.payload, true
}

func (f *RegistrationFlow) emit(ctx context.Context, event *domain.AuditEvent) {
	if f.audit != nil {
		f.audit.LogEvent(ctx, event)
	}
}
