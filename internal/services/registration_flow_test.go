package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/logger"
	"github.com/you/carebook/internal/mocks"
)

// createValidPayload creates a sign-up form that passes validation
func createValidPayload(t *testing.T) domain.RegistrationPayload {
	t.Helper()

	return domain.RegistrationPayload{
		FirstName: "Ada",
		LastName:  "Lovelace",
		Email:     "ada@example.com",
		Phone:     "+15551234567",
		Password:  "correct-horse",
		Role:      domain.RoleCaretaker,
	}
}

// createFlowForTest creates a flow over a recording registration API
func createFlowForTest(t *testing.T, opts ...FlowOption) (*RegistrationFlow, *mocks.MockRegistrationAPI) {
	t.Helper()

	api := mocks.NewMockRegistrationAPI()
	return NewRegistrationFlow(api, testRoutes(), logger.Discard(), opts...), api
}

// sentFlow returns a flow that already has a challenge in Sent
func sentFlow(t *testing.T, opts ...FlowOption) (*RegistrationFlow, *mocks.MockRegistrationAPI) {
	t.Helper()

	flow, api := createFlowForTest(t, opts...)
	if _, err := flow.Send(createTestContext(t), createValidPayload(t)); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	return flow, api
}

func TestRegistrationFlow_SendValidation(t *testing.T) {
	tests := []struct {
		name          string
		mutate        func(*domain.RegistrationPayload)
		expectedField string
	}{
		{name: "missing first name", mutate: func(p *domain.RegistrationPayload) { p.FirstName = "" }, expectedField: "firstName"},
		{name: "bad email", mutate: func(p *domain.RegistrationPayload) { p.Email = "not-an-email" }, expectedField: "email"},
		{name: "local phone", mutate: func(p *domain.RegistrationPayload) { p.Phone = "5551234567" }, expectedField: "phone"},
		{name: "short password", mutate: func(p *domain.RegistrationPayload) { p.Password = "short" }, expectedField: "password"},
		{name: "admin cannot self register", mutate: func(p *domain.RegistrationPayload) { p.Role = domain.RoleAdmin }, expectedField: "role"},
		{name: "missing role", mutate: func(p *domain.RegistrationPayload) { p.Role = "" }, expectedField: "role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, api := createFlowForTest(t)
			payload := createValidPayload(t)
			tt.mutate(&payload)

			_, err := flow.Send(createTestContext(t), payload)

			var fields domain.FieldErrors
			if !errors.As(err, &fields) {
				t.Fatalf("expected field errors, got %v", err)
			}
			if _, ok := fields[tt.expectedField]; !ok {
				t.Errorf("expected an error on %s, got %v", tt.expectedField, fields)
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Error("field errors should match ErrValidation")
			}
			if api.SendCalls != 0 {
				t.Error("an invalid payload must not reach the network")
			}
			if flow.State() != domain.ChallengeNotSent {
				t.Errorf("expected not_sent, got %s", flow.State())
			}
		})
	}
}

func TestRegistrationFlow_Send(t *testing.T) {
	flow, api := createFlowForTest(t)

	msg, err := flow.Send(createTestContext(t), createValidPayload(t))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "OTP sent" {
		t.Errorf("expected server message, got %q", msg)
	}
	if api.SendCalls != 1 {
		t.Errorf("expected one send, got %d", api.SendCalls)
	}
	challenge, ok := flow.Challenge()
	if !ok || challenge.State != domain.ChallengeSent || challenge.Email != "ada@example.com" {
		t.Errorf("expected a sent challenge, got %+v", challenge)
	}
	if _, ok := flow.Payload(); !ok {
		t.Error("payload should be buffered after send")
	}
}

func TestRegistrationFlow_SendFailure(t *testing.T) {
	flow, api := createFlowForTest(t)
	api.SendOTPFunc = func(ctx context.Context, email, phone string) (string, error) {
		return "", &domain.APIError{Status: 409, Message: "Email already registered"}
	}

	_, err := flow.Send(createTestContext(t), createValidPayload(t))

	var regErr *RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
	if regErr.Message != "Email already registered" {
		t.Errorf("expected server message, got %q", regErr.Message)
	}
	if flow.State() != domain.ChallengeNotSent {
		t.Errorf("a failed send must leave the flow not_sent, got %s", flow.State())
	}
}

func TestRegistrationFlow_VerifySuccess(t *testing.T) {
	tests := []struct {
		name             string
		result           *domain.AuthResult
		expectedRedirect string
	}{
		{
			name:             "no user goes to login",
			result:           &domain.AuthResult{Message: "Account created"},
			expectedRedirect: "/login",
		},
		{
			name: "returned user goes to their dashboard",
			result: &domain.AuthResult{
				User: domain.RawIdentity{
					"id": "5", "firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com", "role": "caretaker",
				},
				AccessToken: "tok",
			},
			expectedRedirect: "/caretaker/dashboard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, api := sentFlow(t)
			api.VerifyOTPFunc = func(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error) {
				return tt.result, nil
			}

			result, err := flow.Verify(createTestContext(t), " 123456 ")

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Redirect != tt.expectedRedirect {
				t.Errorf("expected redirect %s, got %s", tt.expectedRedirect, result.Redirect)
			}
			if flow.State() != domain.ChallengeVerified {
				t.Errorf("expected verified, got %s", flow.State())
			}
			if _, ok := flow.Challenge(); ok {
				t.Error("challenge should be cleared after verification")
			}
			if _, ok := flow.Payload(); ok {
				t.Error("payload should be cleared after verification")
			}
			if api.LastPayload == nil || api.LastPayload.Password != "correct-horse" {
				t.Error("verify must carry the full buffered payload")
			}
		})
	}
}

func TestRegistrationFlow_VerifyFailure(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		expectedState   domain.ChallengeState
		expectedMessage string
	}{
		{
			name:            "wrong code returns to sent",
			err:             &domain.APIError{Status: 400, Message: "Invalid OTP"},
			expectedState:   domain.ChallengeSent,
			expectedMessage: "Invalid OTP",
		},
		{
			name:            "no server message uses fallback",
			err:             &domain.APIError{Status: 500},
			expectedState:   domain.ChallengeSent,
			expectedMessage: "verification failed, please try again",
		},
		{
			name:            "expired code fails the challenge",
			err:             &domain.APIError{Status: 410, Message: "OTP expired"},
			expectedState:   domain.ChallengeFailed,
			expectedMessage: "OTP expired",
		},
		{
			name:            "too many attempts fails the challenge",
			err:             &domain.APIError{Status: 429, Message: "Too many attempts"},
			expectedState:   domain.ChallengeFailed,
			expectedMessage: "Too many attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, api := sentFlow(t)
			api.VerifyOTPFunc = func(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error) {
				return nil, tt.err
			}

			_, err := flow.Verify(createTestContext(t), "000000")

			var regErr *RegistrationError
			if !errors.As(err, &regErr) {
				t.Fatalf("expected RegistrationError, got %v", err)
			}
			if regErr.Message != tt.expectedMessage {
				t.Errorf("expected message %q, got %q", tt.expectedMessage, regErr.Message)
			}
			if flow.State() != tt.expectedState {
				t.Errorf("expected %s, got %s", tt.expectedState, flow.State())
			}
			payload, ok := flow.Payload()
			if !ok || payload.Email != "ada@example.com" {
				t.Error("payload must be retained for another attempt")
			}
		})
	}
}

func TestRegistrationFlow_VerifyPreconditions(t *testing.T) {
	t.Run("before send", func(t *testing.T) {
		flow, api := createFlowForTest(t)
		_, err := flow.Verify(createTestContext(t), "123456")
		if !errors.Is(err, domain.ErrChallengeNotSent) {
			t.Errorf("expected ErrChallengeNotSent, got %v", err)
		}
		if api.VerifyCalls != 0 {
			t.Error("verify must not reach the network")
		}
	})

	t.Run("empty code", func(t *testing.T) {
		flow, _ := sentFlow(t)
		_, err := flow.Verify(createTestContext(t), "  ")
		if !errors.Is(err, domain.ErrOTPCodeRequired) {
			t.Errorf("expected ErrOTPCodeRequired, got %v", err)
		}
	})

	t.Run("failed challenge needs a resend", func(t *testing.T) {
		flow, api := sentFlow(t)
		api.VerifyOTPFunc = func(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error) {
			return nil, &domain.APIError{Status: 410}
		}
		_, _ = flow.Verify(createTestContext(t), "000000")

		_, err := flow.Verify(createTestContext(t), "123456")
		if !errors.Is(err, domain.ErrChallengeState) {
			t.Errorf("expected ErrChallengeState, got %v", err)
		}
	})

	t.Run("verify while verifying", func(t *testing.T) {
		flow, api := sentFlow(t)
		entered := make(chan struct{})
		release := make(chan struct{})
		api.VerifyOTPFunc = func(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error) {
			close(entered)
			<-release
			return &domain.AuthResult{}, nil
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = flow.Verify(context.Background(), "123456")
		}()
		<-entered

		_, err := flow.Verify(createTestContext(t), "123456")
		if !errors.Is(err, domain.ErrChallengeBusy) {
			t.Errorf("expected ErrChallengeBusy, got %v", err)
		}
		if _, err := flow.Resend(createTestContext(t)); !errors.Is(err, domain.ErrChallengeBusy) {
			t.Errorf("expected resend to be refused while verifying, got %v", err)
		}
		close(release)
		<-done
	})
}

func TestRegistrationFlow_Resend(t *testing.T) {
	flow, api := sentFlow(t, WithResendCooldown(20*time.Millisecond))
	ctx := createTestContext(t)

	if _, err := flow.Resend(ctx); !errors.Is(err, domain.ErrOTPResendTooSoon) {
		t.Fatalf("expected cooldown error right after send, got %v", err)
	}
	if api.ResendCalls != 0 {
		t.Error("a throttled resend must not reach the network")
	}

	time.Sleep(30 * time.Millisecond)
	msg, err := flow.Resend(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg != "OTP resent" {
		t.Errorf("expected server message, got %q", msg)
	}
	if api.LastResendEmail != "ada@example.com" {
		t.Errorf("resend must target the pending challenge, got %q", api.LastResendEmail)
	}
}

func TestRegistrationFlow_ResendRecoversFailed(t *testing.T) {
	flow, api := sentFlow(t, WithResendCooldown(time.Millisecond))
	ctx := createTestContext(t)
	api.VerifyOTPFunc = func(ctx context.Context, email, otp string, payload domain.RegistrationPayload) (*domain.AuthResult, error) {
		return nil, &domain.APIError{Status: 429}
	}
	_, _ = flow.Verify(ctx, "000000")
	if flow.State() != domain.ChallengeFailed {
		t.Fatalf("expected failed, got %s", flow.State())
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := flow.Resend(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if flow.State() != domain.ChallengeSent {
		t.Errorf("resend should return the flow to sent, got %s", flow.State())
	}
	api.VerifyOTPFunc = nil
	if _, err := flow.Verify(ctx, "123456"); err != nil {
		t.Errorf("verification after resend should succeed: %v", err)
	}
}

func TestRegistrationFlow_ResendBeforeSend(t *testing.T) {
	flow, _ := createFlowForTest(t)

	if _, err := flow.Resend(createTestContext(t)); !errors.Is(err, domain.ErrChallengeNotSent) {
		t.Errorf("expected ErrChallengeNotSent, got %v", err)
	}
}

func TestRegistrationFlow_Cancel(t *testing.T) {
	flow, _ := sentFlow(t)

	flow.Cancel()

	if flow.State() != domain.ChallengeNotSent {
		t.Errorf("expected not_sent, got %s", flow.State())
	}
	if _, ok := flow.Payload(); ok {
		t.Error("cancel must drop the payload")
	}
	if _, err := flow.Verify(createTestContext(t), "123456"); !errors.Is(err, domain.ErrChallengeNotSent) {
		t.Errorf("expected ErrChallengeNotSent after cancel, got %v", err)
	}
}

func TestRegistrationFlow_AuditEvents(t *testing.T) {
	audit := mocks.NewMockAuditLogger()
	flow, _ := sentFlow(t, WithFlowAudit(audit))
	ctx := createTestContext(t)

	_, _ = flow.Verify(ctx, "999999")
	_, _ = flow.Verify(ctx, "123456")

	expected := []domain.AuditEventType{domain.OTPSentEvent, domain.OTPVerifyFailureEvent, domain.OTPVerifiedEvent}
	got := audit.Types()
	if len(got) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("event %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}
