package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/mocks"
)

func TestClient_Me(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		expectedID     string
		expectedStatus int
	}{
		{
			name:       "bare identity",
			status:     http.StatusOK,
			body:       `{"id":"1","firstName":"A","lastName":"B","email":"a@b.com","role":"client"}`,
			expectedID: "1",
		},
		{
			name:       "user envelope",
			status:     http.StatusOK,
			body:       `{"user":{"id":"2","firstName":"A","lastName":"B","email":"a@b.com","role":"admin"}}`,
			expectedID: "2",
		},
		{
			name:       "data envelope",
			status:     http.StatusOK,
			body:       `{"data":{"id":3,"firstName":"A","lastName":"B","email":"a@b.com","role":"caretaker"}}`,
			expectedID: "3",
		},
		{
			name:           "unauthorized",
			status:         http.StatusUnauthorized,
			body:           `{"message":"Session expired"}`,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "server error",
			status:         http.StatusBadGateway,
			body:           `<html>bad gateway</html>`,
			expectedStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/auth/me", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			raw, err := NewClient(srv.URL, time.Second).Me(context.Background(), "tok")
			if tt.expectedStatus != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.expectedStatus, domain.StatusOf(err))
				return
			}
			require.NoError(t, err)
			identity, err := domain.SanitizeIdentity(raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedID, identity.ID)
		})
	}
}

func TestClient_NetworkFailureIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).Me(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnreachable))
	assert.Equal(t, domain.FailureInfrastructure, domain.ClassifyFailure(err))
}

func TestClient_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/login", r.URL.Path)
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Invalid credentials"}`))
			return
		}
		w.Write([]byte(`{"message":"ok","token":"jwt-1","user":{"id":"1","firstName":"A","lastName":"B","email":"a@b.com","role":"client"}}`))
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	res, err := c.Login(context.Background(), "a@b.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", res.AccessToken)
	assert.Equal(t, "client", res.User["role"])

	_, err = c.Login(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", domain.UserMessage(err, ""))
}

func TestClient_VerifyOTPSendsWholePayload(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/register/otp/verify", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message":"Account created"}`))
	}))
	defer srv.Close()

	payload := domain.RegistrationPayload{
		FirstName: "A", LastName: "B", Email: "a@b.com", Phone: "+15550001111",
		Password: "longenough", Role: domain.RoleCaretaker,
	}
	res, err := NewClient(srv.URL, time.Second).VerifyOTP(context.Background(), "a@b.com", "123456", payload)
	require.NoError(t, err)
	assert.Equal(t, "Account created", res.Message)
	assert.Nil(t, res.User)

	assert.Equal(t, "123456", got["otp"])
	assert.Equal(t, "a@b.com", got["email"])
	assert.Equal(t, "A", got["firstName"])
	assert.Equal(t, "+15550001111", got["phone"])
	assert.Equal(t, "caretaker", got["role"])
	assert.Equal(t, "longenough", got["password"])
}

func TestClient_SendAndResendOTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch r.URL.Path {
		case "/auth/register/otp/send":
			assert.Equal(t, "+15550001111", req["phone"])
			w.Write([]byte(`{"message":"OTP sent"}`))
		case "/auth/register/otp/resend":
			assert.Equal(t, "a@b.com", req["email"])
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"message":"Slow down"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, time.Second)

	msg, err := c.SendOTP(context.Background(), "a@b.com", "+15550001111")
	require.NoError(t, err)
	assert.Equal(t, "OTP sent", msg)

	_, err = c.ResendOTP(context.Background(), "a@b.com")
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, domain.StatusOf(err))
}

func TestSessionValidator_UsesStoredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer stored" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"id":"1","firstName":"A","lastName":"B","email":"a@b.com","role":"client"}`))
	}))
	defer srv.Close()

	tokens := mocks.NewMockSessionCache()
	v := NewSessionValidator(NewClient(srv.URL, time.Second), tokens)

	_, err := v.Validate(context.Background())
	assert.Equal(t, domain.FailureSessionInvalid, domain.ClassifyFailure(err))

	require.NoError(t, tokens.WriteToken(context.Background(), "stored"))
	raw, err := v.Validate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", raw["id"])
}
