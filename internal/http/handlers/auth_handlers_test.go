package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/http/middleware"
	"github.com/you/carebook/internal/logger"
	"github.com/you/carebook/internal/mocks"
	"github.com/you/carebook/internal/services"
)

func newSession(t *testing.T, cache *mocks.MockSessionCache, auth *mocks.MockAuthAPI) *services.SessionContext {
	t.Helper()
	sc := services.NewSessionContext("dev-1", cache, mocks.NewMockSessionValidator(), services.SessionDeps{
		Auth:     auth,
		Settings: services.SessionSettings{ValidateTimeout: time.Second, Routes: config.DefaultRoutes()},
		Logger:   logger.Discard(),
	})
	t.Cleanup(sc.Close)
	return sc
}

func newContext(t *testing.T, sc *services.SessionContext, method, path, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.SessionKey, sc)
	return c, w
}

func TestAuthHandlers_DashboardAfterLogout(t *testing.T) {
	h := NewAuthHandlers(config.DefaultRoutes(), logger.Discard())
	sc := newSession(t, mocks.NewMockSessionCache(), mocks.NewMockAuthAPI())
	ctx := context.Background()
	require.True(t, sc.Login(ctx, &domain.AuthResult{User: domain.RawIdentity{
		"id": "1", "firstName": "A", "lastName": "B", "email": "a@b.com", "role": "client",
	}}))
	// the guards saw the user, then another request logged the device out
	sc.Logout(ctx)
	c, w := newContext(t, sc, http.MethodGet, "/client/dashboard", "")

	assert.NotPanics(t, func() { h.Dashboard(c) })

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestAuthHandlers_LoginRacingLogout(t *testing.T) {
	h := NewAuthHandlers(config.DefaultRoutes(), logger.Discard())
	cache := mocks.NewMockSessionCache()
	auth := mocks.NewMockAuthAPI()
	auth.LoginFunc = func(ctx context.Context, email, password string) (*domain.AuthResult, error) {
		return &domain.AuthResult{
			User: domain.RawIdentity{
				"id": "1", "firstName": "A", "lastName": "B", "email": "a@b.com", "role": "caretaker",
			},
			AccessToken: "tok-1",
		}, nil
	}
	sc := newSession(t, cache, auth)
	// a concurrent logout lands between the store update and the response
	cache.WriteTokenFunc = func(ctx context.Context, token string) error {
		sc.Logout(ctx)
		return nil
	}
	c, w := newContext(t, sc, http.MethodPost, "/login", `{"email":"a@b.com","password":"secret"}`)

	assert.NotPanics(t, func() { h.Login(c) })

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data struct {
			User     *domain.Identity `json:"user"`
			Redirect string           `json:"redirect"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Data.User)
	assert.Equal(t, domain.RoleCaretaker, body.Data.User.Role)
	assert.Equal(t, "/caretaker/dashboard", body.Data.Redirect)
	assert.False(t, sc.View().IsAuthenticated)
}
