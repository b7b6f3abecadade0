package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/services"
)

// AuthMW turns the session guards into gin middleware. A guard that cannot
// decide yet waits for validation up to wait, then answers 202 with
// Retry-After and no body.
type AuthMW struct {
	routes config.Routes
	wait   time.Duration
}

// NewAuthMW creates the guard middleware
func NewAuthMW(routes config.Routes, wait time.Duration) *AuthMW {
	return &AuthMW{routes: routes, wait: wait}
}

// RequireAuth protects pages that need a session
func (mw *AuthMW) RequireAuth() gin.HandlerFunc {
	return mw.guard(services.RequireAuth)
}

// RejectAuth protects pages only anonymous users should see
func (mw *AuthMW) RejectAuth() gin.HandlerFunc {
	return mw.guard(services.RejectAuth)
}

func (mw *AuthMW) guard(decide func(services.SessionView, config.Routes) services.GuardDecision) gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := Session(c)
		decision := decide(sc.View(), mw.routes)

		if decision.Action == services.GuardSuspend && mw.wait > 0 {
			ctx, cancel := context.WithTimeout(c.Request.Context(), mw.wait)
			for decision.Action == services.GuardSuspend {
				view, err := sc.Wait(ctx)
				decision = decide(view, mw.routes)
				if err != nil {
					break
				}
			}
			cancel()
		}

		switch decision.Action {
		case services.GuardRedirect:
			c.Redirect(http.StatusFound, decision.Location)
			c.Abort()
		case services.GuardSuspend:
			c.Header("Retry-After", strconv.Itoa(retryAfter(mw.wait)))
			c.AbortWithStatus(http.StatusAccepted)
		default:
			c.Next()
		}
	}
}

func retryAfter(wait time.Duration) int {
	if s := int(wait.Round(time.Second) / time.Second); s > 0 {
		return s
	}
	return 1
}
