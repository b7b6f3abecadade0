package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/services"
)

// CasbinMW keeps authenticated users inside their own role area. It must
// run after RequireAuth.
type CasbinMW struct {
	policy domain.AccessPolicy
	routes config.Routes
	audit  domain.AuditLogger
}

// NewCasbinMW creates the role gate
func NewCasbinMW(policy domain.AccessPolicy, routes config.Routes, audit domain.AuditLogger) *CasbinMW {
	return &CasbinMW{policy: policy, routes: routes, audit: audit}
}

// Enforce returns the role gate middleware
func (mw *CasbinMW) Enforce() gin.HandlerFunc {
	return func(c *gin.Context) {
		sc := Session(c)
		user := sc.View().User
		if user == nil {
			c.Redirect(http.StatusFound, mw.routes.Login)
			c.Abort()
			return
		}

		allowed, err := mw.policy.Allowed(user.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Authorization check failed"})
			c.Abort()
			return
		}
		if !allowed {
			if mw.audit != nil {
				mw.audit.LogEvent(c.Request.Context(), domain.NewAuditEvent(domain.AccessDeniedEvent).
					WithIdentity(user).
					WithDevice(sc.DeviceID()).
					WithMetadata("path", c.Request.URL.Path).
					WithMetadata("method", c.Request.Method))
			}
			c.Redirect(http.StatusFound, services.RoleRedirect(string(user.Role), mw.routes))
			c.Abort()
			return
		}

		c.Next()
	}
}
