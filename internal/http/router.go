package httpx

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/http/handlers"
	"github.com/you/carebook/internal/http/middleware"
	"github.com/you/carebook/internal/logger"
)

// RouterDeps are the pieces BuildRouter mounts
type RouterDeps struct {
	Routes       config.Routes
	Auth         *handlers.AuthHandlers
	Registration *handlers.RegistrationHandlers
	Device       *middleware.DeviceMW
	Guards       *middleware.AuthMW
	RoleGate     *middleware.CasbinMW
	Metrics      http.Handler
	Logger       *slog.Logger
}

func BuildRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinLogger(d.Logger))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics))
	}

	s := r.Group("/", d.Device.Attach())
	s.GET("/", d.Auth.Home)
	s.GET("/session", d.Auth.Session)
	s.POST("/logout", d.Auth.Logout)

	anon := s.Group("/", d.Guards.RejectAuth())
	anon.GET(d.Routes.Login, d.Auth.LoginPage)
	anon.POST(d.Routes.Login, d.Auth.Login)
	anon.GET(d.Routes.Register, d.Registration.RegisterPage)

	reg := anon.Group(d.Routes.Register)
	reg.POST("/otp/send", d.Registration.SendOTP)
	reg.POST("/otp/verify", d.Registration.VerifyOTP)
	reg.POST("/otp/resend", d.Registration.ResendOTP)
	reg.POST("/cancel", d.Registration.Cancel)

	authed := s.Group("/", d.Guards.RequireAuth(), d.RoleGate.Enforce())
	seen := map[string]bool{}
	for _, dashboard := range d.Routes.Dashboards {
		if dashboard == "" || seen[dashboard] {
			continue
		}
		seen[dashboard] = true
		authed.GET(dashboard, d.Auth.Dashboard)
	}

	return r
}
