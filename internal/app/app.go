package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/you/carebook/internal/config"
	httpx "github.com/you/carebook/internal/http"
	"github.com/you/carebook/internal/http/handlers"
	"github.com/you/carebook/internal/http/middleware"
)

// NewRouter mounts the gateway on the container's services
func NewRouter(c *Container) *gin.Engine {
	cfg := c.Config
	return httpx.BuildRouter(httpx.RouterDeps{
		Routes:       cfg.Routes,
		Auth:         handlers.NewAuthHandlers(cfg.Routes, c.Logger),
		Registration: handlers.NewRegistrationHandlers(cfg.Routes, c.Logger),
		Device:       middleware.NewDeviceMW(c.Registry, cfg.CookieName, cfg.CookieSecure, int(cfg.CacheTTL/time.Second)),
		Guards:       middleware.NewAuthMW(cfg.Routes, cfg.GuardWait),
		RoleGate:     middleware.NewCasbinMW(c.Policy, cfg.Routes, c.Audit),
		Metrics:      c.Metrics.Handler(),
		Logger:       c.Logger,
	})
}

// Run serves the gateway until ctx is cancelled, then shuts down gracefully
func Run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	gin.SetMode(cfg.GinMode)

	c, err := NewContainer(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(c),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.InfoContext(ctx, "starting carebook gateway", "address", srv.Addr, "api", cfg.APIBaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
