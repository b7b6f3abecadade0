package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/you/carebook/domain"
	"github.com/you/carebook/internal/config"
	"github.com/you/carebook/internal/infrastructure/api"
	"github.com/you/carebook/internal/infrastructure/cache"
	"github.com/you/carebook/internal/infrastructure/database"
	"github.com/you/carebook/internal/logger"
	"github.com/you/carebook/internal/services"
	"github.com/you/carebook/internal/telemetry"
)

// Container holds all dependencies
type Container struct {
	// Config
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	RedisClient *database.RedisClient
	APIClient   *api.Client
	Metrics     *telemetry.Metrics
	Audit       domain.AuditLogger

	// Services
	Policy   *services.RoutePolicy
	Registry *services.SessionRegistry
}

// NewContainer creates and initializes all dependencies
func NewContainer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Container, error) {
	container := &Container{Config: cfg, Logger: log}

	if err := container.initRedis(ctx); err != nil {
		return nil, err
	}
	container.initInfrastructure()
	if err := container.initServices(); err != nil {
		container.Close()
		return nil, err
	}

	return container, nil
}

func (c *Container) initRedis(ctx context.Context) error {
	c.RedisClient = database.NewRedis(c.Config.RedisAddr, c.Config.RedisPassword, c.Config.RedisDB)
	return c.RedisClient.Ping(ctx, 5*time.Second)
}

func (c *Container) initInfrastructure() {
	c.APIClient = api.NewClient(c.Config.APIBaseURL, c.Config.APITimeout)
	c.Metrics = telemetry.NewMetrics()
	c.Audit = logger.NewAuditLogger(c.Logger)
}

func (c *Container) initServices() error {
	policy, err := services.NewRoutePolicy(c.Config.Routes)
	if err != nil {
		return err
	}
	c.Policy = policy
	c.Logger.Info("route policy loaded", "rules", len(policy.Policies()), "grants", len(c.Config.Routes.Grants))

	deps := services.SessionDeps{
		Auth:         c.APIClient,
		Registration: c.APIClient,
		Settings:     services.SettingsFromConfig(c.Config),
		Logger:       c.Logger,
		Audit:        c.Audit,
		Metrics:      c.Metrics,
	}
	c.Registry, err = services.NewSessionRegistry(c.Config.RegistrySize, c.newSessionContext(deps), c.Metrics)
	return err
}

// newSessionContext builds the per-device context: a Redis cache
// namespaced by device and a validator reading that device's token
func (c *Container) newSessionContext(deps services.SessionDeps) services.ContextFactory {
	return func(deviceID string) *services.SessionContext {
		deviceCache := cache.NewRedisCache(c.RedisClient.Client, c.Config.RedisKeyPrefix, deviceID, c.Config.CacheTTL, c.Logger)
		validator := api.NewSessionValidator(c.APIClient, deviceCache)
		return services.NewSessionContext(deviceID, deviceCache, validator, deps)
	}
}

// Close releases every context and connection
func (c *Container) Close() error {
	if c.Registry != nil {
		c.Registry.Close()
	}
	if c.RedisClient != nil {
		return c.RedisClient.Close()
	}
	return nil
}
