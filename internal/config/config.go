package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/you/carebook/domain"
)

type AppConfig struct {
	Port    int    `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
}

type APIConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

type SessionConfig struct {
	CacheTTL        string `yaml:"cache_ttl"`
	ValidateTimeout string `yaml:"validate_timeout"`
	GuardWait       string `yaml:"guard_wait"`
	RevalidateAfter string `yaml:"revalidate_after"`
	DegradedRetry   string `yaml:"degraded_retry"`
	RegistrySize    int    `yaml:"registry_size"`
	CookieName      string `yaml:"cookie_name"`
	CookieSecure    bool   `yaml:"cookie_secure"`
}

type OTPConfig struct {
	ResendCooldown string `yaml:"resend_cooldown"`
}

type RoutesConfig struct {
	Home       string              `yaml:"home"`
	Login      string              `yaml:"login"`
	Register   string              `yaml:"register"`
	Dashboards map[string]string   `yaml:"dashboards"`
	Grants     map[string][]string `yaml:"grants"`
}

type CLIConfig struct {
	CacheDir string `yaml:"cache_dir"`
}

type ConfigFile struct {
	App     AppConfig     `yaml:"app"`
	API     APIConfig     `yaml:"api"`
	Redis   RedisConfig   `yaml:"redis"`
	Session SessionConfig `yaml:"session"`
	OTP     OTPConfig     `yaml:"otp"`
	Routes  RoutesConfig  `yaml:"routes"`
	CLI     CLIConfig     `yaml:"cli"`
}

// Routes is the navigation surface the session core redirects to
type Routes struct {
	Home       string
	Login      string
	Register   string
	Dashboards map[domain.Role]string
	Grants     map[domain.Role][]string
}

type Config struct {
	Port              string
	GinMode           string
	APIBaseURL        string
	APITimeout        time.Duration
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisKeyPrefix    string
	CacheTTL          time.Duration
	ValidateTimeout   time.Duration
	GuardWait         time.Duration
	RevalidateAfter   time.Duration
	DegradedRetry     time.Duration
	RegistrySize      int
	CookieName        string
	CookieSecure      bool
	OTPResendCooldown time.Duration
	Routes            Routes
	CLICacheDir       string
}

// DefaultRoutes is the navigation surface used when none is configured
func DefaultRoutes() Routes {
	return Routes{
		Home:     "/",
		Login:    "/login",
		Register: "/register",
		Dashboards: map[domain.Role]string{
			domain.RoleAdmin:       "/admin/dashboard",
			domain.RoleClient:      "/client/dashboard",
			domain.RoleCaretaker:   "/caretaker/dashboard",
			domain.RoleAgencyOwner: "/agency/dashboard",
		},
	}
}

func defaultFile() ConfigFile {
	return ConfigFile{
		App:   AppConfig{Port: 8080, GinMode: "release"},
		API:   APIConfig{BaseURL: "http://localhost:4000/api", Timeout: "15s"},
		Redis: RedisConfig{Addr: "localhost:6379", KeyPrefix: "carebook"},
		Session: SessionConfig{
			CacheTTL:        "720h",
			ValidateTimeout: "10s",
			GuardWait:       "2s",
			RevalidateAfter: "5m",
			DegradedRetry:   "10s",
			RegistrySize:    10000,
			CookieName:      "carebook_device",
		},
		OTP: OTPConfig{ResendCooldown: "30s"},
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// Load reads the YAML config (path from CAREBOOK_CONFIG, default
// config/config.yml), applies environment overrides and validates it.
// A missing file is not an error; defaults are used instead.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	path := env("CAREBOOK_CONFIG", "config/config.yml")
	configFile, err := loadConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return fromFile(configFile)
}

func fromFile(configFile *ConfigFile) (*Config, error) {
	apiTimeout, err := time.ParseDuration(configFile.API.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid API timeout: %w", err)
	}
	cacheTTL, err := time.ParseDuration(configFile.Session.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("invalid session cache TTL: %w", err)
	}
	validateTimeout, err := time.ParseDuration(configFile.Session.ValidateTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid session validate timeout: %w", err)
	}
	guardWait, err := time.ParseDuration(configFile.Session.GuardWait)
	if err != nil {
		return nil, fmt.Errorf("invalid session guard wait: %w", err)
	}
	revalidateAfter, err := time.ParseDuration(configFile.Session.RevalidateAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid session revalidate interval: %w", err)
	}
	degradedRetry, err := time.ParseDuration(configFile.Session.DegradedRetry)
	if err != nil {
		return nil, fmt.Errorf("invalid session degraded retry: %w", err)
	}
	cooldown, err := time.ParseDuration(configFile.OTP.ResendCooldown)
	if err != nil {
		return nil, fmt.Errorf("invalid OTP resend cooldown: %w", err)
	}

	routes, err := buildRoutes(configFile.Routes)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              env("PORT", strconv.Itoa(configFile.App.Port)),
		GinMode:           env("GIN_MODE", configFile.App.GinMode),
		APIBaseURL:        env("CAREBOOK_API_URL", configFile.API.BaseURL),
		APITimeout:        apiTimeout,
		RedisAddr:         env("REDIS_ADDR", configFile.Redis.Addr),
		RedisPassword:     env("REDIS_PASSWORD", configFile.Redis.Password),
		RedisDB:           envInt("REDIS_DB", configFile.Redis.DB),
		RedisKeyPrefix:    configFile.Redis.KeyPrefix,
		CacheTTL:          cacheTTL,
		ValidateTimeout:   validateTimeout,
		GuardWait:         guardWait,
		RevalidateAfter:   revalidateAfter,
		DegradedRetry:     degradedRetry,
		RegistrySize:      configFile.Session.RegistrySize,
		CookieName:        configFile.Session.CookieName,
		CookieSecure:      configFile.Session.CookieSecure,
		OTPResendCooldown: cooldown,
		Routes:            routes,
		CLICacheDir:       env("CAREBOOK_CACHE_DIR", configFile.CLI.CacheDir),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api.base_url is required")
	}
	if c.ValidateTimeout <= 0 {
		return errors.New("session.validate_timeout must be positive")
	}
	if c.RevalidateAfter < 0 || c.DegradedRetry < 0 {
		return errors.New("session revalidation intervals must not be negative")
	}
	if c.RegistrySize <= 0 {
		return errors.New("session.registry_size must be positive")
	}
	if c.CookieName == "" {
		return errors.New("session.cookie_name is required")
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown gin mode %q", c.GinMode)
	}
	return nil
}

func buildRoutes(rc RoutesConfig) (Routes, error) {
	routes := DefaultRoutes()
	if rc.Home != "" {
		routes.Home = rc.Home
	}
	if rc.Login != "" {
		routes.Login = rc.Login
	}
	if rc.Register != "" {
		routes.Register = rc.Register
	}
	for name, path := range rc.Dashboards {
		role := domain.Role(name)
		if !role.Valid() {
			return Routes{}, fmt.Errorf("routes.dashboards: unknown role %q", name)
		}
		routes.Dashboards[role] = path
	}
	for name, prefixes := range rc.Grants {
		role := domain.Role(name)
		if !role.Valid() {
			return Routes{}, fmt.Errorf("routes.grants: unknown role %q", name)
		}
		for _, prefix := range prefixes {
			if !strings.HasPrefix(prefix, "/") {
				return Routes{}, fmt.Errorf("routes.grants: %s prefix %q must start with /", name, prefix)
			}
		}
		if routes.Grants == nil {
			routes.Grants = map[domain.Role][]string{}
		}
		routes.Grants[role] = append(routes.Grants[role], prefixes...)
	}
	return routes, nil
}

func loadConfigFile(path string) (*ConfigFile, error) {
	config := defaultFile()

	bytes, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &config, nil
		}
		return nil, fmt.Errorf("could not read config file at %s: %w", path, err)
	}

	if err := yaml.Unmarshal(bytes, &config); err != nil {
		return nil, fmt.Errorf("could not parse config yaml: %w", err)
	}

	return &config, nil
}
