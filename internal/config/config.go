package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aman-churiwal/gatekeeper/internal/loadbalancer"
	"github.com/aman-churiwal/gatekeeper/internal/models"
	"github.com/aman-churiwal/gatekeeper/internal/pathmatch"
	"github.com/aman-churiwal/gatekeeper/internal/proxy"
	"github.com/aman-churiwal/gatekeeper/internal/ratelimit"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Identity  IdentityConfig  `json:"identity"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Upstream  UpstreamConfig  `json:"upstream"`
}

type ServerConfig struct {
	Port        string `json:"port"`
	Environment string `json:"environment"`
}

type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

func (r RedisConfig) GetRedisAddr() string {
	return r.Host + ":" + r.Port
}

// UpstreamConfig mounts a rate limited reverse proxy at Prefix when Targets is non-empty.
type UpstreamConfig struct {
	Prefix            string   `json:"prefix"`
	Targets           []string `json:"targets"`
	Strategy          string   `json:"strategy"`
	BreakerFailures   int      `json:"breakerFailures"`
	BreakerCooldownMs int64    `json:"breakerCooldownMs"`
}

type IdentityConfig struct {
	// Secret keys the HMAC used for identity hashes.
	Secret string `json:"secret"`
	// JWTSecret enables bearer token subjects as identities when set.
	JWTSecret string `json:"jwtSecret"`
}

type RateLimitConfig struct {
	WindowMs            int64         `json:"windowMs"`
	Max                 int           `json:"max"`
	Algorithm           string        `json:"algorithm"`
	SkipPaths           []string      `json:"skipPaths"`
	Tiers               []models.Tier `json:"tiers"`
	BlockDurationMs     int64         `json:"blockDurationMs"`
	SuspiciousThreshold int           `json:"suspiciousThreshold"`
	ResetOnHigh         *bool         `json:"resetOnHigh,omitempty"`
	AdminAllowList      []string      `json:"adminAllowList"`
	AdminKey            string        `json:"adminKey,omitempty"`
	SecurityLogSinkPath string        `json:"securityLogSinkPath,omitempty"`
	FailOpen            *bool         `json:"failOpen,omitempty"`
	StatusCode          int           `json:"statusCode"`
	Message             string        `json:"message"`
	AuditAllowed        bool          `json:"auditAllowed"`
	Store               string        `json:"store"`
	// AuditQueryMax bounds GET /admin/audit-logs per identity and window. Zero means max.
	AuditQueryMax int `json:"auditQueryMax"`
	// AdminMax bounds the other admin routes per identity and window. Zero means max.
	AdminMax int `json:"adminMax"`
	// StoreBreaker trips after this many consecutive postgres or redis failures. Zero uses the breaker default.
	StoreBreakerFailures   int   `json:"storeBreakerFailures"`
	StoreBreakerCooldownMs int64 `json:"storeBreakerCooldownMs"`
}

func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

func (r RateLimitConfig) BlockDuration() time.Duration {
	return time.Duration(r.BlockDurationMs) * time.Millisecond
}

func (r RateLimitConfig) Defaults() ratelimit.Limits {
	return ratelimit.Limits{Max: r.Max, Window: r.Window()}
}

func (r RateLimitConfig) FailOpenEnabled() bool {
	return r.FailOpen == nil || *r.FailOpen
}

func (r RateLimitConfig) ResetOnHighEnabled() bool {
	return r.ResetOnHigh == nil || *r.ResetOnHigh
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        "8080",
			Environment: EnvProduction,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: "6379",
		},
		Upstream: UpstreamConfig{
			Prefix:   "/proxy",
			Strategy: loadbalancer.StrategyRoundRobin,
		},
		RateLimit: RateLimitConfig{
			WindowMs:            15 * 60 * 1000,
			Max:                 100,
			Algorithm:           ratelimit.AlgorithmFixedWindow,
			SkipPaths:           []string{"/health", "/metrics"},
			BlockDurationMs:     15 * 60 * 1000,
			SuspiciousThreshold: 5,
			StatusCode:          http.StatusTooManyRequests,
			Store:               StoreMemory,
			AuditQueryMax:       30,
			AdminMax:            10,
		},
	}
}

// Load reads a JSON file over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("GATEWAY_ENV", &c.Server.Environment)
	setString("PORT", &c.Server.Port)
	setString("DATABASE_URL", &c.Database.DSN)
	setString("REDIS_PASSWORD", &c.Redis.Password)
	setString("IDENTITY_SECRET", &c.Identity.Secret)
	setString("JWT_SECRET", &c.Identity.JWTSecret)
	setString("ADMIN_KEY", &c.RateLimit.AdminKey)
	setString("RATE_LIMIT_STORE", &c.RateLimit.Store)

	if addr, ok := os.LookupEnv("REDIS_ADDR"); ok && addr != "" {
		host, port, found := strings.Cut(addr, ":")
		if !found {
			return fmt.Errorf("REDIS_ADDR must be host:port, got %q", addr)
		}
		c.Redis.Host, c.Redis.Port = host, port
	}

	if v, ok := os.LookupEnv("FAIL_OPEN"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FAIL_OPEN: %w", err)
		}
		c.RateLimit.FailOpen = &b
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// Validate fails fast on settings that would otherwise surface while serving.
func (c *Config) Validate() error {
	rl := c.RateLimit

	if c.Identity.Secret == "" {
		return &ratelimit.ConfigurationError{Field: "identity.secret", Reason: "must be set (IDENTITY_SECRET)"}
	}
	if rl.WindowMs <= 0 {
		return &ratelimit.ConfigurationError{Field: "windowMs", Reason: "must be greater than zero"}
	}
	if rl.Max < 0 {
		return &ratelimit.ConfigurationError{Field: "max", Reason: "must not be negative"}
	}
	if rl.BlockDurationMs < 0 {
		return &ratelimit.ConfigurationError{Field: "blockDurationMs", Reason: "must not be negative"}
	}
	if rl.SuspiciousThreshold < 0 {
		return &ratelimit.ConfigurationError{Field: "suspiciousThreshold", Reason: "must not be negative"}
	}
	if rl.StatusCode != 0 && (rl.StatusCode < 400 || rl.StatusCode > 599) {
		return &ratelimit.ConfigurationError{Field: "statusCode", Reason: "must be a 4xx or 5xx status"}
	}
	if rl.StoreBreakerFailures < 0 || rl.StoreBreakerCooldownMs < 0 {
		return &ratelimit.ConfigurationError{Field: "storeBreaker", Reason: "must not be negative"}
	}
	if rl.AuditQueryMax < 0 {
		return &ratelimit.ConfigurationError{Field: "auditQueryMax", Reason: "must not be negative"}
	}
	if rl.AdminMax < 0 {
		return &ratelimit.ConfigurationError{Field: "adminMax", Reason: "must not be negative"}
	}

	if _, err := ratelimit.NewAlgorithm(rl.Algorithm); err != nil {
		return err
	}
	if _, err := ratelimit.NewTierResolver(rl.Tiers, rl.Defaults()); err != nil {
		return err
	}
	if _, err := pathmatch.New(rl.SkipPaths); err != nil {
		return &ratelimit.ConfigurationError{Field: "skipPaths", Reason: err.Error()}
	}

	switch rl.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Database.DSN == "" {
			return &ratelimit.ConfigurationError{Field: "database.dsn", Reason: "required for the postgres store (DATABASE_URL)"}
		}
	case StoreRedis:
		if c.Redis.Host == "" || c.Redis.Port == "" {
			return &ratelimit.ConfigurationError{Field: "redis", Reason: "host and port are required for the redis store"}
		}
	default:
		return &ratelimit.ConfigurationError{Field: "store", Reason: fmt.Sprintf("unknown store %q", rl.Store)}
	}

	if err := c.Upstream.validate(); err != nil {
		return err
	}

	switch c.Server.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return &ratelimit.ConfigurationError{Field: "server.environment", Reason: fmt.Sprintf("unknown environment %q", c.Server.Environment)}
	}

	return nil
}

func (u UpstreamConfig) validate() error {
	if len(u.Targets) == 0 {
		return nil
	}
	if !strings.HasPrefix(u.Prefix, "/") || u.Prefix == "/" {
		return &ratelimit.ConfigurationError{Field: "upstream.prefix", Reason: "must be a path below /"}
	}
	for _, target := range u.Targets {
		if _, err := proxy.ParseTarget(target); err != nil {
			return &ratelimit.ConfigurationError{Field: "upstream.targets", Reason: err.Error()}
		}
	}
	if _, err := loadbalancer.NewStrategy(u.Strategy); err != nil {
		return &ratelimit.ConfigurationError{Field: "upstream.strategy", Reason: err.Error()}
	}
	if u.BreakerFailures < 0 || u.BreakerCooldownMs < 0 {
		return &ratelimit.ConfigurationError{Field: "upstream.breaker", Reason: "must not be negative"}
	}
	return nil
}
