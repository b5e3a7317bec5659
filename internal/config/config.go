package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/navimed/navimed/internal/platform/middleware"
)

// Known appointment storage backends, in the order they are tried by default.
const (
	BackendMemory   = "memory"
	BackendSession  = "session"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// CSRF session derivation modes.
const (
	SessionModeCookie      = "cookie"
	SessionModeFingerprint = "fingerprint"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	DefaultTenant       string        `mapstructure:"DEFAULT_TENANT"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
	CSRFSessionMode     string        `mapstructure:"CSRF_SESSION_MODE"`
	CSRFSessionSecret   string        `mapstructure:"CSRF_SESSION_SECRET"`
	CSRFTokenTTL        time.Duration `mapstructure:"CSRF_TOKEN_TTL"`
	CSRFSweepInterval   time.Duration `mapstructure:"CSRF_SWEEP_INTERVAL"`
	CSRFMaxSessions     int           `mapstructure:"CSRF_MAX_SESSIONS"`
	CSRFPublicPaths     []string      `mapstructure:"CSRF_PUBLIC_PATHS"`
	AppointmentBackends []string      `mapstructure:"APPOINTMENT_BACKENDS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DEFAULT_TENANT", "metro-general")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("CSRF_SESSION_MODE", SessionModeCookie)
	v.SetDefault("CSRF_TOKEN_TTL", time.Hour)
	v.SetDefault("CSRF_SWEEP_INTERVAL", time.Hour)
	v.SetDefault("CSRF_MAX_SESSIONS", 100000)

	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
		"DEFAULT_TENANT", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"CSRF_SESSION_MODE", "CSRF_SESSION_SECRET", "CSRF_TOKEN_TTL", "CSRF_SWEEP_INTERVAL",
		"CSRF_MAX_SESSIONS", "CSRF_PUBLIC_PATHS", "APPOINTMENT_BACKENDS",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.CSRFPublicPaths = splitList(cfg.CSRFPublicPaths, v.GetString("CSRF_PUBLIC_PATHS"))
	cfg.AppointmentBackends = splitList(cfg.AppointmentBackends, v.GetString("APPOINTMENT_BACKENDS"))
	if len(cfg.AppointmentBackends) == 0 {
		cfg.AppointmentBackends = cfg.DefaultBackends()
	}

	if cfg.IsDev() && cfg.CSRFSessionSecret == "" {
		log.Println("WARNING: CSRF_SESSION_SECRET is not set; session cookies are signed with a random per-process key.")
	}

	return cfg, nil
}

// splitList normalizes a comma separated env value. Viper leaves a single
// string element when the variable comes from the environment.
func splitList(parsed []string, raw string) []string {
	if len(parsed) > 0 {
		raw = strings.Join(parsed, ",")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// DefaultBackends returns the appointment backend chain implied by the
// configured infrastructure: in-process storages first, then Redis and
// Postgres when their URLs are present.
func (c *Config) DefaultBackends() []string {
	backends := []string{BackendMemory, BackendSession}
	if c.RedisURL != "" {
		backends = append(backends, BackendRedis)
	}
	if c.DatabaseURL != "" {
		backends = append(backends, BackendPostgres)
	}
	return backends
}

// SessionSecret decodes CSRF_SESSION_SECRET. A nil slice means no secret
// was configured.
func (c *Config) SessionSecret() ([]byte, error) {
	if c.CSRFSessionSecret == "" {
		return nil, nil
	}
	return hex.DecodeString(c.CSRFSessionSecret)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.CSRFSessionMode {
	case SessionModeCookie, SessionModeFingerprint:
	default:
		return fmt.Errorf("CSRF_SESSION_MODE must be %q or %q, got %q",
			SessionModeCookie, SessionModeFingerprint, c.CSRFSessionMode)
	}

	secret, err := c.SessionSecret()
	if err != nil {
		return fmt.Errorf("CSRF_SESSION_SECRET is not valid hex: %w", err)
	}
	if secret != nil && len(secret) < 32 {
		return fmt.Errorf("CSRF_SESSION_SECRET must be at least 32 bytes (64 hex chars), got %d bytes", len(secret))
	}
	if c.IsProduction() && c.CSRFSessionMode == SessionModeCookie && secret == nil {
		return fmt.Errorf("CSRF_SESSION_SECRET is required in production when CSRF_SESSION_MODE is %q", SessionModeCookie)
	}

	if !middleware.ValidTenantID(c.DefaultTenant) {
		return fmt.Errorf("DEFAULT_TENANT %q must match [a-zA-Z0-9_-]{1,64}", c.DefaultTenant)
	}

	if c.CSRFTokenTTL <= 0 {
		return fmt.Errorf("CSRF_TOKEN_TTL must be positive, got %s", c.CSRFTokenTTL)
	}
	if c.CSRFSweepInterval <= 0 {
		return fmt.Errorf("CSRF_SWEEP_INTERVAL must be positive, got %s", c.CSRFSweepInterval)
	}
	if c.CSRFMaxSessions <= 0 {
		return fmt.Errorf("CSRF_MAX_SESSIONS must be positive, got %d", c.CSRFMaxSessions)
	}

	if len(c.AppointmentBackends) == 0 {
		return fmt.Errorf("APPOINTMENT_BACKENDS must name at least one backend")
	}
	seen := make(map[string]bool, len(c.AppointmentBackends))
	for _, b := range c.AppointmentBackends {
		switch b {
		case BackendMemory, BackendSession:
		case BackendRedis:
			if c.RedisURL == "" {
				return fmt.Errorf("REDIS_URL is required for the %q appointment backend", b)
			}
		case BackendPostgres:
			if c.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required for the %q appointment backend", b)
			}
		default:
			return fmt.Errorf("unknown appointment backend %q", b)
		}
		if seen[b] {
			return fmt.Errorf("appointment backend %q listed twice", b)
		}
		seen[b] = true
	}

	return nil
}
