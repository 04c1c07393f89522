package authcore

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every variable read by ConfigFromEnv.
const EnvPrefix = "AUTHCORE_"

// Config is the full engine configuration. Start from DefaultConfig or
// ConfigFromEnv; the zero value is not valid.
type Config struct {
	Token     TokenConfig     `envPrefix:"TOKEN_"`
	Lockout   LockoutConfig   `envPrefix:"LOCKOUT_"`
	Session   SessionConfig   `envPrefix:"SESSION_"`
	Password  PasswordConfig  `envPrefix:"PASSWORD_"`
	RBAC      RBACConfig      `envPrefix:"RBAC_"`
	RateLimit RateLimitConfig `envPrefix:"RATELIMIT_"`
	Store     StoreConfig     `envPrefix:"STORE_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
	Metrics   MetricsConfig   `envPrefix:"METRICS_"`
	Log       LogConfig       `envPrefix:"LOG_"`
}

// TokenConfig configures signing and lifetimes.
type TokenConfig struct {
	// SigningMethod is "hs256" or "ed25519".
	SigningMethod string `env:"SIGNING_METHOD"`
	// SigningKey is the HS256 secret or a PEM ed25519 private key. It is
	// removed from the environment once read.
	SigningKey string `env:"SIGNING_KEY,unset"`
	PublicKey  string `env:"PUBLIC_KEY"`
	KeyID      string `env:"KEY_ID"`
	Issuer     string `env:"ISSUER"`
	Audience   string `env:"AUDIENCE"`

	AccessTTL       time.Duration `env:"ACCESS_TTL"`
	RefreshTTL      time.Duration `env:"REFRESH_TTL"`
	ShortRefreshTTL time.Duration `env:"SHORT_REFRESH_TTL"`
	Leeway          time.Duration `env:"LEEWAY"`

	RotateRefreshTokens bool `env:"ROTATE_REFRESH"`
	RevokeAllOnReuse    bool `env:"REVOKE_ALL_ON_REUSE"`
}

// Lockout backends.
const (
	LockoutBackendIdentity = "identity"
	LockoutBackendRedis    = "redis"
)

type LockoutConfig struct {
	Threshold int           `env:"THRESHOLD"`
	Duration  time.Duration `env:"DURATION"`
	Backend   string        `env:"BACKEND"`
}

type SessionConfig struct {
	TouchOnValidate bool          `env:"TOUCH_ON_VALIDATE"`
	ReapInterval    time.Duration `env:"REAP_INTERVAL"`
}

// PasswordConfig holds argon2id cost parameters.
type PasswordConfig struct {
	Memory      uint32 `env:"MEMORY_KB"`
	Time        uint32 `env:"TIME"`
	Parallelism uint8  `env:"PARALLELISM"`
	SaltLength  uint32 `env:"SALT_LENGTH"`
	KeyLength   uint32 `env:"KEY_LENGTH"`
}

type RBACConfig struct {
	MaxDepth int `env:"MAX_DEPTH"`
	// LiveResolution resolves permissions from current role state on every
	// validated request instead of trusting the token snapshot.
	LiveResolution bool `env:"LIVE_RESOLUTION"`
}

// RateCeiling is a per-minute and per-hour budget.
type RateCeiling struct {
	PerMinute int `env:"PER_MINUTE"`
	PerHour   int `env:"PER_HOUR"`
}

type RateLimitConfig struct {
	Enabled       bool        `env:"ENABLED"`
	Superuser     RateCeiling `envPrefix:"SUPERUSER_"`
	User          RateCeiling `envPrefix:"USER_"`
	AnonymousAuth RateCeiling `envPrefix:"ANON_AUTH_"`
	Anonymous     RateCeiling `envPrefix:"ANON_"`

	// AuthRoutePrefixes marks auth-sensitive routes. The matching prefix
	// is the route class in the counter key.
	AuthRoutePrefixes   []string      `env:"AUTH_ROUTES" envSeparator:","`
	DegradedLogInterval time.Duration `env:"DEGRADED_LOG_INTERVAL"`
}

// StoreConfig bounds every outbound store call.
type StoreConfig struct {
	Timeout time.Duration `env:"TIMEOUT"`
}

type AuditConfig struct {
	Enabled    bool `env:"ENABLED"`
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

type LogConfig struct {
	Level       string `env:"LEVEL"`
	Environment string `env:"ENVIRONMENT"`
	Service     string `env:"SERVICE"`
}

// DefaultConfig returns the stock configuration. The signing key is
// empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod:       "hs256",
			AccessTTL:           15 * time.Minute,
			RefreshTTL:          7 * 24 * time.Hour,
			ShortRefreshTTL:     24 * time.Hour,
			Leeway:              30 * time.Second,
			RotateRefreshTokens: true,
			RevokeAllOnReuse:    true,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  15 * time.Minute,
			Backend:   LockoutBackendIdentity,
		},
		Session: SessionConfig{
			TouchOnValidate: true,
			ReapInterval:    10 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RBAC: RBACConfig{
			MaxDepth:       16,
			LiveResolution: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:             true,
			Superuser:           RateCeiling{PerMinute: 1000, PerHour: 10000},
			User:                RateCeiling{PerMinute: 100, PerHour: 1000},
			AnonymousAuth:       RateCeiling{PerMinute: 20, PerHour: 100},
			Anonymous:           RateCeiling{PerMinute: 60, PerHour: 500},
			AuthRoutePrefixes:   []string{"/login", "/refresh"},
			DegradedLogInterval: 10 * time.Second,
		},
		Store: StoreConfig{
			Timeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Log: LogConfig{
			Level:       "info",
			Environment: "production",
			Service:     "authcore",
		},
	}
}

// ConfigFromEnv overlays AUTHCORE_* environment variables on the
// defaults and validates the result.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks internal consistency. It does not parse keys; Build
// does that.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Token.SigningMethod) {
	case "hs256":
		if len(c.Token.SigningKey) < 32 {
			return invalid("hs256 signing key must be at least 32 bytes")
		}
	case "ed25519":
		if c.Token.SigningKey == "" && c.Token.PublicKey == "" {
			return invalid("ed25519 requires a private or public key")
		}
	default:
		return invalid("unsupported signing method %q", c.Token.SigningMethod)
	}
	if c.Token.AccessTTL <= 0 {
		return invalid("access TTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return invalid("refresh TTL must be >= access TTL")
	}
	if c.Token.ShortRefreshTTL <= 0 || c.Token.ShortRefreshTTL > c.Token.RefreshTTL {
		return invalid("short refresh TTL must be in (0, refresh TTL]")
	}
	if c.Token.ShortRefreshTTL < c.Token.AccessTTL {
		return invalid("short refresh TTL must be >= access TTL")
	}

	if c.Lockout.Threshold <= 0 {
		return invalid("lockout threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return invalid("lockout duration must be > 0")
	}
	if c.Lockout.Backend != LockoutBackendIdentity && c.Lockout.Backend != LockoutBackendRedis {
		return invalid("lockout backend must be %q or %q", LockoutBackendIdentity, LockoutBackendRedis)
	}

	if c.RBAC.MaxDepth <= 0 || c.RBAC.MaxDepth > 64 {
		return invalid("RBAC max depth must be in [1, 64]")
	}

	for name, ceil := range map[string]RateCeiling{
		"superuser":      c.RateLimit.Superuser,
		"user":           c.RateLimit.User,
		"anonymous_auth": c.RateLimit.AnonymousAuth,
		"anonymous":      c.RateLimit.Anonymous,
	} {
		if ceil.PerMinute <= 0 || ceil.PerHour <= 0 {
			return invalid("%s rate ceilings must be > 0", name)
		}
		if ceil.PerHour < ceil.PerMinute {
			return invalid("%s hourly ceiling below minute ceiling", name)
		}
	}

	if c.Store.Timeout <= 0 || c.Store.Timeout > time.Minute {
		return invalid("store timeout must be in (0, 1m]")
	}
	if c.Session.ReapInterval < 0 {
		return invalid("reap interval must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalid("audit buffer size must be > 0")
	}
	return nil
}
