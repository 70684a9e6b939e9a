package app

import (
	"time"

	"github.com/StricklySoft/messaged/internal/server"
	"github.com/StricklySoft/messaged/pkg/auth"
	"github.com/StricklySoft/messaged/pkg/clients/postgres"
	"github.com/StricklySoft/messaged/pkg/clients/redis"
	"github.com/StricklySoft/messaged/pkg/config"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by [LoadConfig].
const EnvPrefix = "MESSAGED"

// Verification modes.
const (
	AuthModeOIDC      = "oidc"
	AuthModeSharedKey = "shared-key"
)

// Session backends.
const (
	SessionBackendNone     = "none"
	SessionBackendMemory   = "memory"
	SessionBackendRedis    = "redis"
	SessionBackendPostgres = "postgres"
)

// Config is the complete messaged configuration.
type Config struct {
	Log      LogConfig       `yaml:"log" json:"log" env:"LOG"`
	Server   server.Config   `yaml:"server" json:"server" env:"SERVER"`
	Auth     AuthConfig      `yaml:"auth" json:"auth" env:"AUTH"`
	Session  SessionConfig   `yaml:"session" json:"session" env:"SESSION"`
	Redis    redis.Config    `yaml:"redis" json:"redis" env:"REDIS"`
	Postgres postgres.Config `yaml:"postgres" json:"postgres" env:"POSTGRES"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" env:"FORMAT" envDefault:"json" validate:"oneof=json text"`
}

// AuthConfig selects and configures the token verifier and the path
// rules.
type AuthConfig struct {
	Mode string `yaml:"mode" json:"mode" env:"MODE" envDefault:"oidc" validate:"oneof=oidc shared-key"`

	OIDC      auth.OIDCConfig      `yaml:"oidc" json:"oidc" env:"OIDC"`
	SharedKey auth.SharedKeyConfig `yaml:"shared_key" json:"shared_key" env:"SHARED_KEY"`

	// Rules are evaluated in order, first match wins. When empty, the
	// server base path is protected and every other path is public.
	Rules []auth.Rule `yaml:"rules" json:"rules"`

	// UsernameClaim overrides preferred_username.
	UsernameClaim string `yaml:"username_claim" json:"username_claim" env:"USERNAME_CLAIM"`

	// CacheTTL caps how long a verified token is remembered. Zero
	// disables the cache.
	CacheTTL  time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"CACHE_TTL" envDefault:"1m" validate:"gte=0"`
	CacheSize int           `yaml:"cache_size" json:"cache_size" env:"CACHE_SIZE" envDefault:"1024" validate:"gte=0"`
}

// SessionConfig selects the session registry. "none" keeps the service
// stateless.
type SessionConfig struct {
	Backend string `yaml:"backend" json:"backend" env:"BACKEND" envDefault:"none" validate:"oneof=none memory redis postgres"`

	// TTL expires Redis entries. Zero keeps them until replaced.
	TTL time.Duration `yaml:"ttl" json:"ttl" env:"TTL" envDefault:"24h" validate:"gte=0"`
}

// LoadConfig reads path (optional) and the MESSAGED_* environment.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	err := config.New().WithEnvPrefix(EnvPrefix).WithFile(path).WithStrict().Load(&cfg)
	return cfg, err
}

// Validate checks the settings of the selected verifier and session
// backend. Unselected sections are ignored.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModeOIDC:
		if err := c.Auth.OIDC.Validate(); err != nil {
			return err
		}
	case AuthModeSharedKey:
		if err := c.Auth.SharedKey.Validate(); err != nil {
			return err
		}
	}

	if _, err := c.RuleSet(); err != nil {
		return err
	}

	switch c.Session.Backend {
	case SessionBackendRedis:
		if err := c.Redis.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalConfiguration, "config: invalid redis section")
		}
	case SessionBackendPostgres:
		if err := c.Postgres.Validate(); err != nil {
			return sserr.Wrap(err, sserr.CodeInternalConfiguration, "config: invalid postgres section")
		}
	}
	return nil
}

// RuleSet builds the configured rules, or protects the server base path
// when none are configured.
func (c *Config) RuleSet() (*auth.RuleSet, error) {
	return newRuleSet(c.Server.BasePath, c.Auth.Rules)
}

// ruleConfig is the part of [Config] that decides which paths need a
// token.
type ruleConfig struct {
	Server server.Config `yaml:"server" json:"server" env:"SERVER"`
	Auth   struct {
		Rules []auth.Rule `yaml:"rules" json:"rules"`
	} `yaml:"auth" json:"auth" env:"AUTH"`
}

// LoadRuleSet reads only the server base path and the path rules from
// path (optional) and the MESSAGED_* environment. Verifier and session
// settings are neither read nor validated.
func LoadRuleSet(path string) (*auth.RuleSet, error) {
	var cfg ruleConfig
	if err := config.New().WithEnvPrefix(EnvPrefix).WithFile(path).Load(&cfg); err != nil {
		return nil, err
	}
	return newRuleSet(cfg.Server.BasePath, cfg.Auth.Rules)
}

func newRuleSet(basePath string, rules []auth.Rule) (*auth.RuleSet, error) {
	if len(rules) == 0 {
		return auth.NewRuleSet(auth.ProtectPrefix(basePath))
	}
	return auth.NewRuleSet(rules...)
}
