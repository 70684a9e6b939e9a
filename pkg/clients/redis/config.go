package redis

import (
	"fmt"
	"net/url"
	"time"
)

const maxStatementTruncateLen = 100

// Connection defaults.
const (
	DefaultAddr          = "localhost:6379"
	DefaultPoolSize      = 10
	DefaultMinIdleConns  = 2
	DefaultMaxRetries    = 3
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultWriteTimeout  = 3 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

const redacted = "[REDACTED]"

// Secret is a password that formats as [REDACTED].
type Secret string

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

// Value returns the raw password.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted form.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds Redis connection settings. When URI is set it wins over
// Addr, Password and DB.
type Config struct {
	// URI is a redis:// or rediss:// URL.
	URI string `yaml:"uri" json:"uri,omitempty" env:"URI"`

	// Addr is host:port. Default: localhost:6379.
	Addr string `yaml:"addr" json:"addr,omitempty" env:"ADDR"`

	Password Secret `yaml:"password" json:"-" env:"PASSWORD"`

	DB int `yaml:"db" json:"db" env:"DB"`

	PoolSize     int `yaml:"pool_size" json:"pool_size,omitempty" env:"POOL_SIZE"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns,omitempty" env:"MIN_IDLE_CONNS"`
	MaxRetries   int `yaml:"max_retries" json:"max_retries,omitempty" env:"MAX_RETRIES"`

	DialTimeout  time.Duration `yaml:"dial_timeout" json:"dial_timeout,omitempty" env:"DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout,omitempty" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout,omitempty" env:"WRITE_TIMEOUT"`

	// TLSEnabled turns on TLS 1.2+ for Addr based configuration. URIs
	// select TLS with the rediss scheme.
	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled,omitempty" env:"TLS_ENABLED"`
}

// Validate applies defaults to zero fields and checks the rest.
func (c *Config) Validate() error {
	c.applyDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("redis: config URI is invalid: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis: config URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}

	if c.DB < 0 {
		return fmt.Errorf("redis: config db must be >= 0, got %d", c.DB)
	}
	if c.PoolSize < c.MinIdleConns {
		return fmt.Errorf("redis: config pool_size (%d) must be >= min_idle_conns (%d)", c.PoolSize, c.MinIdleConns)
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("redis: config timeouts must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.PoolSize == 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = DefaultMinIdleConns
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
