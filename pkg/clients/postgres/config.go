package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxSQLTruncateLen bounds SQL statements recorded in trace spans.
const maxSQLTruncateLen = 100

// Connection defaults.
const (
	DefaultHost              = "localhost"
	DefaultPort              = 5432
	DefaultDatabase          = "messaged"
	DefaultUser              = "messaged"
	DefaultMaxConnLifetime   = time.Hour
	DefaultMaxConnIdleTime   = 30 * time.Minute
	DefaultHealthCheckPeriod = time.Minute
	DefaultConnectTimeout    = 10 * time.Second
	DefaultHealthTimeout     = 5 * time.Second
)

// Pool size defaults.
const (
	DefaultMaxConns int32 = 10
	DefaultMinConns int32 = 2
)

// SSLMode maps to the PostgreSQL sslmode connection parameter.
type SSLMode string

const (
	SSLModeDisable    SSLMode = "disable"
	SSLModeAllow      SSLMode = "allow"
	SSLModePrefer     SSLMode = "prefer"
	SSLModeRequire    SSLMode = "require"
	SSLModeVerifyCA   SSLMode = "verify-ca"
	SSLModeVerifyFull SSLMode = "verify-full"
)

func (m SSLMode) String() string { return string(m) }

// Valid reports whether m is a recognized sslmode.
func (m SSLMode) Valid() bool {
	switch m {
	case SSLModeDisable, SSLModeAllow, SSLModePrefer,
		SSLModeRequire, SSLModeVerifyCA, SSLModeVerifyFull:
		return true
	}
	return false
}

const redacted = "[REDACTED]"

// Secret is a password that formats as [REDACTED].
type Secret string

func (s Secret) String() string { return redacted }

func (s Secret) GoString() string { return redacted }

// Value returns the raw password.
func (s Secret) Value() string { return string(s) }

// MarshalText implements encoding.TextMarshaler with the redacted form.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// Config holds PostgreSQL connection settings. When URI is set it takes
// precedence over Host, Port, Database, User and Password.
type Config struct {
	// URI is a postgres:// or postgresql:// connection string.
	URI string `yaml:"uri" json:"uri,omitempty" env:"URI"`

	Host     string `yaml:"host" json:"host,omitempty" env:"HOST"`
	Port     int    `yaml:"port" json:"port,omitempty" env:"PORT"`
	Database string `yaml:"database" json:"database" env:"DATABASE"`
	User     string `yaml:"user" json:"user" env:"USER"`
	Password Secret `yaml:"password" json:"-" env:"PASSWORD"`

	// SSLMode defaults to prefer.
	SSLMode SSLMode `yaml:"ssl_mode" json:"ssl_mode,omitempty" env:"SSLMODE"`

	// SSLRootCert is a PEM CA bundle used for verify-ca and verify-full.
	SSLRootCert string `yaml:"ssl_root_cert" json:"ssl_root_cert,omitempty" env:"SSL_ROOT_CERT"`

	MaxConns          int32         `yaml:"max_conns" json:"max_conns,omitempty" env:"MAX_CONNS"`
	MinConns          int32         `yaml:"min_conns" json:"min_conns,omitempty" env:"MIN_CONNS"`
	MaxConnLifetime   time.Duration `yaml:"max_conn_lifetime" json:"max_conn_lifetime,omitempty" env:"MAX_CONN_LIFETIME"`
	MaxConnIdleTime   time.Duration `yaml:"max_conn_idle_time" json:"max_conn_idle_time,omitempty" env:"MAX_CONN_IDLE_TIME"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period" json:"health_check_period,omitempty" env:"HEALTH_CHECK_PERIOD"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" json:"connect_timeout,omitempty" env:"CONNECT_TIMEOUT"`
}

// DefaultConfig returns a Config for a local database.
func DefaultConfig() *Config {
	return &Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Database:          DefaultDatabase,
		User:              DefaultUser,
		SSLMode:           SSLModePrefer,
		MaxConns:          DefaultMaxConns,
		MinConns:          DefaultMinConns,
		MaxConnLifetime:   DefaultMaxConnLifetime,
		MaxConnIdleTime:   DefaultMaxConnIdleTime,
		HealthCheckPeriod: DefaultHealthCheckPeriod,
		ConnectTimeout:    DefaultConnectTimeout,
	}
}

// Validate applies defaults to zero fields and returns the first invalid
// value. Structured fields are not checked when URI is set.
func (c *Config) Validate() error {
	c.applyPoolDefaults()

	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return fmt.Errorf("postgres: config URI is invalid: %w", err)
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return fmt.Errorf("postgres: config URI scheme must be postgres:// or postgresql://, got %q", u.Scheme)
		}
		return nil
	}

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("postgres: config port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Database == "" {
		return errors.New("postgres: config database must not be empty")
	}
	if c.User == "" {
		return errors.New("postgres: config user must not be empty")
	}
	if c.SSLMode == "" {
		c.SSLMode = SSLModePrefer
	}
	if !c.SSLMode.Valid() {
		return fmt.Errorf("postgres: config ssl_mode %q is not valid", c.SSLMode)
	}
	if c.SSLRootCert != "" {
		if _, err := os.Stat(c.SSLRootCert); err != nil {
			return fmt.Errorf("postgres: config ssl_root_cert %q is not accessible: %w", c.SSLRootCert, err)
		}
	}
	if c.MaxConns < c.MinConns {
		return fmt.Errorf("postgres: config max_conns (%d) must be >= min_conns (%d)", c.MaxConns, c.MinConns)
	}
	return nil
}

func (c *Config) applyPoolDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.MinConns == 0 {
		c.MinConns = DefaultMinConns
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = DefaultMaxConnLifetime
	}
	if c.MaxConnIdleTime == 0 {
		c.MaxConnIdleTime = DefaultMaxConnIdleTime
	}
	if c.HealthCheckPeriod == 0 {
		c.HealthCheckPeriod = DefaultHealthCheckPeriod
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}

// ConnectionString returns URI when set, otherwise a URL built from the
// structured fields. The result carries the password in cleartext.
func (c *Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Database,
	}
	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", string(c.SSLMode))
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// databaseName returns the database named by URI or Database.
func (c *Config) databaseName() string {
	if c.URI != "" {
		if u, err := url.Parse(c.URI); err == nil {
			return strings.TrimLeft(u.Path, "/")
		}
	}
	return c.Database
}

// tlsConfig returns nil unless a custom CA is configured.
func (c *Config) tlsConfig() (*tls.Config, error) {
	if c.SSLRootCert == "" || c.SSLMode == SSLModeDisable {
		return nil, nil
	}

	pem, err := os.ReadFile(c.SSLRootCert)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to read CA certificate %q: %w", c.SSLRootCert, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("postgres: failed to parse CA certificate from %q", c.SSLRootCert)
	}

	tlsCfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	switch c.SSLMode {
	case SSLModeVerifyFull:
		tlsCfg.ServerName = c.Host
	case SSLModeVerifyCA:
		// Chain only; the hostname is not checked.
		tlsCfg.InsecureSkipVerify = true
		tlsCfg.VerifyConnection = func(cs tls.ConnectionState) error {
			if len(cs.PeerCertificates) == 0 {
				return errors.New("postgres: server did not present a certificate")
			}
			opts := x509.VerifyOptions{Roots: pool, Intermediates: x509.NewCertPool()}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	default:
		tlsCfg.InsecureSkipVerify = true
	}
	return tlsCfg, nil
}

func truncateSQL(sql string) string {
	if len(sql) <= maxSQLTruncateLen {
		return sql
	}
	return sql[:maxSQLTruncateLen] + "..."
}
