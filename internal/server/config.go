package server

import "time"

// Config holds the HTTP listener settings.
type Config struct {
	Addr string `yaml:"addr" json:"addr" env:"ADDR" envDefault:":8080" validate:"required"`

	// BasePath prefixes the business routes. Default: /api.
	BasePath string `yaml:"base_path" json:"base_path" env:"BASE_PATH" envDefault:"/api" validate:"required,startswith=/"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" json:"read_header_timeout" env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// HealthCheckTimeout bounds each dependency check of /healthz.
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout" json:"health_check_timeout" env:"HEALTH_CHECK_TIMEOUT" envDefault:"2s"`

	CORS CORSConfig `yaml:"cors" json:"cors" env:"CORS"`
}

// CORSConfig enables CORS when AllowedOrigins is non-empty.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" env:"ALLOWED_ORIGINS"`
	MaxAge         int      `yaml:"max_age" json:"max_age" env:"MAX_AGE" envDefault:"300" validate:"gte=0"`
}

// DefaultConfig mirrors the envDefault tags for callers that do not go
// through the config loader.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		BasePath:           "/api",
		ReadHeaderTimeout:  5 * time.Second,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		HealthCheckTimeout: 2 * time.Second,
		CORS:               CORSConfig{MaxAge: 300},
	}
}
