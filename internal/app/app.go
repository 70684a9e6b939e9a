// Package app turns a [Config] into a running messaged instance: token
// verifier, path rules, session strategy, metrics, lifecycle and HTTP
// server.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/StricklySoft/messaged/internal/server"
	"github.com/StricklySoft/messaged/pkg/auth"
	"github.com/StricklySoft/messaged/pkg/clients/postgres"
	redisclient "github.com/StricklySoft/messaged/pkg/clients/redis"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
	"github.com/StricklySoft/messaged/pkg/lifecycle"
	"github.com/StricklySoft/messaged/pkg/session"
)

// ServiceName is reported by /healthz and the startup log.
const ServiceName = "messaged"

// Option adjusts how [New] assembles the application.
type Option func(*options)

type options struct {
	verifier auth.TokenVerifier
}

// WithVerifier replaces the verifier selected by auth.mode. The token
// cache still applies.
func WithVerifier(v auth.TokenVerifier) Option {
	return func(o *options) { o.verifier = v }
}

// App is an assembled messaged instance.
type App struct {
	cfg           Config
	logger        *slog.Logger
	registry      *prometheus.Registry
	authenticator *auth.Authenticator
	sessions      *session.Strategy
	service       *lifecycle.Service
	server        *server.Server

	closeOnce sync.Once
	closers   []func() error
}

// New connects the configured backends and builds the server. It does not
// start listening; call [App.Run].
func New(ctx context.Context, cfg Config, version string, logger *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	rules, err := cfg.RuleSet()
	if err != nil {
		return nil, err
	}

	verifier := o.verifier
	if verifier == nil {
		if verifier, err = buildVerifier(ctx, cfg.Auth); err != nil {
			return nil, err
		}
	}
	if cfg.Auth.CacheTTL > 0 && cfg.Auth.CacheSize > 0 {
		verifier = auth.NewCachingVerifier(verifier, cfg.Auth.CacheTTL, cfg.Auth.CacheSize)
	}

	authMetrics := auth.NewMetrics()
	httpMetrics := server.NewHTTPMetrics()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		authMetrics,
		httpMetrics,
	} {
		if err := a.registry.Register(c); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalConfiguration, "app: failed to register metrics")
		}
	}

	var startHooks []lifecycle.Hook
	var checks []server.HealthCheck
	registry, hook, err := a.openSessionRegistry(ctx)
	if err != nil {
		return nil, err
	}
	if hook != nil {
		startHooks = append(startHooks, hook)
	}
	if registry != nil {
		a.sessions = session.NewStrategy(registry, logger.With("component", "session"))
		checks = append(checks, server.HealthCheck{Name: "session_" + cfg.Session.Backend, Check: a.sessions.Health})
	}

	authCfg := auth.AuthenticatorConfig{
		Verifier: verifier,
		Mapper:   newMapper(cfg.Auth),
		Rules:    rules,
		Realm:    realmOf(cfg.Auth),
		Logger:   logger.With("component", "auth"),
		Metrics:  authMetrics,
	}
	if a.sessions != nil {
		authCfg.Sessions = a.sessions
	}
	if a.authenticator, err = auth.NewAuthenticator(authCfg); err != nil {
		a.close()
		return nil, err
	}

	builder := lifecycle.NewServiceBuilder(ServiceName, version).
		WithLogger(logger).
		WithOnStop(func(context.Context) error { return a.close() }).
		OnStateChange(func(old, next lifecycle.State) {
			logger.Info("service state changed", "from", old, "to", next)
		})
	for _, h := range startHooks {
		builder = builder.WithOnStart(h)
	}
	if a.service, err = builder.Build(); err != nil {
		a.close()
		return nil, err
	}

	a.server, err = server.New(cfg.Server, server.Deps{
		Authenticator: a.authenticator,
		Service:       a.service,
		Gatherer:      a.registry,
		HTTPMetrics:   httpMetrics,
		Checks:        checks,
		Logger:        logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// Run starts the service and serves HTTP until ctx is done, then stops
// the service and releases backend connections.
func (a *App) Run(ctx context.Context) error {
	if err := a.service.Start(ctx); err != nil {
		a.close()
		return err
	}
	serveErr := a.server.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	stopErr := a.service.Stop(stopCtx)
	return errors.Join(serveErr, stopErr)
}

// Handler returns the HTTP handler without listening.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Service returns the lifecycle service.
func (a *App) Service() *lifecycle.Service { return a.service }

// Authenticator returns the request security configuration.
func (a *App) Authenticator() *auth.Authenticator { return a.authenticator }

// Sessions returns the session strategy, or nil when sessions are off.
func (a *App) Sessions() *session.Strategy { return a.sessions }

// Gatherer returns the metrics registry served on /metrics.
func (a *App) Gatherer() prometheus.Gatherer { return a.registry }

// openSessionRegistry connects the configured backend. The returned hook,
// if any, prepares the backend on start.
func (a *App) openSessionRegistry(ctx context.Context) (session.Registry, lifecycle.Hook, error) {
	switch a.cfg.Session.Backend {
	case SessionBackendMemory:
		return session.NewMemoryRegistry(), nil, nil

	case SessionBackendRedis:
		client, err := redisclient.NewClient(ctx, a.cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.logger.Info("session registry connected", "backend", SessionBackendRedis, "ttl", a.cfg.Session.TTL)
		return session.NewRedisRegistry(client, a.cfg.Session.TTL), nil, nil

	case SessionBackendPostgres:
		client, err := postgres.NewClient(ctx, a.cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		a.logger.Info("session registry connected", "backend", SessionBackendPostgres)
		registry := session.NewPostgresRegistry(client)
		return registry, registry.EnsureSchema, nil

	default:
		return nil, nil, nil
	}
}

// close releases backend connections once.
func (a *App) close() error {
	var err error
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			err = errors.Join(err, a.closers[i]())
		}
	})
	return err
}

func buildVerifier(ctx context.Context, cfg AuthConfig) (auth.TokenVerifier, error) {
	if cfg.Mode == AuthModeSharedKey {
		v, err := auth.NewSharedKeyVerifier(cfg.SharedKey)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	v, err := auth.NewOIDCVerifier(ctx, cfg.OIDC)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func newMapper(cfg AuthConfig) *auth.PrincipalMapper {
	clientID := cfg.OIDC.ClientID
	if cfg.Mode == AuthModeSharedKey {
		clientID = cfg.SharedKey.Audience
	}
	return auth.NewPrincipalMapper(
		auth.WithClientID(clientID),
		auth.WithUsernameClaim(cfg.UsernameClaim),
	)
}

// realmOf names the realm in WWW-Authenticate challenges.
func realmOf(cfg AuthConfig) string {
	if cfg.Mode == AuthModeOIDC && cfg.OIDC.Realm != "" {
		return cfg.OIDC.Realm
	}
	return ServiceName
}

// NewLogger returns the slog logger selected by cfg, writing to w.
func NewLogger(cfg LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
