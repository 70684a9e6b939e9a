// Package server assembles the messaged HTTP surface: request scoping,
// logging, recovery, authentication, /healthz, /metrics and the business
// routes under the configured base path.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/StricklySoft/messaged/internal/api"
	"github.com/StricklySoft/messaged/pkg/auth"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
	"github.com/StricklySoft/messaged/pkg/lifecycle"
)

// Deps are the collaborators of a [Server].
type Deps struct {
	// Authenticator and Service are required.
	Authenticator *auth.Authenticator
	Service       *lifecycle.Service

	// Gatherer backs /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer

	// HTTPMetrics is optional. Register it with the same registry as
	// Gatherer.
	HTTPMetrics *HTTPMetrics

	Checks []HealthCheck
	Logger *slog.Logger
}

// Server is the HTTP front end. Build one with [New].
type Server struct {
	cfg     Config
	service *lifecycle.Service
	checks  []HealthCheck
	logger  *slog.Logger
	handler http.Handler
}

// New validates deps and builds the router.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Authenticator == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "server: authenticator is required")
	}
	if deps.Service == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "server: lifecycle service is required")
	}
	if cfg.BasePath != "" && !strings.HasPrefix(cfg.BasePath, "/") {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration, "server: base path %q must start with /", cfg.BasePath)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		service: deps.Service,
		checks:  append([]HealthCheck(nil), deps.Checks...),
		logger:  logger,
	}
	s.handler = s.routes(deps)
	return s, nil
}

func (s *Server) routes(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(RequestLogger(s.logger, deps.HTTPMetrics))
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORS.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Authorization", RequestIDHeader},
			ExposedHeaders: []string{RequestIDHeader, "WWW-Authenticate"},
			MaxAge:         s.cfg.CORS.MaxAge,
		}))
	}
	// Path rules apply to every route, so operators decide what is public.
	r.Use(deps.Authenticator.Middleware)

	r.Get("/healthz", s.healthz)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	messages := api.NewMessageHandler(s.logger)
	base := strings.TrimSuffix(s.cfg.BasePath, "/")
	if base == "" {
		r.Group(messages.Routes)
	} else {
		r.Route(base, messages.Routes)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		sserr.WriteHTTP(w, sserr.New(sserr.CodeNotFound, "route not found"))
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailable, "server: cannot listen on %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains in-flight requests
// for up to ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.InfoContext(ctx, "http server listening", "addr", ln.Addr().String(), "base_path", s.cfg.BasePath)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return sserr.Wrap(err, sserr.CodeInternal, "server: serve failed")
	case <-ctx.Done():
	}

	s.logger.Info("http server shutting down", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "server: graceful shutdown did not complete")
	}
	return nil
}
