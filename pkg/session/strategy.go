package session

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/messaged/pkg/auth"
	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

const tracerName = "github.com/StricklySoft/messaged/pkg/session"

// Strategy registers each authenticated session and rejects sessions
// that a newer login has replaced. It implements [auth.SessionStrategy].
type Strategy struct {
	registry Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

var _ auth.SessionStrategy = (*Strategy)(nil)

// NewStrategy returns a Strategy over registry. A nil logger uses
// slog.Default().
func NewStrategy(registry Registry, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Strategy{
		registry: registry,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// OnAuthentication registers p's session and rejects it when a newer
// login of the same subject has replaced it.
//
// Principals without a session id or without an auth_time are not
// tracked: without the login time there is no way to tell which of two
// sessions is the newer one.
func (s *Strategy) OnAuthentication(ctx context.Context, p *auth.Principal) error {
	if p == nil || p.SessionID() == "" {
		return nil
	}
	if p.AuthTime().IsZero() {
		s.logger.DebugContext(ctx, "session not tracked, token has no auth_time",
			"subject", p.Subject(),
			"session_id", p.SessionID(),
		)
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "session.Register", trace.WithAttributes(
		attribute.String("session.subject", p.Subject()),
	))
	defer span.End()

	rec := Record{Subject: p.Subject(), SessionID: p.SessionID(), AuthTime: p.AuthTime()}
	current, err := s.registry.Register(ctx, rec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if current.SessionID != rec.SessionID {
		span.SetAttributes(attribute.Bool("session.superseded", true))
		s.logger.InfoContext(ctx, "rejected superseded session",
			"subject", rec.Subject,
			"session_id", rec.SessionID,
			"current_session_id", current.SessionID,
		)
		return sserr.New(sserr.CodeAuthenticationSession, "session: superseded by a newer login")
	}
	return nil
}

// Health reports the registry backend's health. In-memory registries are
// always healthy.
func (s *Strategy) Health(ctx context.Context) error {
	if hc, ok := s.registry.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return nil
}

// Registry returns the underlying registry.
func (s *Strategy) Registry() Registry {
	return s.registry
}
