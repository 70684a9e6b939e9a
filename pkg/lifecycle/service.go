package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/messaged/pkg/errors"
)

const tracerName = "github.com/StricklySoft/messaged/pkg/lifecycle"

// Hook runs during a start or stop transition. A non-nil error moves the
// service to [StateFailed].
type Hook func(ctx context.Context) error

// StateChangeHandler observes transitions. Handlers run synchronously
// under the state lock and must not call back into the service.
type StateChangeHandler func(old, new State)

// Info is a point-in-time snapshot of a service.
type Info struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Service is safe for concurrent use. Build one with [ServiceBuilder].
type Service struct {
	id      string
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	onStart       []Hook
	onStop        []Hook
	stateHandlers []StateChangeHandler
}

func (s *Service) ID() string { return s.id }

func (s *Service) Name() string { return s.name }

func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot. StartedAt and Uptime are set only while
// running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{ID: s.id, Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns [sserr.CodeUnavailable] unless the service is running.
func (s *Service) Health(context.Context) error {
	if state := s.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable, "lifecycle: service is not running, current state is %q", state)
	}
	return nil
}

// SetState moves the service to next, returning [sserr.CodeConflict] for
// transitions the state machine does not allow.
func (s *Service) SetState(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, next) {
		return sserr.Newf(sserr.CodeConflict, "lifecycle: invalid state transition from %q to %q", old, next)
	}
	s.state = next

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service", s.name,
						"old_state", string(old),
						"new_state", string(next),
					)
				}
			}()
			h(old, next)
		}()
	}
	return nil
}

// Start moves the service through Starting to Running, running the start
// hooks in registration order.
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return failSpan(span, sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return failSpan(span, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
		"instance_id", s.id,
	)

	if err := s.runHooks(ctx, s.onStart, "start"); err != nil {
		return failSpan(span, err)
	}
	if err := s.SetState(StateRunning); err != nil {
		return failSpan(span, err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop moves the service through Stopping to Stopped, running the stop
// hooks in reverse registration order. Stopping a service in a terminal
// state is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return failSpan(span, sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: stop canceled before execution"))
	}
	if err := s.SetState(StateStopping); err != nil {
		return failSpan(span, err)
	}

	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	hooks := make([]Hook, len(s.onStop))
	for i, h := range s.onStop {
		hooks[len(s.onStop)-1-i] = h
	}
	if err := s.runHooks(ctx, hooks, "stop"); err != nil {
		return failSpan(span, err)
	}
	if err := s.SetState(StateStopped); err != nil {
		return failSpan(span, err)
	}

	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) runHooks(ctx context.Context, hooks []Hook, phase string) error {
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: "+phase+" hook failed",
				"service", s.name,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: "+phase+" hook failed")
		}
	}
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.instance.id", s.id),
		),
	)
}

func failSpan(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// ServiceBuilder assembles a [Service].
type ServiceBuilder struct {
	name          string
	version       string
	logger        *slog.Logger
	onStart       []Hook
	onStop        []Hook
	stateHandlers []StateChangeHandler
}

// NewServiceBuilder starts building a service named name.
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{name: name, version: version}
}

// WithLogger sets the logger. Default: slog.Default().
func (b *ServiceBuilder) WithLogger(logger *slog.Logger) *ServiceBuilder {
	b.logger = logger
	return b
}

// WithOnStart appends a start hook.
func (b *ServiceBuilder) WithOnStart(hook Hook) *ServiceBuilder {
	if hook != nil {
		b.onStart = append(b.onStart, hook)
	}
	return b
}

// WithOnStop appends a stop hook. Stop hooks run in reverse order.
func (b *ServiceBuilder) WithOnStop(hook Hook) *ServiceBuilder {
	if hook != nil {
		b.onStop = append(b.onStop, hook)
	}
	return b
}

// OnStateChange registers an observer.
func (b *ServiceBuilder) OnStateChange(handler StateChangeHandler) *ServiceBuilder {
	if handler != nil {
		b.stateHandlers = append(b.stateHandlers, handler)
	}
	return b
}

// Build validates the builder and returns a service in [StateUnknown]
// with a fresh instance id.
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "lifecycle: service version must not be empty")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		id:            uuid.NewString(),
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		onStart:       append([]Hook(nil), b.onStart...),
		onStop:        append([]Hook(nil), b.onStop...),
		stateHandlers: append([]StateChangeHandler(nil), b.stateHandlers...),
	}, nil
}
