package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/lifecycle"

// Component is a long-lived part of the service with a background loop,
// such as the credential cache or the tenant router.
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by dependencies that can be pinged. The
// postgres, redis and minio clients satisfy it.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// StateChangeHandler is called on every transition, synchronously and under
// the state mutex. It must not call lifecycle methods on the same service.
// Panics are recovered and logged.
type StateChangeHandler func(old, new State)

// Hook runs during Start (after all components started) or Stop (before
// any component stops). A failing hook moves the service to
// [StateFailed].
type Hook func(ctx context.Context) error

type namedComponent struct {
	name string
	c    Component
}

type namedCheck struct {
	name string
	h    HealthChecker
}

// Info is a point-in-time snapshot of a [Service], served by the health
// endpoints.
type Info struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Version    string        `json:"version"`
	State      State         `json:"state"`
	Components []string      `json:"components"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
}

// Service starts components in registration order and stops them in
// reverse. It is safe for concurrent use. Build one with [ServiceBuilder].
type Service struct {
	id      string
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	components    []namedComponent
	checks        []namedCheck
	onStart       Hook
	onStop        Hook
	stateHandlers []StateChangeHandler
}

// ID returns the instance id, "<name>-<uuid>" unless set explicitly.
func (s *Service) ID() string { return s.id }

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Version returns the build version.
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the service should receive new traffic.
func (s *Service) Ready() bool {
	return s.State() == StateRunning
}

// Info returns a snapshot of the service.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:         s.id,
		Name:       s.name,
		Version:    s.version,
		State:      s.state,
		Components: make([]string, len(s.components)),
	}
	for i, nc := range s.components {
		info.Components[i] = nc.name
	}
	if s.startedAt != nil && (s.state == StateRunning || s.state == StateDraining) {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil when the service is running or draining and every
// registered check passes. A failing check is reported as UNAVAIL_002
// naming the dependency.
func (s *Service) Health(ctx context.Context) error {
	if state := s.State(); state != StateRunning && state != StateDraining {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: service is not running, current state is %q", state)
	}
	for _, nc := range s.checks {
		if err := nc.h.Health(ctx); err != nil {
			return sserr.Wrapf(err, sserr.CodeUnavailableDependency,
				"lifecycle: %s unhealthy", nc.name).WithDetail("dependency", nc.name)
		}
	}
	return nil
}

// SetState moves the service to new. Returns CONF_001 when the transition
// is not allowed.
func (s *Service) SetState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}
	s.state = new

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"service_id", s.id,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

// Start starts every component in order, then runs the OnStart hook.
//
// If a component fails, those already started are stopped in reverse
// order and the service moves to [StateFailed].
func (s *Service) Start(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return s.fail(span, sserr.Wrap(err, sserr.CodeTimeout,
			"lifecycle: start canceled before execution"))
	}
	if err := s.SetState(StateStarting); err != nil {
		return s.fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service_id", s.id,
		"service_name", s.name,
		"service_version", s.version,
	)

	for i, nc := range s.components {
		if err := nc.c.Start(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: component failed to start",
				"service_id", s.id,
				"component", nc.name,
				"error", err,
			)
			s.stopComponents(context.WithoutCancel(ctx), s.components[:i])
			_ = s.SetState(StateFailed)
			return s.fail(span, sserr.Wrapf(err, sserr.CodeInternal,
				"lifecycle: start %s", nc.name))
		}
	}

	if s.onStart != nil {
		if err := s.onStart(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"service_id", s.id,
				"error", err,
			)
			s.stopComponents(context.WithoutCancel(ctx), s.components)
			_ = s.SetState(StateFailed)
			return s.fail(span, sserr.Wrap(err, sserr.CodeInternal,
				"lifecycle: start hook failed"))
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return s.fail(span, err)
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started",
		"service_id", s.id,
		"components", len(s.components),
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Drain marks a running service not ready. In-flight work continues.
func (s *Service) Drain(ctx context.Context) error {
	if err := s.SetState(StateDraining); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: draining", "service_id", s.id)
	return nil
}

// Stop runs the OnStop hook, then stops components in reverse order.
// Every component is stopped even when an earlier one fails; the errors
// are joined and the service moves to [StateFailed].
//
// Stop on a stopped or failed service is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer span.End()

	if s.State().IsTerminal() {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := s.SetState(StateStopping); err != nil {
		return s.fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service_id", s.id)

	var errs []error
	if s.onStop != nil {
		if err := s.onStop(ctx); err != nil {
			errs = append(errs, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: stop hook failed"))
		}
	}
	if err := s.stopComponents(ctx, s.components); err != nil {
		errs = append(errs, err)
	}

	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	if len(errs) > 0 {
		_ = s.SetState(StateFailed)
		err := errors.Join(errs...)
		s.logger.ErrorContext(ctx, "lifecycle: service stopped with errors",
			"service_id", s.id,
			"error", err,
		)
		return s.fail(span, sserr.Wrap(err, sserr.CodeInternal, "lifecycle: stop failed"))
	}
	if err := s.SetState(StateStopped); err != nil {
		return s.fail(span, err)
	}
	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service_id", s.id)
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Service) stopComponents(ctx context.Context, started []namedComponent) error {
	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		nc := started[i]
		if err := nc.c.Stop(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: component failed to stop",
				"service_id", s.id,
				"component", nc.name,
				"error", err,
			)
			errs = append(errs, sserr.Wrapf(err, sserr.CodeInternal, "lifecycle: stop %s", nc.name))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.id", s.id),
			attribute.String("service.name", s.name),
		),
	)
}

func (s *Service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
