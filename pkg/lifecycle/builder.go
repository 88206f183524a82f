package lifecycle

import (
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// ServiceBuilder constructs a [Service]. All methods return the builder for
// chaining; [ServiceBuilder.Build] validates the result.
//
// Example:
//
//	svc, err := lifecycle.NewServiceBuilder("gateway", version).
//	    WithComponent("credential-cache", cache).
//	    WithComponent("tenant-router", router).
//	    WithHealthCheck("master-db", db).
//	    WithOnStop(func(ctx context.Context) error {
//	        return srv.Shutdown(ctx)
//	    }).
//	    Build()
type ServiceBuilder struct {
	id            string
	name          string
	version       string
	logger        *slog.Logger
	components    []namedComponent
	checks        []namedCheck
	onStart       Hook
	onStop        Hook
	stateHandlers []StateChangeHandler
	err           error
}

// NewServiceBuilder starts a builder for the named service.
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{name: name, version: version}
}

// WithID overrides the generated instance id.
func (b *ServiceBuilder) WithID(id string) *ServiceBuilder {
	b.id = id
	return b
}

// WithLogger sets the logger. Defaults to [slog.Default].
func (b *ServiceBuilder) WithLogger(logger *slog.Logger) *ServiceBuilder {
	b.logger = logger
	return b
}

// WithComponent registers c under name. Components start in registration
// order and stop in reverse.
func (b *ServiceBuilder) WithComponent(name string, c Component) *ServiceBuilder {
	if b.err == nil && (name == "" || c == nil) {
		b.err = sserr.New(sserr.CodeValidation, "lifecycle: component name and value must be set")
	}
	b.components = append(b.components, namedComponent{name: name, c: c})
	return b
}

// WithHealthCheck adds a dependency to [Service.Health].
func (b *ServiceBuilder) WithHealthCheck(name string, h HealthChecker) *ServiceBuilder {
	if b.err == nil && (name == "" || h == nil) {
		b.err = sserr.New(sserr.CodeValidation, "lifecycle: health check name and value must be set")
	}
	b.checks = append(b.checks, namedCheck{name: name, h: h})
	return b
}

// WithOnStart sets the hook run after every component has started.
func (b *ServiceBuilder) WithOnStart(hook Hook) *ServiceBuilder {
	b.onStart = hook
	return b
}

// WithOnStop sets the hook run before any component stops, typically the
// HTTP server shutdown.
func (b *ServiceBuilder) WithOnStop(hook Hook) *ServiceBuilder {
	b.onStop = hook
	return b
}

// OnStateChange registers a handler called on every transition, in
// registration order.
func (b *ServiceBuilder) OnStateChange(handler StateChangeHandler) *ServiceBuilder {
	b.stateHandlers = append(b.stateHandlers, handler)
	return b
}

// Build returns the service in [StateUnknown], or VAL_001 when the name or
// version is empty or a registration was incomplete.
func (b *ServiceBuilder) Build() (*Service, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service name must not be empty")
	}
	if b.version == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: service version must not be empty")
	}

	id := b.id
	if id == "" {
		id = b.name + "-" + uuid.NewString()
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	components := make([]namedComponent, len(b.components))
	copy(components, b.components)
	checks := make([]namedCheck, len(b.checks))
	copy(checks, b.checks)
	handlers := make([]StateChangeHandler, len(b.stateHandlers))
	copy(handlers, b.stateHandlers)

	return &Service{
		id:            id,
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger,
		components:    components,
		checks:        checks,
		onStart:       b.onStart,
		onStop:        b.onStop,
		stateHandlers: handlers,
	}, nil
}
