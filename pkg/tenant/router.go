// Package tenant resolves tenant identifiers to live database connections.
//
// The [Router] opens one pool per tenant on first use and caches it.
// Concurrent first requests for a tenant share a single establishment
// attempt, and an attempt that fails leaves nothing behind, so the next
// request retries cleanly. [Middleware] resolves the tenant of each HTTP
// request and attaches its connection to the request context.
package tenant

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/clients/postgres"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/metrics"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/tenant"

const (
	// DefaultConnectTimeout bounds one establishment: dial plus schema
	// initialization.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultHealthCheckInterval is the period of the background sweep.
	DefaultHealthCheckInterval = time.Minute

	// DefaultHealthTimeout bounds each ping of the sweep.
	DefaultHealthTimeout = 5 * time.Second
)

// Eviction causes reported to metrics.
const (
	evictManual    = "manual"
	evictUnhealthy = "unhealthy"
	evictShutdown  = "shutdown"
)

// Conn is a live tenant database handle. [*postgres.Client] satisfies it.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Health(ctx context.Context) error
	Close()
}

var _ Conn = (*postgres.Client)(nil)

// Dialer opens a tenant pool.
type Dialer interface {
	Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error)
}

// DialFunc adapts a function to [Dialer].
type DialFunc func(ctx context.Context, cfg ConnectionConfig) (Conn, error)

// Dial calls f.
func (f DialFunc) Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error) { return f(ctx, cfg) }

// PostgresDialer opens pgx pools through [postgres.NewClient].
type PostgresDialer struct {
	// ConnectTimeout is passed to the pool as its connect_timeout.
	ConnectTimeout time.Duration
}

// Dial opens a pgx pool for cfg and pings it.
func (d PostgresDialer) Dial(ctx context.Context, cfg ConnectionConfig) (Conn, error) {
	client, err := postgres.NewClient(ctx, cfg.PostgresConfig(d.ConnectTimeout))
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ConfigSource looks up a tenant's connection settings. found is false
// for tenants that do not exist.
type ConfigSource interface {
	TenantConfig(ctx context.Context, tenantID string) (cfg ConnectionConfig, found bool, err error)
}

// Initializer prepares a freshly opened tenant pool before it is cached.
// An error discards the pool.
type Initializer interface {
	Init(ctx context.Context, tenantID string, conn Conn) error
}

// InitFunc adapts a function to [Initializer].
type InitFunc func(ctx context.Context, tenantID string, conn Conn) error

// Init calls f.
func (f InitFunc) Init(ctx context.Context, tenantID string, conn Conn) error {
	return f(ctx, tenantID, conn)
}

// Option configures a [Router].
type Option func(*Router)

// WithDialer replaces the default [PostgresDialer].
func WithDialer(d Dialer) Option { return func(r *Router) { r.dialer = d } }

// WithConfigSource sets the fallback for tenants resolved without a
// config.
func WithConfigSource(s ConfigSource) Option { return func(r *Router) { r.source = s } }

// WithInitializer runs init on every new pool, typically [RequireTables].
func WithInitializer(init Initializer) Option { return func(r *Router) { r.init = init } }

// WithConnectTimeout overrides [DefaultConnectTimeout].
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.connectTimeout = d
		}
	}
}

// WithHealthCheckInterval overrides [DefaultHealthCheckInterval].
func WithHealthCheckInterval(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.healthInterval = d
		}
	}
}

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics records pool counts, establishments and evictions.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Router) { r.metrics = m } }

// Router maps tenant ids to live pools. It is safe for concurrent use.
//
// The mutex guards the maps only and is never held across I/O, so a slow
// tenant never delays requests for other tenants.
type Router struct {
	dialer         Dialer
	source         ConfigSource
	init           Initializer
	connectTimeout time.Duration
	healthInterval time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer

	mu      sync.RWMutex
	conns   map[string]Conn
	configs map[string]ConnectionConfig
	closed  bool

	group singleflight.Group

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

// NewRouter returns a router with no open pools.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		connectTimeout: DefaultConnectTimeout,
		healthInterval: DefaultHealthCheckInterval,
		logger:         slog.Default(),
		tracer:         otel.Tracer(tracerName),
		conns:          make(map[string]Conn),
		configs:        make(map[string]ConnectionConfig),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dialer == nil {
		r.dialer = PostgresDialer{ConnectTimeout: r.connectTimeout}
	}
	return r
}

// Resolve returns the live pool for tenantID, opening it if needed.
//
// A new pool is configured from cfg when given, else from the config
// remembered from an earlier establishment, else from the [ConfigSource].
// Concurrent callers for the same tenant share one attempt; each waits
// under its own ctx, and a caller giving up does not cancel the attempt.
//
// Errors: NF_004 when no config exists for the tenant, UNAVAIL_004
// (TenantNotReady) when the pool could not be opened or initialized in
// time. Neither leaves anything cached.
func (r *Router) Resolve(ctx context.Context, tenantID string, cfg *ConnectionConfig) (Conn, error) {
	if tenantID == "" {
		return nil, sserr.New(sserr.CodeValidationTenantMissing, "tenant id is required")
	}
	if !ValidID(tenantID) {
		return nil, sserr.Newf(sserr.CodeValidationFormat, "tenant: invalid tenant id %q", tenantID)
	}
	if conn, ok := r.live(tenantID); ok {
		return conn, nil
	}

	var given *ConnectionConfig
	if cfg != nil {
		c := *cfg
		if c.Subdomain == "" {
			c.Subdomain = tenantID
		}
		if c.Subdomain != tenantID {
			return nil, sserr.Newf(sserr.CodeValidation, "tenant: config for %q passed to resolve %q", c.Subdomain, tenantID)
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		given = &c
	}

	ch := r.group.DoChan(tenantID, func() (any, error) {
		return r.establish(ctx, tenantID, given)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Conn), nil
	case <-ctx.Done():
		return nil, sserr.TenantNotReady(tenantID, ctx.Err())
	}
}

// Provision opens (or returns) the pool for cfg.Subdomain using cfg.
func (r *Router) Provision(ctx context.Context, cfg ConnectionConfig) (Conn, error) {
	return r.Resolve(ctx, cfg.Subdomain, &cfg)
}

// Evict closes and forgets tenantID's pool. Its config is kept, so the
// next Resolve reopens it. Evict reports whether a pool was open.
func (r *Router) Evict(tenantID string) bool {
	return r.evict(tenantID, nil, evictManual)
}

// Tenants returns the ids of tenants with an open pool, sorted.
func (r *Router) Tenants() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Start begins the background health sweep, which pings every open pool
// each interval and evicts pools that fail. A stopped router cannot be
// started again.
func (r *Router) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.stop != nil {
		return sserr.New(sserr.CodeConflict, "tenant: router already started")
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return sserr.New(sserr.CodeConflict, "tenant: router is stopped")
	}
	r.stop, r.done = make(chan struct{}), make(chan struct{})
	go r.run(context.WithoutCancel(ctx), r.stop, r.done)
	return nil
}

// Stop ends the health sweep and closes every pool. Resolve fails with
// UNAVAIL_004 afterwards.
func (r *Router) Stop(ctx context.Context) error {
	r.runMu.Lock()
	stop, done := r.stop, r.done
	r.stop, r.done = nil, nil
	r.runMu.Unlock()

	if stop != nil {
		close(stop)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.closed = true
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	for id, conn := range conns {
		conn.Close()
		r.metrics.TenantEvicted(evictShutdown)
		r.logger.DebugContext(ctx, "tenant: pool closed", "tenant", id)
	}
	r.metrics.TenantPoolsOpen(0)
	return nil
}

func (r *Router) live(tenantID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[tenantID]
	return conn, ok
}

// establish runs once per tenant at a time under the singleflight group.
// It is detached from the first caller's cancellation and bounded by the
// connect timeout instead.
func (r *Router) establish(callerCtx context.Context, tenantID string, given *ConnectionConfig) (Conn, error) {
	if conn, ok := r.live(tenantID); ok {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(callerCtx), r.connectTimeout)
	defer cancel()
	ctx, span := r.tracer.Start(ctx, "tenant.establish",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	start := time.Now()
	conn, outcome, err := r.open(ctx, tenantID, given)
	r.metrics.TenantEstablished(outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		r.logger.WarnContext(ctx, "tenant: pool not established",
			"tenant", tenantID,
			"outcome", outcome,
			"error", err,
		)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	r.logger.InfoContext(ctx, "tenant: pool established",
		"tenant", tenantID,
		"took", time.Since(start),
	)
	return conn, nil
}

func (r *Router) open(ctx context.Context, tenantID string, given *ConnectionConfig) (Conn, string, error) {
	cfg, err := r.configFor(ctx, tenantID, given)
	if err != nil {
		if sserr.IsNotFound(err) {
			return nil, metrics.OutcomeNotFound, err
		}
		return nil, metrics.OutcomeFailure, err
	}

	conn, err := r.dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, metrics.OutcomeFailure, sserr.TenantNotReady(tenantID, err)
	}
	if r.init != nil {
		if err := r.init.Init(ctx, tenantID, conn); err != nil {
			conn.Close()
			return nil, metrics.OutcomeFailure, sserr.TenantNotReady(tenantID, err)
		}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.Close()
		return nil, metrics.OutcomeFailure, sserr.TenantNotReady(tenantID, sserr.New(sserr.CodeUnavailable, "tenant: router stopped"))
	}
	r.conns[tenantID] = conn
	r.configs[tenantID] = cfg
	n := len(r.conns)
	r.mu.Unlock()

	r.metrics.TenantPoolsOpen(n)
	return conn, metrics.OutcomeSuccess, nil
}

func (r *Router) configFor(ctx context.Context, tenantID string, given *ConnectionConfig) (ConnectionConfig, error) {
	if given != nil {
		return *given, nil
	}
	r.mu.RLock()
	cfg, ok := r.configs[tenantID]
	r.mu.RUnlock()
	if ok {
		return cfg, nil
	}
	if r.source == nil {
		return ConnectionConfig{}, unknownTenant(tenantID)
	}

	cfg, found, err := r.source.TenantConfig(ctx, tenantID)
	if err != nil {
		return ConnectionConfig{}, sserr.TenantNotReady(tenantID, err)
	}
	if !found {
		return ConnectionConfig{}, unknownTenant(tenantID)
	}
	if cfg.Subdomain == "" {
		cfg.Subdomain = tenantID
	}
	if err := cfg.Validate(); err != nil {
		return ConnectionConfig{}, sserr.TenantNotReady(tenantID, err)
	}
	return cfg, nil
}

func unknownTenant(tenantID string) error {
	return sserr.New(sserr.CodeNotFoundTenant, "unknown tenant").WithDetail("tenant", tenantID)
}

// evict removes tenantID's pool. When only is non-nil the pool is removed
// only if it is still that connection.
func (r *Router) evict(tenantID string, only Conn, cause string) bool {
	r.mu.Lock()
	conn, ok := r.conns[tenantID]
	if ok && only != nil && conn != only {
		ok = false
	}
	if ok {
		delete(r.conns, tenantID)
	}
	n := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}
	conn.Close()
	r.metrics.TenantEvicted(cause)
	r.metrics.TenantPoolsOpen(n)
	return true
}

func (r *Router) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// sweep pings every open pool and evicts those that fail.
func (r *Router) sweep(ctx context.Context) {
	r.mu.RLock()
	snapshot := make(map[string]Conn, len(r.conns))
	for id, conn := range r.conns {
		snapshot[id] = conn
	}
	r.mu.RUnlock()

	for id, conn := range snapshot {
		pingCtx, cancel := context.WithTimeout(ctx, DefaultHealthTimeout)
		err := conn.Health(pingCtx)
		cancel()
		if err == nil {
			continue
		}
		if r.evict(id, conn, evictUnhealthy) {
			r.logger.WarnContext(ctx, "tenant: evicted unhealthy pool", "tenant", id, "error", err)
		}
	}
}
