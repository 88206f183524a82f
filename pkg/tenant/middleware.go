package tenant

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/auth"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// DefaultSkipPaths are served without a tenant.
var DefaultSkipPaths = []string{"/healthz", "/readyz", "/metrics"}

// Resolver is satisfied by [*Router].
type Resolver interface {
	Resolve(ctx context.Context, tenantID string, cfg *ConnectionConfig) (Conn, error)
}

var _ Resolver = (*Router)(nil)

type contextKey int

const (
	connKey contextKey = iota
	tenantKey
)

// ContextWithConn attaches tenantID's connection to ctx.
func ContextWithConn(ctx context.Context, tenantID string, conn Conn) context.Context {
	ctx = context.WithValue(ctx, tenantKey, tenantID)
	return context.WithValue(ctx, connKey, conn)
}

// ConnFromContext returns the connection attached by [Middleware].
func ConnFromContext(ctx context.Context) (Conn, bool) {
	conn, ok := ctx.Value(connKey).(Conn)
	return conn, ok && conn != nil
}

// IDFromContext returns the tenant id attached by [Middleware].
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey).(string)
	return id, ok && id != ""
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middleware)

// WithBaseDomain makes the label immediately left of domain the tenant
// hint, so "acme.api.example.com" with base "api.example.com" resolves
// "acme".
func WithBaseDomain(domain string) MiddlewareOption {
	return func(m *middleware) {
		m.baseDomain = strings.ToLower(strings.Trim(domain, "."))
	}
}

// WithSkipPaths replaces [DefaultSkipPaths].
func WithSkipPaths(paths ...string) MiddlewareOption {
	return func(m *middleware) {
		m.skip = make(map[string]bool, len(paths))
		for _, p := range paths {
			m.skip[p] = true
		}
	}
}

// WithMiddlewareLogger sets the logger for failed resolutions.
func WithMiddlewareLogger(l *slog.Logger) MiddlewareOption {
	return func(m *middleware) {
		if l != nil {
			m.logger = l
		}
	}
}

type middleware struct {
	resolver   Resolver
	baseDomain string
	skip       map[string]bool
	logger     *slog.Logger
}

// Middleware resolves the tenant of each request and attaches its
// connection with [ContextWithConn].
//
// The tenant hint is the host's subdomain under the base domain, else the
// X-Tenant-ID header. Requests for skipped paths pass through untouched.
// Failures are JSON rejections: 400 without a usable hint, 404 for an
// unknown tenant, 503 "service unavailable for this tenant" when the pool
// is not ready.
func Middleware(resolver Resolver, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{resolver: resolver, logger: slog.Default()}
	WithSkipPaths(DefaultSkipPaths...)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m.wrap
}

func (m *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := HintFromRequest(r, m.baseDomain)
		if tenantID == "" {
			sserr.WriteHTTP(w, sserr.New(sserr.CodeValidationTenantMissing, "tenant could not be determined from the request"))
			return
		}

		ctx := r.Context()
		conn, err := m.resolver.Resolve(ctx, tenantID, nil)
		if err != nil {
			if _, coded := sserr.AsError(err); !coded {
				err = sserr.TenantNotReady(tenantID, err)
			}
			attrs := []any{"tenant", tenantID, "reason", sserr.Reason(err), "error", err}
			if id, ok := auth.IdentityFromContext(ctx); ok {
				attrs = append(attrs, "client", id)
			}
			m.logger.WarnContext(ctx, "tenant: request rejected", attrs...)
			sserr.WriteHTTP(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithConn(ctx, tenantID, conn)))
	})
}

// HintFromRequest returns the lower-cased tenant hint of r, or "". With a
// base domain, a host below it names the tenant by the label next to the
// base domain; the X-Tenant-ID header is used otherwise.
func HintFromRequest(r *http.Request, baseDomain string) string {
	if baseDomain != "" {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		host = strings.ToLower(strings.TrimSuffix(host, "."))
		if sub, ok := strings.CutSuffix(host, "."+baseDomain); ok && sub != "" {
			return sub[strings.LastIndexByte(sub, '.')+1:]
		}
	}
	return strings.ToLower(strings.TrimSpace(r.Header.Get(auth.HeaderTenant)))
}
