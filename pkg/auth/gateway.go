// Package auth authenticates requests presenting a client token and a
// signed token, and carries the resulting [Identity] through the request
// context.
//
// A request names its client in one of the token headers (see
// [ExtractToken]) and proves possession of the client secret with
// [HeaderAPISignature], a [SignedToken] whose HMAC covers its identifier and
// validity. [Gateway.Authenticate] resolves the token through the credential
// cache, rejects inactive clients, verifies the signature and returns the
// identity. [HTTPMiddleware] and the gRPC interceptors apply it to every
// request.
//
// Rejections are coded errors from pkg/errors:
//
//	AUTH_004 authenticatorMissing  no token or no signature presented
//	AUTH_003 authenticationFailed  unknown token or bad signature
//	AUTH_005 clientBlocked         credential resolved but inactive
package auth

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/credentials"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/metrics"
)

// tracerName is the OpenTelemetry instrumentation scope for this package.
const tracerName = "github.com/StricklySoft/stricklysoft-gateway/pkg/auth"

// reasonOK labels successful authentications in metrics.
const reasonOK = "ok"

// CredentialSource resolves a client token to its credential record.
// [*credentials.Cache] satisfies it.
type CredentialSource interface {
	Get(ctx context.Context, token string) (credentials.Record, bool, error)
}

var _ CredentialSource = (*credentials.Cache)(nil)

// Option configures a [Gateway].
type Option func(*Gateway)

// WithLogger sets the logger for rejected and failed authentications.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics records one outcome per authentication.
func WithMetrics(m *metrics.Metrics) Option { return func(g *Gateway) { g.metrics = m } }

// WithVerifier replaces the signature verifier, typically to fix its clock.
func WithVerifier(v Verifier) Option { return func(g *Gateway) { g.verifier = v } }

// Gateway authenticates requests against a [CredentialSource]. It is safe
// for concurrent use and never writes to the authoritative credential
// store.
type Gateway struct {
	source   CredentialSource
	verifier Verifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewGateway returns a gateway reading credentials from source.
func NewGateway(source CredentialSource, opts ...Option) *Gateway {
	g := &Gateway{
		source: source,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authenticate checks the credentials in md and returns the caller's
// identity. The steps run in order and the first failure is returned:
//
//  1. a token and a signature must both be present (AUTH_004)
//  2. the token must resolve to a credential (AUTH_003)
//  3. the credential must be active (AUTH_005), whatever the signature
//  4. the signature must verify against the credential secret (AUTH_003)
//
// A failing credential lookup is reported as UNAVAIL_002 so callers can
// retry; it is not an authentication verdict.
func (g *Gateway) Authenticate(ctx context.Context, md Metadata) (*Identity, error) {
	ctx, span := g.tracer.Start(ctx, "auth.Authenticate")
	identity, err := g.authenticate(ctx, md)

	reason := reasonOK
	if err != nil {
		reason = sserr.Reason(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetAttributes(attribute.Int64("client.id", identity.ClientID))
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("auth.result", reason))
	span.End()
	g.metrics.AuthResult(reason)

	if err != nil {
		level := slog.LevelDebug
		if sserr.IsUnavailable(err) {
			level = slog.LevelWarn
		}
		g.logger.Log(ctx, level, "auth: request rejected", "reason", reason, "error", err)
	}
	return identity, err
}

func (g *Gateway) authenticate(ctx context.Context, md Metadata) (*Identity, error) {
	token, signature := ExtractToken(md), ExtractSignature(md)
	if token == "" || signature == "" {
		return nil, sserr.New(sserr.CodeAuthenticationMissing, "client token and signature are required")
	}

	rec, found, err := g.source.Get(ctx, token)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "credential lookup unavailable")
	}
	if !found {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "authentication failed")
	}
	if !rec.Active {
		return nil, sserr.New(sserr.CodeAuthenticationBlocked, "client is blocked")
	}
	if !g.verifier.Verify(signature, rec.Secret) {
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "authentication failed")
	}
	return NewIdentity(rec), nil
}
