package auth

import (
	"context"
	"net/http"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// Authenticator is satisfied by [*Gateway].
type Authenticator interface {
	Authenticate(ctx context.Context, md Metadata) (*Identity, error)
}

var _ Authenticator = (*Gateway)(nil)

// HTTPMiddleware returns an HTTP middleware that authenticates every request
// with a and stores the resulting [Identity] in the request context.
//
// Rejected requests get a JSON body {code, reason, message} with the error's
// status (401 for authentication failures, 503 when the credential lookup is
// unavailable). Causes never reach the response.
//
// Example:
//
//	r := chi.NewRouter()
//	r.Use(auth.HTTPMiddleware(gw))
//	r.Get("/orders", handleOrders)
func HTTPMiddleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.Authenticate(r.Context(), HTTPHeader(r.Header))
			if err != nil {
				sserr.WriteHTTP(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// RequirePrivileged rejects requests whose identity does not belong to a
// root profile. It must run after [HTTPMiddleware]; a request without an
// identity is rejected with 401.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			sserr.WriteHTTP(w, sserr.New(sserr.CodeAuthenticationMissing, "authentication required"))
			return
		}
		if !identity.IsPrivileged {
			sserr.WriteHTTP(w, sserr.New(sserr.CodeAuthorizationDenied, "privileged profile required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PropagatingRoundTripper forwards the authenticated identity from the
// request context to downstream HTTP services as X-Client-* headers. The
// incoming credential headers are never forwarded.
//
// Example:
//
//	client := &http.Client{Transport: auth.NewPropagatingRoundTripper(nil)}
//	resp, err := client.Do(req.WithContext(ctx))
type PropagatingRoundTripper struct {
	wrapped http.RoundTripper
}

// NewPropagatingRoundTripper wraps transport, or [http.DefaultTransport] if
// nil.
func NewPropagatingRoundTripper(transport http.RoundTripper) *PropagatingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &PropagatingRoundTripper{wrapped: transport}
}

// RoundTrip implements [http.RoundTripper]. The original request is not
// mutated.
func (t *PropagatingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	clone := r.Clone(r.Context())
	for _, h := range credentialHeaders {
		clone.Header.Del(h)
	}
	if identity, ok := IdentityFromContext(r.Context()); ok {
		for k, v := range identityHeaders(identity) {
			clone.Header.Set(k, v)
		}
	}
	return t.wrapped.RoundTrip(clone)
}
