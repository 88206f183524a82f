package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// ---------------------------------------------------------------------------
// HTTPMiddleware
// ---------------------------------------------------------------------------

func TestHTTPMiddleware_AttachesIdentity(t *testing.T) {
	t.Parallel()
	gw := NewGateway(newCacheWith(t, clientRecord("abc", true)))

	var captured *Identity
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = MustIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderAuthorization, "Bearer abc")
	req.Header.Set(HeaderAPISignature, signed(t, "abc", "s3cret"))
	rr := httptest.NewRecorder()
	HTTPMiddleware(gw)(inner).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "abc", captured.Token)

	// The context keys downstream handlers read.
	raw, err := json.Marshal(captured)
	require.NoError(t, err)
	var keys map[string]any
	require.NoError(t, json.Unmarshal(raw, &keys))
	for _, k := range []string{"client.id", "client.name", "client.token", "client.active", "client.profile", "client.isRoot"} {
		assert.Contains(t, keys, k)
	}
	assert.Equal(t, "abc", keys["client.token"])
}

func TestHTTPMiddleware_Rejections(t *testing.T) {
	t.Parallel()
	gw := NewGateway(newCacheWith(t, clientRecord("abc", true), clientRecord("off", false)))
	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantReason string
	}{
		{
			name:       "missing credentials",
			headers:    map[string]string{},
			wantStatus: http.StatusUnauthorized,
			wantReason: "authenticatorMissing",
		},
		{
			name: "bad signature",
			headers: map[string]string{
				HeaderAPIKey:       "abc",
				HeaderAPISignature: signed(t, "abc", "nope"),
			},
			wantStatus: http.StatusUnauthorized,
			wantReason: "authenticationFailed",
		},
		{
			name: "blocked",
			headers: map[string]string{
				HeaderAPIKey:       "off",
				HeaderAPISignature: signed(t, "off", "s3cret"),
			},
			wantStatus: http.StatusUnauthorized,
			wantReason: "clientBlocked",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("inner handler must not run for a rejected request")
			})
			req := httptest.NewRequest(http.MethodGet, "/orders", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			HTTPMiddleware(gw)(inner).ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			var body sserr.Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.wantReason, body.Reason)
			assert.NotContains(t, rr.Body.String(), "s3cret")
		})
	}
}

func TestHTTPMiddleware_LookupUnavailable(t *testing.T) {
	t.Parallel()
	gw := NewGateway(&fakeSource{err: errors.New("dial tcp 10.0.0.9:5432: connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderAPIKey, "abc")
	req.Header.Set(HeaderAPISignature, signed(t, "abc", "s3cret"))
	rr := httptest.NewRecorder()
	HTTPMiddleware(gw)(http.NotFoundHandler()).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "10.0.0.9")
}

// ---------------------------------------------------------------------------
// RequirePrivileged
// ---------------------------------------------------------------------------

func TestRequirePrivileged(t *testing.T) {
	t.Parallel()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	tests := []struct {
		name     string
		identity *Identity
		want     int
	}{
		{"no identity", nil, http.StatusUnauthorized},
		{"regular profile", &Identity{ClientID: 1}, http.StatusForbidden},
		{"root profile", &Identity{ClientID: 1, IsPrivileged: true}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/admin/credentials/refresh", nil)
			if tt.identity != nil {
				req = req.WithContext(ContextWithIdentity(req.Context(), tt.identity))
			}
			rr := httptest.NewRecorder()
			RequirePrivileged(ok).ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

// ---------------------------------------------------------------------------
// PropagatingRoundTripper
// ---------------------------------------------------------------------------

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestPropagatingRoundTripper(t *testing.T) {
	t.Parallel()
	var forwarded *http.Request
	rt := NewPropagatingRoundTripper(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		forwarded = r
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}))

	ctx := ContextWithIdentity(context.Background(), &Identity{ClientID: 42, Name: "billing-sync", ProfileID: 7, IsPrivileged: true})
	req := httptest.NewRequest(http.MethodGet, "http://orders.internal/v1/orders", nil).WithContext(ctx)
	req.Header.Set(HeaderAPIKey, "abc")
	req.Header.Set(HeaderAPISignature, "abc-20991231.sig")

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NotNil(t, forwarded)
	assert.Equal(t, "42", forwarded.Header.Get(HeaderClientID))
	assert.Equal(t, "true", forwarded.Header.Get(HeaderClientRoot))
	assert.Empty(t, forwarded.Header.Get(HeaderAPIKey))
	assert.Empty(t, forwarded.Header.Get(HeaderAPISignature))

	// The caller's request is untouched.
	assert.Equal(t, "abc", req.Header.Get(HeaderAPIKey))
	assert.Empty(t, req.Header.Get(HeaderClientID))
}

func TestPropagatingRoundTripper_NoIdentity(t *testing.T) {
	t.Parallel()
	var forwarded *http.Request
	rt := NewPropagatingRoundTripper(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		forwarded = r
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}))

	req := httptest.NewRequest(http.MethodGet, "http://orders.internal/v1/orders", nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Empty(t, forwarded.Header.Get(HeaderClientID))
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func TestIdentityFromContext_Absent(t *testing.T) {
	t.Parallel()
	_, ok := IdentityFromContext(context.Background())
	assert.False(t, ok)

	_, ok = IdentityFromContext(ContextWithIdentity(context.Background(), nil))
	assert.False(t, ok)

	assert.Panics(t, func() { MustIdentityFromContext(context.Background()) })

	_, ok = TraceIDFromContext(context.Background())
	assert.False(t, ok)
	_, ok = SpanIDFromContext(context.Background())
	assert.False(t, ok)
}
