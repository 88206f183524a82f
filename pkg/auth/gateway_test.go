package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-gateway/pkg/credentials"
	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
	"github.com/StricklySoft/stricklysoft-gateway/pkg/metrics"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// fakeSource implements CredentialSource over a fixed map.
type fakeSource struct {
	records map[string]credentials.Record
	err     error
	calls   int
}

func (f *fakeSource) Get(_ context.Context, token string) (credentials.Record, bool, error) {
	f.calls++
	if f.err != nil {
		return credentials.Record{}, false, f.err
	}
	rec, ok := f.records[token]
	return rec, ok, nil
}

func clientRecord(token string, active bool) credentials.Record {
	return credentials.Record{
		ID:     42,
		Name:   "billing-sync",
		Token:  token,
		Secret: "s3cret",
		Active: active,
		Profile: credentials.Profile{
			ID:   7,
			Name: "integration",
		},
		LastUpdated: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func signed(t *testing.T, identifier, secret string) string {
	t.Helper()
	tok, err := Sign(identifier, "20991231", secret)
	require.NoError(t, err)
	return tok
}

func newCacheWith(t *testing.T, recs ...credentials.Record) *credentials.Cache {
	t.Helper()
	c := credentials.NewCache()
	for _, rec := range recs {
		require.NoError(t, c.Set(context.Background(), rec.Token, rec))
	}
	return c
}

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestGateway_Authenticate_Success(t *testing.T) {
	t.Parallel()
	gw := NewGateway(newCacheWith(t, clientRecord("abc", true)))

	identity, err := gw.Authenticate(context.Background(), MapMetadata{
		HeaderAuthorization: "Bearer abc",
		HeaderAPISignature:  signed(t, "abc", "s3cret"),
	})
	require.NoError(t, err)
	assert.Equal(t, &Identity{
		ClientID:    42,
		Name:        "billing-sync",
		Token:       "abc",
		Active:      true,
		ProfileID:   7,
		ProfileName: "integration",
	}, identity)
}

func TestGateway_Authenticate_BlockedClient(t *testing.T) {
	t.Parallel()
	gw := NewGateway(newCacheWith(t, clientRecord("abc", false)))

	for name, sig := range map[string]string{
		"valid signature":   signed(t, "abc", "s3cret"),
		"invalid signature": signed(t, "abc", "wrong"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := gw.Authenticate(context.Background(), MapMetadata{
				HeaderAPIKey:       "abc",
				HeaderAPISignature: sig,
			})
			require.Error(t, err)
			assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationBlocked))
			assert.Equal(t, "clientBlocked", sserr.Reason(err))
		})
	}
}

func TestGateway_Authenticate_Rejections(t *testing.T) {
	t.Parallel()
	gw := NewGateway(newCacheWith(t, clientRecord("abc", true)))
	tests := []struct {
		name     string
		md       MapMetadata
		wantCode sserr.Code
	}{
		{
			name:     "nothing presented",
			md:       MapMetadata{},
			wantCode: sserr.CodeAuthenticationMissing,
		},
		{
			name:     "token without signature",
			md:       MapMetadata{HeaderAPIKey: "abc"},
			wantCode: sserr.CodeAuthenticationMissing,
		},
		{
			name:     "signature without token",
			md:       MapMetadata{HeaderAPISignature: signed(t, "abc", "s3cret")},
			wantCode: sserr.CodeAuthenticationMissing,
		},
		{
			name:     "unknown token",
			md:       MapMetadata{HeaderAPIKey: "ghost", HeaderAPISignature: signed(t, "ghost", "s3cret")},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name:     "wrong secret",
			md:       MapMetadata{HeaderAPIKey: "abc", HeaderAPISignature: signed(t, "abc", "guess")},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
		{
			name:     "garbage signature",
			md:       MapMetadata{HeaderAPIKey: "abc", HeaderAPISignature: "not-a-token"},
			wantCode: sserr.CodeAuthenticationInvalid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			identity, err := gw.Authenticate(context.Background(), tt.md)
			assert.Nil(t, identity)
			assert.True(t, sserr.HasCode(err, tt.wantCode), "got %v", err)
		})
	}
}

func TestGateway_Authenticate_ExpiredValidity(t *testing.T) {
	t.Parallel()
	tok, err := Sign("abc", "20261015", "s3cret")
	require.NoError(t, err)

	gw := NewGateway(newCacheWith(t, clientRecord("abc", true)),
		WithVerifier(Verifier{Now: fixedClock(time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC))}))
	_, err = gw.Authenticate(context.Background(), MapMetadata{
		HeaderAPIKey:       "abc",
		HeaderAPISignature: tok,
	})
	assert.True(t, sserr.HasCode(err, sserr.CodeAuthenticationInvalid))
}

func TestGateway_Authenticate_LookupUnavailable(t *testing.T) {
	t.Parallel()
	gw := NewGateway(&fakeSource{err: errors.New("connection refused")})

	_, err := gw.Authenticate(context.Background(), MapMetadata{
		HeaderAPIKey:       "abc",
		HeaderAPISignature: signed(t, "abc", "s3cret"),
	})
	require.Error(t, err)
	assert.True(t, sserr.IsUnavailable(err))
	assert.False(t, sserr.IsAuthentication(err))
}

// staticLookup is an authoritative credential lookup over a fixed map.
type staticLookup map[string]credentials.Record

func (l staticLookup) FindByToken(_ context.Context, token string) (credentials.Record, bool, error) {
	rec, ok := l[token]
	return rec, ok, nil
}

func (l staticLookup) List(context.Context) ([]credentials.Record, error) {
	out := make([]credentials.Record, 0, len(l))
	for _, rec := range l {
		out = append(out, rec)
	}
	return out, nil
}

func TestGateway_Authenticate_ReadsThroughOnMiss(t *testing.T) {
	t.Parallel()
	cache := credentials.NewCache(credentials.WithLookup(staticLookup{"abc": clientRecord("abc", true)}))
	require.Zero(t, cache.Len())

	gw := NewGateway(cache)
	identity, err := gw.Authenticate(context.Background(), MapMetadata{
		HeaderAPIToken:     "abc",
		HeaderAPISignature: signed(t, "abc", "s3cret"),
	})
	require.NoError(t, err)
	assert.Equal(t, "abc", identity.Token)
	assert.Equal(t, 1, cache.Len())
}

func TestGateway_TokenPrecedence(t *testing.T) {
	t.Parallel()
	gw := NewGateway(newCacheWith(t,
		clientRecord("from-auth", true),
		clientRecord("from-key", true),
		clientRecord("from-token", true),
	))
	tests := []struct {
		name string
		md   MapMetadata
		want string
	}{
		{
			name: "bearer wins over api key headers",
			md: MapMetadata{
				HeaderAuthorization: "Bearer from-auth",
				HeaderAPIKey:        "from-key",
				HeaderAPIToken:      "from-token",
			},
			want: "from-auth",
		},
		{
			name: "api-key scheme, case insensitive",
			md:   MapMetadata{HeaderAuthorization: "api-key from-auth", HeaderAPIKey: "from-key"},
			want: "from-auth",
		},
		{
			name: "unsupported scheme falls back to X-API-Key",
			md:   MapMetadata{HeaderAuthorization: "Basic Zm9vOmJhcg==", HeaderAPIKey: "from-key"},
			want: "from-key",
		},
		{
			name: "X-API-Key before X-API-Token",
			md:   MapMetadata{HeaderAPIKey: "from-key", HeaderAPIToken: "from-token"},
			want: "from-key",
		},
		{
			name: "X-API-Token last",
			md:   MapMetadata{HeaderAPIToken: "from-token"},
			want: "from-token",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.md[HeaderAPISignature] = signed(t, tt.want, "s3cret")
			identity, err := gw.Authenticate(context.Background(), tt.md)
			require.NoError(t, err)
			assert.Equal(t, tt.want, identity.Token)
		})
	}
}

func TestGateway_RecordsMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	gw := NewGateway(newCacheWith(t, clientRecord("abc", true), clientRecord("off", false)), WithMetrics(m))
	ctx := context.Background()

	_, _ = gw.Authenticate(ctx, MapMetadata{HeaderAPIKey: "abc", HeaderAPISignature: signed(t, "abc", "s3cret")})
	_, _ = gw.Authenticate(ctx, MapMetadata{HeaderAPIKey: "abc"})
	_, _ = gw.Authenticate(ctx, MapMetadata{HeaderAPIKey: "off", HeaderAPISignature: signed(t, "off", "s3cret")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthRequests.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthRequests.WithLabelValues("authenticatorMissing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuthRequests.WithLabelValues("clientBlocked")))
}

// ---------------------------------------------------------------------------
// Metadata adapters
// ---------------------------------------------------------------------------

func TestExtractToken_Whitespace(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", ExtractToken(MapMetadata{HeaderAuthorization: "  Bearer   abc  "}))
	assert.Equal(t, "", ExtractToken(MapMetadata{HeaderAuthorization: "Bearer"}))
	assert.Equal(t, "abc", ExtractToken(MapMetadata{"x-api-key": "abc"}))
}

func TestIdentityFromHeaders(t *testing.T) {
	t.Parallel()
	in := NewIdentity(clientRecord("abc", true))
	md := MapMetadata(identityHeaders(in))

	out, ok := IdentityFromHeaders(md)
	require.True(t, ok)
	assert.Equal(t, in.ClientID, out.ClientID)
	assert.Equal(t, in.Name, out.Name)
	assert.Equal(t, in.ProfileID, out.ProfileID)
	assert.Empty(t, out.Token)

	_, ok = IdentityFromHeaders(MapMetadata{})
	assert.False(t, ok)
}
