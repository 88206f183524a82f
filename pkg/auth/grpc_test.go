package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// ---------------------------------------------------------------------------
// UnaryServerInterceptor
// ---------------------------------------------------------------------------

func TestUnaryServerInterceptor_ValidCredentials(t *testing.T) {
	t.Parallel()
	interceptor := UnaryServerInterceptor(NewGateway(newCacheWith(t, clientRecord("abc", true))))

	md := metadata.Pairs(
		"authorization", "API-Key abc",
		"x-api-signature", signed(t, "abc", "s3cret"),
	)
	ctx := metadata.NewIncomingContext(context.Background(), md)

	var capturedCtx context.Context
	handler := func(ctx context.Context, req any) (any, error) {
		capturedCtx = ctx
		return "response", nil
	}

	resp, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{}, handler)
	require.NoError(t, err)
	assert.Equal(t, "response", resp)

	identity, ok := IdentityFromContext(capturedCtx)
	require.True(t, ok, "identity not found in context after interceptor")
	assert.Equal(t, "abc", identity.Token)
}

func TestUnaryServerInterceptor_MissingMetadata(t *testing.T) {
	t.Parallel()
	interceptor := UnaryServerInterceptor(NewGateway(newCacheWith(t)))
	handler := func(ctx context.Context, req any) (any, error) {
		t.Error("handler should not be called when metadata is missing")
		return nil, nil
	}

	_, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{}, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestUnaryServerInterceptor_StatusMapping(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		source   CredentialSource
		wantCode codes.Code
		wantMsg  string
	}{
		{
			name:     "blocked client",
			source:   newCacheWith(t, clientRecord("abc", false)),
			wantCode: codes.Unauthenticated,
			wantMsg:  "clientBlocked",
		},
		{
			name:     "unknown client",
			source:   newCacheWith(t),
			wantCode: codes.Unauthenticated,
			wantMsg:  "authenticationFailed",
		},
		{
			name:     "lookup unavailable",
			source:   &fakeSource{err: errors.New("timeout")},
			wantCode: codes.Unavailable,
			wantMsg:  "serviceUnavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			interceptor := UnaryServerInterceptor(NewGateway(tt.source))
			md := metadata.Pairs("x-api-key", "abc", "x-api-signature", signed(t, "abc", "s3cret"))
			ctx := metadata.NewIncomingContext(context.Background(), md)

			_, err := interceptor(ctx, nil, &grpc.UnaryServerInfo{}, func(context.Context, any) (any, error) {
				t.Error("handler must not run")
				return nil, nil
			})
			st, ok := status.FromError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantCode, st.Code())
			assert.Equal(t, tt.wantMsg, st.Message())
		})
	}
}

// ---------------------------------------------------------------------------
// StreamServerInterceptor
// ---------------------------------------------------------------------------

// fakeServerStream implements grpc.ServerStream for testing.
type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamServerInterceptor_WrapsContext(t *testing.T) {
	t.Parallel()
	interceptor := StreamServerInterceptor(NewGateway(newCacheWith(t, clientRecord("abc", true))))
	md := metadata.Pairs("authorization", "Bearer abc", "x-api-signature", signed(t, "abc", "s3cret"))
	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}

	var got *Identity
	err := interceptor(nil, ss, &grpc.StreamServerInfo{}, func(srv any, stream grpc.ServerStream) error {
		got, _ = IdentityFromContext(stream.Context())
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(42), got.ClientID)
}

func TestStreamServerInterceptor_Rejects(t *testing.T) {
	t.Parallel()
	interceptor := StreamServerInterceptor(NewGateway(newCacheWith(t)))
	ss := &fakeServerStream{ctx: metadata.NewIncomingContext(context.Background(), metadata.MD{})}

	err := interceptor(nil, ss, &grpc.StreamServerInfo{}, func(any, grpc.ServerStream) error {
		t.Error("handler must not run")
		return nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

// ---------------------------------------------------------------------------
// UnaryClientInterceptor
// ---------------------------------------------------------------------------

func TestUnaryClientInterceptor_PropagatesIdentity(t *testing.T) {
	t.Parallel()
	interceptor := UnaryClientInterceptor()
	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-request-id", "r-1")
	ctx = ContextWithIdentity(ctx, &Identity{ClientID: 42, Name: "billing-sync", ProfileID: 7})

	var outgoing metadata.MD
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		outgoing, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	require.NoError(t, interceptor(ctx, "/orders.v1.Orders/List", nil, nil, nil, invoker))

	assert.Equal(t, []string{"42"}, outgoing.Get("x-client-id"))
	assert.Equal(t, []string{"false"}, outgoing.Get("x-client-root"))
	assert.Equal(t, []string{"r-1"}, outgoing.Get("x-request-id"))
}

func TestUnaryClientInterceptor_NoIdentity(t *testing.T) {
	t.Parallel()
	var outgoing metadata.MD
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		outgoing, _ = metadata.FromOutgoingContext(ctx)
		return nil
	}
	require.NoError(t, UnaryClientInterceptor()(context.Background(), "/m", nil, nil, nil, invoker))
	assert.Empty(t, outgoing.Get("x-client-id"))
}
