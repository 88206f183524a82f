package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	sserr "github.com/StricklySoft/stricklysoft-gateway/pkg/errors"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates each call from its incoming metadata and stores the
// resulting [Identity] in the handler's context.
//
// Authentication failures are returned as codes.Unauthenticated and an
// unavailable credential lookup as codes.Unavailable. The status message is
// the stable reason string.
func UnaryServerInterceptor(a Authenticator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, a)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor performs the same check as
// [UnaryServerInterceptor] and wraps the stream to carry the enriched
// context.
func StreamServerInterceptor(a Authenticator) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), a)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor forwards the identity in ctx to downstream gRPC
// services as x-client-* metadata. Calls without an identity pass through
// unchanged.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return invoker(propagateIdentityToGRPC(ctx), method, req, reply, cc, opts...)
	}
}

func authenticateGRPC(ctx context.Context, a Authenticator) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, sserr.CodeAuthenticationMissing.Reason())
	}
	identity, err := a.Authenticate(ctx, GRPCMetadata(md))
	if err != nil {
		return ctx, grpcStatus(err)
	}
	return ContextWithIdentity(ctx, identity), nil
}

func grpcStatus(err error) error {
	switch {
	case sserr.IsAuthentication(err):
		return status.Error(codes.Unauthenticated, sserr.Reason(err))
	case sserr.IsUnavailable(err):
		return status.Error(codes.Unavailable, sserr.Reason(err))
	default:
		return status.Error(codes.Internal, sserr.Reason(err))
	}
}

func propagateIdentityToGRPC(ctx context.Context) context.Context {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ctx
	}
	headers := identityHeaders(identity)
	pairs := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		pairs = append(pairs, strings.ToLower(k), v)
	}
	md := metadata.Pairs(pairs...)
	if existing, ok := metadata.FromOutgoingContext(ctx); ok {
		md = metadata.Join(existing, md)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// wrappedServerStream overrides Context so handlers see the identity added
// by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the authenticated context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
