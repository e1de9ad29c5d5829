// Package grpcmw provides gRPC interceptors for protecting services with
// bearer tokens issued by this server.
//
// All interceptors accept an auth.TokenVerifier, so a service can verify
// locally (verifier package) or against the published key set (jwks
// package) without holding the private key.
package grpcmw

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	auth "github.com/zdesk/auth-go"
)

// AuthOption configures auth interceptor behavior.
type AuthOption func(*authConfig)

type authConfig struct {
	excludedMethods map[string]bool
}

// WithExcludedMethods sets gRPC methods that skip authentication.
// Methods should be fully qualified (e.g. "/package.Service/Method").
func WithExcludedMethods(methods ...string) AuthOption {
	return func(cfg *authConfig) {
		for _, m := range methods {
			cfg.excludedMethods[m] = true
		}
	}
}

// UnaryAuth returns a gRPC unary server interceptor that verifies bearer
// tokens. On success it stores the authentication context via
// auth.WithAuthContext, auth.WithSubject, etc.
func UnaryAuth(verifier auth.TokenVerifier, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(ctx, req)
		}

		ctx, err := authenticate(ctx, verifier)
		if err != nil {
			return nil, err
		}

		return handler(ctx, req)
	}
}

// StreamAuth returns a gRPC stream server interceptor that verifies
// bearer tokens.
func StreamAuth(verifier auth.TokenVerifier, opts ...AuthOption) grpc.StreamServerInterceptor {
	cfg := &authConfig{excludedMethods: make(map[string]bool)}
	for _, o := range opts {
		o(cfg)
	}

	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if cfg.excludedMethods[info.FullMethod] {
			return handler(srv, ss)
		}

		ctx, err := authenticate(ss.Context(), verifier)
		if err != nil {
			return err
		}

		wrapped := &wrappedStream{ServerStream: ss, ctx: ctx}
		return handler(srv, wrapped)
	}
}

// UnaryRequireScope returns a gRPC unary server interceptor that checks a
// single granted scope. Requires UnaryAuth to run first.
func UnaryRequireScope(scope string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ac := auth.AuthContextFromContext(ctx)
		if ac == nil {
			return nil, status.Error(codes.Unauthenticated, "not authenticated")
		}
		if !ac.HasScope(scope) {
			return nil, status.Error(codes.PermissionDenied, "insufficient scope")
		}
		return handler(ctx, req)
	}
}

// --- internal helpers ---

func authenticate(ctx context.Context, verifier auth.TokenVerifier) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokenStr := extractBearerFromMD(md)
	if tokenStr == "" {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization token")
	}

	ac, err := verifier.Verify(ctx, tokenStr)
	if err != nil {
		return ctx, status.Error(codes.Unauthenticated, "invalid token")
	}

	ctx = auth.WithAuthContext(ctx, ac)
	ctx = auth.WithSubject(ctx, ac.Subject)
	ctx = auth.WithClientID(ctx, ac.ClientID)
	ctx = auth.WithScopes(ctx, ac.Scopes)

	return ctx, nil
}

func extractBearerFromMD(md metadata.MD) string {
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	parts := strings.SplitN(vals[0], " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// wrappedStream wraps grpc.ServerStream to override Context().
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
