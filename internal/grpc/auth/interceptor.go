package auth

import (
	"context"
	"strings"

	"judgeauth/internal/domain/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	authorizationHeader = "authorization"
	bearerPrefix        = "Bearer "
)

type TokenVerifier interface {
	Verify(accessToken string) (models.AccessClaims, error)
}

type claimsKey struct{}

// protected lists the methods that need a verified access token.
var protected = map[string]bool{
	fullMethod(methodMe):                true,
	fullMethod(methodChangePassword):    true,
	fullMethod(methodChangeDisplayName): true,
	fullMethod(methodHeartbeat):         true,
	fullMethod(methodLeave):             true,
	fullMethod(methodOnlineUsers):       true,
}

// AccessTokenInterceptor verifies the bearer token of protected methods and
// stores its claims in the request context.
func AccessTokenInterceptor(verifier TokenVerifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !protected[info.FullMethod] {
			return handler(ctx, req)
		}

		token := bearerToken(ctx)
		if token == "" {
			return nil, status.Error(codes.Unauthenticated, msgAuthFailed)
		}

		claims, err := verifier.Verify(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, msgAuthFailed)
		}

		return handler(context.WithValue(ctx, claimsKey{}, claims), req)
	}
}

// ClaimsFromContext returns the claims stored by AccessTokenInterceptor.
func ClaimsFromContext(ctx context.Context) (models.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(models.AccessClaims)
	return claims, ok
}

// WithAccessToken attaches token to outgoing calls made with ctx.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, authorizationHeader, bearerPrefix+token)
}

func bearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(authorizationHeader)
	if len(values) == 0 {
		return ""
	}
	token, found := strings.CutPrefix(values[0], bearerPrefix)
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}
