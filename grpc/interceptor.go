package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// UnaryServerInterceptor creates a gRPC unary server interceptor that
// enforces cfg.MethodLimits and consumes handoff tokens sent in the
// x-handoff-token metadata key.
func UnaryServerInterceptor(cfg trustroute.Config) grpc.UnaryServerInterceptor {
	// Validate configuration at creation time
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid trustroute config: %v", err))
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		admitted, err := admit(ctx, &cfg, info.FullMethod)
		if err != nil {
			if trailer := retryAfterTrailer(err); trailer != nil {
				// Fails outside a real server stream, e.g. in tests.
				_ = grpc.SetTrailer(ctx, trailer)
			}
			return nil, ToStatus(cfg.Logger, err)
		}

		return handler(admitted, req)
	}
}

// admit runs the rate limit and then the handoff check for fullMethod and
// returns the context handlers should see.
func admit(ctx context.Context, cfg *trustroute.Config, fullMethod string) (context.Context, error) {
	if cfg.SkipMethod(fullMethod) {
		return ctx, nil
	}

	if rule, limited := cfg.MatchMethod(fullMethod); limited {
		if err := trustroute.CheckRateLimit(ctx, cfg.Limiter, cfg.Surface, rule, PeerIdentity(ctx)); err != nil {
			return nil, err
		}
	}

	token := TokenFromMetadata(ctx)
	if token == "" {
		if cfg.MethodRequiresHandoff(fullMethod) {
			return nil, trustroute.NewError(trustroute.KindAuthentication, trustroute.CodeMissingHandoff, "Missing handoff token", nil)
		}
		return ctx, nil
	}

	if cfg.Handoff == nil {
		return ctx, nil
	}

	handoff, err := cfg.Handoff.Consume(ctx, token, cfg.Surface)
	if err != nil {
		return nil, err
	}

	return context.WithValue(ctx, trustroute.HandoffContextKey, handoff), nil
}

// GetHandoffFromContext extracts the handoff consumed by the interceptor.
// This can be used in gRPC service handlers to access the handed-off fields.
func GetHandoffFromContext(ctx context.Context) (*trustroute.HandoffContext, bool) {
	return trustroute.GetHandoffFromContext(ctx)
}

// RequireHandoff is a helper that extracts the handoff from context and
// returns an Unauthenticated status if not found.
func RequireHandoff(ctx context.Context) (*trustroute.HandoffContext, error) {
	handoff, ok := GetHandoffFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "handoff context not found")
	}
	return handoff, nil
}
