package grpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// StreamServerInterceptor creates a gRPC stream server interceptor that
// applies the same checks as UnaryServerInterceptor once, before the stream
// begins.
func StreamServerInterceptor(cfg trustroute.Config) grpc.StreamServerInterceptor {
	// Validate configuration at creation time
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid trustroute config: %v", err))
	}

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := admit(ss.Context(), &cfg, info.FullMethod)
		if err != nil {
			if trailer := retryAfterTrailer(err); trailer != nil {
				ss.SetTrailer(trailer)
			}
			return ToStatus(cfg.Logger, err)
		}

		return handler(srv, &handoffServerStream{ServerStream: ss, ctx: ctx})
	}
}

// handoffServerStream wraps grpc.ServerStream to provide the context
// carrying the consumed handoff
type handoffServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context with handoff information
func (s *handoffServerStream) Context() context.Context {
	return s.ctx
}
