package grpc

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	trustroute "github.com/dhays4sports/usdc-bot"
)

const (
	// MetadataKeyHandoffToken is the metadata key carrying a handoff token
	MetadataKeyHandoffToken = "x-handoff-token"

	// MetadataKeyRetryAfter is the trailer key carrying the seconds to wait
	// after a rejected request
	MetadataKeyRetryAfter = "retry-after"

	// metadataKeyForwardedFor is set by grpc-gateway to the HTTP caller's address
	metadataKeyForwardedFor = "x-forwarded-for"
)

// TokenFromMetadata extracts the handoff token from incoming metadata.
// Returns "" when none was sent.
func TokenFromMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(MetadataKeyHandoffToken)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// PeerIdentity returns the caller's network address used as the rate-limit
// identity: the first x-forwarded-for hop when the call came through the
// gateway, then the transport peer. Returns "unknown" when neither is usable.
func PeerIdentity(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(metadataKeyForwardedFor); len(values) > 0 {
			first, _, _ := strings.Cut(values[0], ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr := p.Addr.String()
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		if addr != "" {
			return addr
		}
	}

	return "unknown"
}

// CodeForKind maps an error kind to a gRPC status code.
func CodeForKind(kind trustroute.Kind) codes.Code {
	switch kind {
	case trustroute.KindValidation:
		return codes.InvalidArgument
	case trustroute.KindAuthentication:
		return codes.Unauthenticated
	case trustroute.KindConflict:
		return codes.FailedPrecondition
	case trustroute.KindNotFound:
		return codes.NotFound
	case trustroute.KindTransient:
		return codes.Unavailable
	case trustroute.KindRateLimit:
		return codes.ResourceExhausted
	}
	return codes.Internal
}

// ToStatus converts err into a gRPC status error carrying the public message.
// Internal faults are logged and reported generically.
func ToStatus(logger *zap.Logger, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var rl *trustroute.RateLimitError
	if errors.As(err, &rl) {
		return status.Error(codes.ResourceExhausted, "Rate limit exceeded. Try again soon.")
	}

	kind := trustroute.KindOf(err)
	if kind == trustroute.KindInternal && logger != nil {
		logger.Error("unexpected fault", zap.Error(err))
	}
	return status.Error(CodeForKind(kind), trustroute.PublicMessage(err))
}

// retryAfterTrailer returns the trailer to attach to a rejection, or nil
// when err carries no retry hint.
func retryAfterTrailer(err error) metadata.MD {
	var rl *trustroute.RateLimitError
	if errors.As(err, &rl) {
		return metadata.Pairs(MetadataKeyRetryAfter, strconv.Itoa(rl.RetryAfterSeconds()))
	}
	return nil
}
