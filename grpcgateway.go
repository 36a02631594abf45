package trustroute

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/metadata"
)

// Metadata keys used to carry a verified handoff from the HTTP gateway to
// gRPC handlers.
const (
	MetadataKeyHandoffVerified = "x-handoff-verified"
	MetadataKeyHandoffIssuer   = "x-handoff-issuer"
	MetadataKeyHandoffAudience = "x-handoff-audience"
	MetadataKeyHandoffIntent   = "x-handoff-intent"
	MetadataKeyHandoffNonce    = "x-handoff-nonce"
	MetadataKeyHandoffExpires  = "x-handoff-expires"

	// metadataFieldPrefix prefixes each handoff field, e.g. "x-handoff-field-amount".
	metadataFieldPrefix = "x-handoff-field-"
)

// WithHandoffMetadata returns a ServeMuxOption that propagates the handoff
// verified by HandoffMiddleware into gRPC metadata, making it accessible
// in gRPC handlers through GetHandoffFromGRPCContext.
func WithHandoffMetadata() runtime.ServeMuxOption {
	return runtime.WithMetadata(func(ctx context.Context, r *http.Request) metadata.MD {
		md := metadata.MD{}

		handoff, ok := GetHandoffFromContext(ctx)
		if !ok {
			return md
		}

		md.Set(MetadataKeyHandoffVerified, "true")
		md.Set(MetadataKeyHandoffIssuer, handoff.Issuer.String())
		md.Set(MetadataKeyHandoffAudience, handoff.Audience.String())
		md.Set(MetadataKeyHandoffIntent, handoff.Intent)
		md.Set(MetadataKeyHandoffNonce, handoff.Nonce)
		md.Set(MetadataKeyHandoffExpires, strconv.FormatInt(handoff.ExpiresAt.Unix(), 10))

		for k, v := range handoff.Fields {
			md.Set(metadataFieldPrefix+strings.ToLower(k), v)
		}

		return md
	})
}

// GetHandoffFromGRPCContext extracts handoff information from gRPC metadata
// set by WithHandoffMetadata. Field names come back lower-cased because
// gRPC metadata keys are case-insensitive.
func GetHandoffFromGRPCContext(ctx context.Context) (*HandoffContext, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, false
	}

	verified := md.Get(MetadataKeyHandoffVerified)
	if len(verified) == 0 || verified[0] != "true" {
		return nil, false
	}

	handoff := &HandoffContext{
		Issuer:   Surface(first(md, MetadataKeyHandoffIssuer)),
		Audience: Surface(first(md, MetadataKeyHandoffAudience)),
		Intent:   first(md, MetadataKeyHandoffIntent),
		Nonce:    first(md, MetadataKeyHandoffNonce),
		Fields:   Fields{},
	}

	if exp, err := strconv.ParseInt(first(md, MetadataKeyHandoffExpires), 10, 64); err == nil {
		handoff.ExpiresAt = time.Unix(exp, 0)
	}

	for key, values := range md {
		if name, ok := strings.CutPrefix(key, metadataFieldPrefix); ok && len(values) > 0 {
			handoff.Fields[name] = values[0]
		}
	}

	return handoff, true
}

// GetHTTPPathPattern extracts the HTTP path pattern from grpc-gateway context.
func GetHTTPPathPattern(ctx context.Context) (string, bool) {
	return runtime.HTTPPathPattern(ctx)
}

func first(md metadata.MD, key string) string {
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}
