package trustroute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HeaderHandoffToken carries a handoff token when it is not sent as a
// query parameter.
const HeaderHandoffToken = "X-Handoff-Token"

// RateLimitMiddleware creates HTTP middleware that enforces the fixed-window
// limits in cfg.EndpointLimits. The identity is the caller's network address
// (see ClientIP); handlers that key on something else (a phone number for
// SMS) call CheckRateLimit themselves.
func RateLimitMiddleware(cfg Config) func(http.Handler) http.Handler {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid trustroute middleware configuration: %v", err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rule, limited := cfg.MatchEndpoint(r.URL.Path)
			if !limited {
				next.ServeHTTP(w, r)
				return
			}

			if err := CheckRateLimit(r.Context(), cfg.Limiter, cfg.Surface, rule, ClientIP(r)); err != nil {
				WriteError(w, cfg.Logger, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CheckRateLimit applies rule for identity and returns a KindRateLimit
// *RateLimitError when the request must be rejected.
func CheckRateLimit(ctx context.Context, limiter RateLimiter, surface Surface, rule *LimitRule, identity string) error {
	decision, err := limiter.Allow(ctx, surface, rule.Action, identity, rule.Limit, rule.Window)
	if err != nil {
		return fmt.Errorf("failed to check rate limit: %w", err)
	}
	if !decision.Allowed {
		return &RateLimitError{RetryAfter: decision.RetryAfter}
	}
	return nil
}

// HandoffMiddleware creates HTTP middleware that consumes a handoff token
// from the cfg.HandoffParam query parameter or the X-Handoff-Token header
// and stores the verified payload in the request context. Paths listed in
// cfg.HandoffPaths are rejected when no token is present.
//
// Consuming is single-use: a page reload with the same token fails with an
// authentication error.
func HandoffMiddleware(cfg Config) func(http.Handler) http.Handler {
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("invalid trustroute middleware configuration: %v", err))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.skipPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimSpace(r.URL.Query().Get(cfg.HandoffParam))
			if token == "" {
				token = strings.TrimSpace(r.Header.Get(HeaderHandoffToken))
			}

			if token == "" {
				if cfg.RequiresHandoff(r.URL.Path) {
					WriteError(w, cfg.Logger, NewError(KindAuthentication, CodeMissingHandoff, "Missing handoff token", nil))
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Handoff == nil {
				next.ServeHTTP(w, r)
				return
			}

			handoff, err := cfg.Handoff.Consume(r.Context(), token, cfg.Surface)
			if err != nil {
				WriteError(w, cfg.Logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), HandoffContextKey, handoff)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetHandoffFromContext extracts the verified handoff from the request context.
func GetHandoffFromContext(ctx context.Context) (*HandoffContext, bool) {
	handoff, ok := ctx.Value(HandoffContextKey).(*HandoffContext)
	return handoff, ok && handoff != nil
}

// RequireHandoff is a helper that extracts the handoff from context and
// returns an authentication error if not found.
func RequireHandoff(ctx context.Context) (*HandoffContext, error) {
	handoff, ok := GetHandoffFromContext(ctx)
	if !ok {
		return nil, NewError(KindAuthentication, CodeMissingHandoff, "handoff context not found", nil)
	}
	return handoff, nil
}

// RateLimitError is returned when a rate-limit bucket is exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// StatusForKind maps an error kind to an HTTP status code.
func StatusForKind(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	case KindRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// transientRetryAfter is the Retry-After hint sent with transient chain errors.
const transientRetryAfter = 5

// WriteError writes err as a JSON {error} body. Business-rule rejections
// carry their own message; anything else is logged and reported generically.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		w.Header().Set("Retry-After", strconv.Itoa(rl.RetryAfterSeconds()))
		WriteJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "Rate limit exceeded. Try again soon.",
		})
		return
	}

	kind := KindOf(err)
	if kind == KindInternal {
		if logger != nil {
			logger.Error("unexpected fault", zap.Error(err))
		}
	}
	if kind == KindTransient {
		w.Header().Set("Retry-After", strconv.Itoa(transientRetryAfter))
	}

	WriteJSON(w, StatusForKind(kind), map[string]string{
		"error": PublicMessage(err),
	})
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// ClientIP returns the caller's network address: the first hop of
// X-Forwarded-For, then X-Real-IP, then X-Vercel-Forwarded-For, then the
// connection's remote address. Returns "unknown" when none is usable.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := firstHop(xff); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if xv := r.Header.Get("X-Vercel-Forwarded-For"); xv != "" {
		if ip := firstHop(xv); ip != "" {
			return ip
		}
	}

	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}

	return "unknown"
}

func firstHop(list string) string {
	first, _, _ := strings.Cut(list, ",")
	return strings.TrimSpace(first)
}
