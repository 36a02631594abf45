package trustroute

import (
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config holds the middleware configuration shared by the HTTP middleware
// and the gRPC interceptors.
type Config struct {
	// Surface is this deployment's own identity. Handoff tokens are
	// consumed with Surface as the expected audience.
	Surface Surface

	// Limiter counts requests for EndpointLimits and MethodLimits.
	Limiter RateLimiter

	// Handoff consumes handoff tokens (e.g., handoff.Codec).
	Handoff HandoffVerifier

	// EndpointLimits maps URL patterns to rate-limit rules.
	// Patterns support exact matches ("/api/payments") and wildcards ("/api/*").
	// Used by HTTP middleware.
	EndpointLimits map[string]LimitRule

	// MethodLimits maps gRPC method names to rate-limit rules.
	// Methods are full names like "/package.Service/Method".
	// Supports wildcards: "/package.Service/*" matches all methods in a service.
	// Used by native gRPC interceptors.
	MethodLimits map[string]LimitRule

	// DefaultLimit is used when no pattern matches (optional).
	// If nil, unmatched endpoints are not rate limited.
	DefaultLimit *LimitRule

	// HandoffPaths lists path patterns that require a handoff token.
	// Other paths accept an optional token.
	HandoffPaths []string

	// HandoffMethods lists gRPC methods that require a handoff token.
	HandoffMethods []string

	// HandoffParam is the query parameter carrying the token.
	// Defaults to "h".
	HandoffParam string

	// SkipPaths lists paths that bypass rate limiting and handoff checks.
	SkipPaths []string

	// SkipMethods lists gRPC methods that bypass rate limiting and handoff checks.
	SkipMethods []string

	// Logger receives unexpected faults. Defaults to a no-op logger.
	Logger *zap.Logger
}

// LimitRule defines a fixed-window rate limit for an endpoint.
type LimitRule struct {
	// Action names the bucket, e.g. ActionCreate.
	Action Action

	// Limit is the number of requests allowed per window.
	Limit int64

	// Window is the fixed window length.
	Window time.Duration
}

// Validate checks if the configuration is valid and fills defaults.
func (c *Config) Validate() error {
	if !c.Surface.Valid() {
		return fmt.Errorf("surface %q is not a known surface", c.Surface)
	}

	if c.HandoffParam == "" {
		c.HandoffParam = "h"
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	hasLimits := len(c.EndpointLimits) > 0 || len(c.MethodLimits) > 0 || c.DefaultLimit != nil
	if hasLimits && c.Limiter == nil {
		return fmt.Errorf("limiter is required when rate limits are configured")
	}

	if (len(c.HandoffPaths) > 0 || len(c.HandoffMethods) > 0) && c.Handoff == nil {
		return fmt.Errorf("handoff verifier is required when handoff paths are configured")
	}

	for pattern, rule := range c.EndpointLimits {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid limit rule for pattern %q: %w", pattern, err)
		}
	}

	for method, rule := range c.MethodLimits {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("invalid limit rule for method %q: %w", method, err)
		}
	}

	if c.DefaultLimit != nil {
		if err := c.DefaultLimit.Validate(); err != nil {
			return fmt.Errorf("invalid default limit rule: %w", err)
		}
	}

	return nil
}

// Validate checks if the limit rule is valid.
func (r *LimitRule) Validate() error {
	if r.Action == "" {
		return fmt.Errorf("action is required")
	}

	if r.Limit <= 0 {
		return fmt.Errorf("limit must be positive")
	}

	if r.Window < time.Second {
		return fmt.Errorf("window must be at least one second")
	}

	return nil
}

// MatchEndpoint finds the limit rule for a given path.
// Returns the rule and true if found, nil and false otherwise.
func (c *Config) MatchEndpoint(requestPath string) (*LimitRule, bool) {
	if c.skipPath(requestPath) {
		return nil, false
	}
	return matchRule(c.EndpointLimits, requestPath, c.DefaultLimit)
}

// MatchMethod finds the limit rule for a given gRPC method.
// Returns the rule and true if found, nil and false otherwise.
func (c *Config) MatchMethod(fullMethod string) (*LimitRule, bool) {
	if c.SkipMethod(fullMethod) {
		return nil, false
	}
	return matchRule(c.MethodLimits, fullMethod, c.DefaultLimit)
}

// SkipMethod reports whether fullMethod bypasses every check.
func (c *Config) SkipMethod(fullMethod string) bool {
	return matchAny(c.SkipMethods, fullMethod)
}

// RequiresHandoff reports whether requestPath must carry a handoff token.
func (c *Config) RequiresHandoff(requestPath string) bool {
	if c.skipPath(requestPath) {
		return false
	}
	return matchAny(c.HandoffPaths, requestPath)
}

// MethodRequiresHandoff reports whether a gRPC method must carry a handoff token.
func (c *Config) MethodRequiresHandoff(fullMethod string) bool {
	if c.SkipMethod(fullMethod) {
		return false
	}
	return matchAny(c.HandoffMethods, fullMethod)
}

func (c *Config) skipPath(requestPath string) bool {
	return matchAny(c.SkipPaths, requestPath)
}

// matchRule prefers an exact key, then the longest matching pattern, then
// the fallback.
func matchRule(rules map[string]LimitRule, name string, fallback *LimitRule) (*LimitRule, bool) {
	if rule, ok := rules[name]; ok {
		return &rule, true
	}

	var bestMatch string
	var bestRule *LimitRule

	for pattern, rule := range rules {
		if matchPath(name, pattern) {
			if len(pattern) > len(bestMatch) {
				bestMatch = pattern
				ruleCopy := rule
				bestRule = &ruleCopy
			}
		}
	}

	if bestRule != nil {
		return bestRule, true
	}

	if fallback != nil {
		return fallback, true
	}

	return nil, false
}

func matchAny(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if matchPath(name, pattern) {
			return true
		}
	}
	return false
}

// matchPath checks if a request path matches a pattern
// Supports wildcards: /v1/* matches /v1/foo, /v1/foo/bar, etc.
func matchPath(requestPath, pattern string) bool {
	if requestPath == pattern {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(requestPath, prefix+"/") || requestPath == prefix
	}

	matched, _ := path.Match(pattern, requestPath)
	return matched
}
