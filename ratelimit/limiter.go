// Package ratelimit implements the fixed-window limiter shared by every
// surface. Counters live in the store so all instances of a surface see
// the same window.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/store"
)

// Limiter is a fixed-window counter over store.Incr and store.Expire.
type Limiter struct {
	store  store.Store
	logger *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// New creates a Limiter backed by st.
func New(st store.Store, opts ...Option) *Limiter {
	l := &Limiter{
		store:  st,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the counter key for a bucket: rl:{surfaceShort}:{action}:{identity}.
func Key(surface trustroute.Surface, action trustroute.Action, identity string) string {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "unknown"
	}
	return fmt.Sprintf("rl:%s:%s:%s", surface.Short(), action, identity)
}

// Allow counts one request against the bucket and reports whether it fits
// in the current window. The window starts at the first request; the
// counter key expires with it. A blocked request on a key that lost its
// TTL starts a fresh window.
func (l *Limiter) Allow(ctx context.Context, surface trustroute.Surface, action trustroute.Action, identity string, limit int64, window time.Duration) (trustroute.RateLimitDecision, error) {
	key := Key(surface, action, identity)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return trustroute.RateLimitDecision{}, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	if count == 1 {
		if err := l.store.Expire(ctx, key, window); err != nil {
			return trustroute.RateLimitDecision{}, fmt.Errorf("failed to set window on %s: %w", key, err)
		}
	}

	if count > limit {
		retryAfter := window
		ttl, err := l.store.TTL(ctx, key)
		switch {
		case err != nil:
		case ttl > 0:
			retryAfter = ttl
		case ttl == store.NoExpiry:
			// The first Expire was lost; without a TTL the bucket would
			// never reset.
			if err := l.store.Expire(ctx, key, window); err != nil {
				l.logger.Warn("failed to re-arm rate limit window", zap.String("key", key), zap.Error(err))
			}
		}
		l.logger.Debug("rate limited",
			zap.String("key", key),
			zap.Int64("count", count),
			zap.Duration("retry_after", retryAfter),
		)
		return trustroute.RateLimitDecision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return trustroute.RateLimitDecision{Allowed: true, Remaining: limit - count}, nil
}

var _ trustroute.RateLimiter = (*Limiter)(nil)
