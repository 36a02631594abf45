// Package stats keeps the per-surface activity counters ("TrustRoute
// stats"). Counts are kept in a store hash so they survive restarts and
// are shared by every instance, and are mirrored to an OpenTelemetry
// counter for scraping.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/store"
)

// FieldLastActivityAt holds the RFC 3339 time of the latest event.
const FieldLastActivityAt = "lastActivityAt"

// DefaultTimeout bounds the store writes of a single Record call.
const DefaultTimeout = 2 * time.Second

const meterName = "github.com/dhays4sports/usdc-bot/stats"

// Key returns the stats hash key for a surface.
func Key(surface trustroute.Surface) string {
	return "tr:stats:" + surface.String()
}

// Recorder records stats events. It implements trustroute.StatsRecorder.
type Recorder struct {
	store         store.Store
	logger        *zap.Logger
	now           func() time.Time
	timeout       time.Duration
	meterProvider metric.MeterProvider
	events        metric.Int64Counter
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger for swallowed failures.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithClock overrides the clock used for lastActivityAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(r *Recorder) { r.meterProvider = mp }
}

// New creates a Recorder.
func New(st store.Store, opts ...Option) (*Recorder, error) {
	r := &Recorder{
		store:   st,
		logger:  zap.NewNop(),
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.meterProvider == nil {
		r.meterProvider = otel.GetMeterProvider()
	}

	var err error
	r.events, err = r.meterProvider.Meter(meterName).Int64Counter("trustroute.events",
		metric.WithDescription("Intent and handoff lifecycle events per surface"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}
	return r, nil
}

// Record increments the event's field in the surface's hash and stamps
// lastActivityAt. Failures are logged and swallowed.
func (r *Recorder) Record(ctx context.Context, surface trustroute.Surface, event trustroute.StatEvent) {
	r.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("surface", surface.String()),
		attribute.String("event", string(event)),
	))

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	key := Key(surface)
	if _, err := r.store.HashIncrBy(ctx, key, string(event), 1); err != nil {
		r.logger.Warn("stats increment failed",
			zap.Stringer("surface", surface),
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return
	}
	if err := r.store.HashSet(ctx, key, FieldLastActivityAt, r.now().UTC().Format(time.RFC3339Nano)); err != nil {
		r.logger.Warn("stats activity stamp failed",
			zap.Stringer("surface", surface),
			zap.Error(err),
		)
	}
}

// Snapshot is a surface's stats hash.
type Snapshot struct {
	Surface trustroute.Surface `json:"surface"`
	Stats   map[string]string  `json:"stats"`
	Message string             `json:"message,omitempty"`
}

// Count returns the integer value of an event field, or 0.
func (s *Snapshot) Count(event trustroute.StatEvent) int64 {
	n, _ := strconv.ParseInt(s.Stats[string(event)], 10, 64)
	return n
}

// Snapshot reads the stats hash for surface.
func (r *Recorder) Snapshot(ctx context.Context, surface trustroute.Surface) (*Snapshot, error) {
	all, err := r.store.HashGetAll(ctx, Key(surface))
	if err != nil {
		return nil, fmt.Errorf("failed to read stats for %s: %w", surface, err)
	}
	snap := &Snapshot{Surface: surface, Stats: all}
	if len(all) == 0 {
		snap.Message = "No activity yet"
	}
	return snap, nil
}

var _ trustroute.StatsRecorder = (*Recorder)(nil)
