// Package httpapi serves the TrustRoute HTTP surface: hub preview and
// commit, handoff consumption, intent record routes, stats and the SMS
// gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/handoff"
	"github.com/dhays4sports/usdc-bot/record"
	"github.com/dhays4sports/usdc-bot/router"
	"github.com/dhays4sports/usdc-bot/stats"
)

// HeaderRequestID carries the request id assigned by the server.
const HeaderRequestID = "X-Request-Id"

// DefaultCommitTTL is the lifetime of tokens minted by hub commit.
const DefaultCommitTTL = 90 * time.Second

const maxBodyBytes = 64 << 10

// HandoffCodec mints and consumes handoff tokens (e.g., handoff.Codec).
type HandoffCodec interface {
	Mint(ctx context.Context, req handoff.MintRequest) (string, error)
	trustroute.HandoffVerifier
}

// StatsReader reads a surface's aggregate stats (e.g., stats.Recorder).
type StatsReader interface {
	Snapshot(ctx context.Context, surface trustroute.Surface) (*stats.Snapshot, error)
}

// Limits holds the fixed-window rule for each rate-limited route.
type Limits struct {
	Preview trustroute.LimitRule
	Commit  trustroute.LimitRule
	Handoff trustroute.LimitRule
	Create  trustroute.LimitRule
	Proof   trustroute.LimitRule
	Verify  trustroute.LimitRule
	Revoke  trustroute.LimitRule
	Settle  trustroute.LimitRule
	Inbound trustroute.LimitRule
}

// DefaultLimits returns the production limits.
func DefaultLimits() Limits {
	return Limits{
		Preview: trustroute.LimitRule{Action: trustroute.ActionPreview, Limit: 80, Window: time.Minute},
		Commit:  trustroute.LimitRule{Action: trustroute.ActionCommit, Limit: 30, Window: time.Minute},
		Handoff: trustroute.LimitRule{Action: trustroute.ActionHandoff, Limit: 30, Window: time.Minute},
		Create:  trustroute.LimitRule{Action: trustroute.ActionCreate, Limit: 30, Window: time.Minute},
		Proof:   trustroute.LimitRule{Action: trustroute.ActionLinkProof, Limit: 20, Window: time.Minute},
		Verify:  trustroute.LimitRule{Action: trustroute.ActionLinkProof, Limit: 30, Window: time.Minute},
		Revoke:  trustroute.LimitRule{Action: trustroute.ActionRevoke, Limit: 20, Window: time.Minute},
		Settle:  trustroute.LimitRule{Action: trustroute.ActionSettle, Limit: 20, Window: time.Minute},
		Inbound: trustroute.LimitRule{Action: trustroute.ActionInbound, Limit: 10, Window: time.Minute},
	}
}

// Config wires the server's dependencies.
type Config struct {
	// Surface is this deployment's identity; POST /api/handoff and GET /new
	// consume tokens addressed to it.
	Surface trustroute.Surface

	Handoff HandoffCodec
	Records *record.Service
	Router  *router.Router
	Stats   StatsReader
	Limiter trustroute.RateLimiter

	// Limits defaults to DefaultLimits().
	Limits Limits

	// CommitTTL defaults to DefaultCommitTTL.
	CommitTTL time.Duration

	Logger *zap.Logger
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if !c.Surface.Valid() {
		return fmt.Errorf("surface %q is not a known surface", c.Surface)
	}
	if c.Handoff == nil {
		return fmt.Errorf("handoff codec is required")
	}
	if c.Records == nil {
		return fmt.Errorf("record service is required")
	}
	if c.Router == nil {
		return fmt.Errorf("router is required")
	}
	if c.Stats == nil {
		return fmt.Errorf("stats reader is required")
	}
	if c.Limiter == nil {
		return fmt.Errorf("limiter is required")
	}
	if c.Limits == (Limits{}) {
		c.Limits = DefaultLimits()
	}
	if c.CommitTTL == 0 {
		c.CommitTTL = DefaultCommitTTL
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Server is the HTTP surface.
type Server struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &Server{cfg: cfg, logger: cfg.Logger}, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		trustroute.WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
	})

	r.Route("/api/hub", func(hub chi.Router) {
		hub.Use(trustroute.RateLimitMiddleware(trustroute.Config{
			Surface: trustroute.SurfaceHub,
			Limiter: s.cfg.Limiter,
			EndpointLimits: map[string]trustroute.LimitRule{
				"/api/hub/preview": s.cfg.Limits.Preview,
				"/api/hub/commit":  s.cfg.Limits.Commit,
			},
			Logger: s.logger,
		}))
		hub.Post("/preview", s.handlePreview)
		hub.Post("/commit", s.handleCommit)
	})

	r.Post("/api/handoff", s.handleHandoff)
	r.With(trustroute.HandoffMiddleware(trustroute.Config{
		Surface:      s.cfg.Surface,
		Handoff:      s.cfg.Handoff,
		HandoffPaths: []string{"/new"},
		Logger:       s.logger,
	})).Get("/new", s.handleLanding)

	for segment, kind := range recordSegments {
		r.Route("/api/"+segment, func(api chi.Router) {
			api.Post("/", s.handleCreate(kind))
			api.Get("/{id}", s.handleGet(kind))
			api.Patch("/{id}", s.handlePatch(kind))
			api.Post("/{id}/verify", s.handleVerify(kind))
		})
	}

	r.Get("/api/tr/stats", s.handleStats)
	r.Post("/api/sms/inbound", s.handleSMSInbound)

	return r
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("surface")
	if raw == "" {
		s.writeError(w, r, trustroute.Validation(trustroute.CodeInvalidInput, "Missing surface param (e.g. ?surface=payments.chat)"))
		return
	}
	surface, err := trustroute.ParseSurface(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	snap, err := s.cfg.Stats.Snapshot(r.Context(), surface)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	trustroute.WriteJSON(w, http.StatusOK, snap)
}

// allow applies rule for identity on surface and writes the rejection when
// the request must stop.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, surface trustroute.Surface, rule trustroute.LimitRule, identity string) bool {
	if err := trustroute.CheckRateLimit(r.Context(), s.cfg.Limiter, surface, &rule, identity); err != nil {
		s.writeError(w, r, err)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	trustroute.WriteError(w, s.logger.With(
		zap.String("request_id", w.Header().Get(HeaderRequestID)),
		zap.String("path", r.URL.Path),
	), err)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return trustroute.Validation(trustroute.CodeInvalidInput, "Invalid JSON body")
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		s.logger.Debug("request served",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
