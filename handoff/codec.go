// Package handoff mints and consumes the signed, single-use tokens that
// carry a user's in-progress intent from one surface to another.
//
// Wire form: base64url(JSON payload) "." base64url(HMAC-SHA256(secret,
// payload segment)), unpadded. Every surface shares the secret; the
// audience claim keeps a token minted for one surface from being consumed
// by another, and the replay lock in the shared store keeps it from being
// consumed twice.
package handoff

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/store"
)

var b64 = base64.RawURLEncoding

// Codec mints, verifies and consumes handoff tokens.
type Codec struct {
	secret []byte
	store  store.Store
	now    func() time.Time
	rand   io.Reader
	skew   time.Duration
	logger *zap.Logger
	stats  trustroute.StatsRecorder
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithRand overrides the nonce source.
func WithRand(r io.Reader) Option {
	return func(c *Codec) { c.rand = r }
}

// WithClockSkew tolerates verifier clocks running ahead of the minting
// surface. The default is zero.
func WithClockSkew(skew time.Duration) Option {
	return func(c *Codec) {
		if skew > 0 {
			c.skew = skew
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Codec) { c.logger = logger }
}

// WithStats records handoffsConsumed. Minting is pure and records nothing.
func WithStats(stats trustroute.StatsRecorder) Option {
	return func(c *Codec) { c.stats = stats }
}

// NewCodec creates a Codec. The secret must be non-empty after trimming;
// st holds the replay locks.
func NewCodec(secret string, st store.Store, opts ...Option) (*Codec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, trustroute.NewError(trustroute.KindInternal, trustroute.CodeInvalidConfig, "missing handoff secret", nil)
	}
	if st == nil {
		return nil, trustroute.NewError(trustroute.KindInternal, trustroute.CodeInvalidConfig, "handoff codec requires a store", nil)
	}

	c := &Codec{
		secret: []byte(secret),
		store:  st,
		now:    time.Now,
		rand:   rand.Reader,
		logger: zap.NewNop(),
		stats:  trustroute.NopStats{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Mint signs a new token for req.Audience. It never touches the store.
func (c *Codec) Mint(_ context.Context, req MintRequest) (string, error) {
	if !req.Issuer.Valid() {
		return "", ErrInvalidIssuer.WithMessage("Invalid handoff issuer %q", req.Issuer)
	}
	if !req.Audience.IsHandoffAudience() {
		return "", ErrInvalidAudience.WithMessage("Invalid handoff audience %q", req.Audience)
	}

	nonce := make([]byte, 16)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := c.now()
	payload := Payload{
		V:         Version,
		Issuer:    req.Issuer,
		Audience:  req.Audience,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ClampTTL(req.TTL)).Unix(),
		Nonce:     hex.EncodeToString(nonce),
		Intent:    req.Intent,
		Fields:    req.Fields.Clone(),
		Context:   req.Context.Clone(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode handoff payload: %w", err)
	}

	segment := b64.EncodeToString(body)
	token := segment + "." + b64.EncodeToString(c.sign(segment))

	c.logger.Debug("handoff minted",
		zap.Stringer("issuer", req.Issuer),
		zap.Stringer("audience", req.Audience),
		zap.String("intent", req.Intent),
	)

	return token, nil
}

// Verify checks a token for expectedAudience and consumes its nonce. The
// checks run in a fixed order (format, signature, payload, version,
// audience, expiry) and the replay lock is written only after all of them
// pass, so a rejected token never burns its nonce.
func (c *Codec) Verify(ctx context.Context, token string, expectedAudience trustroute.Surface) (*Payload, error) {
	payload, err := c.decode(token)
	if err != nil {
		return nil, err
	}

	if payload.Audience != expectedAudience {
		return nil, ErrWrongAudience
	}

	now := c.now()
	if now.Unix() > payload.ExpiresAt+int64(c.skew/time.Second) {
		return nil, ErrExpired
	}

	lockTTL := payload.Expiry().Add(c.skew).Sub(now)
	if lockTTL < time.Second {
		lockTTL = time.Second
	}

	ok, err := c.store.SetIfNotExists(ctx, ReplayKey(payload.Audience, payload.Nonce), "1", lockTTL)
	if err != nil {
		return nil, trustroute.NewError(trustroute.KindTransient, trustroute.CodeStoreUnavailable, "Store unavailable", err)
	}
	if !ok {
		c.logger.Warn("handoff replay rejected",
			zap.Stringer("audience", payload.Audience),
			zap.String("nonce", payload.Nonce),
		)
		return nil, ErrAlreadyUsed
	}

	return payload, nil
}

// Consume verifies and consumes a token and returns its claims. It
// implements trustroute.HandoffVerifier.
func (c *Codec) Consume(ctx context.Context, token string, audience trustroute.Surface) (*trustroute.HandoffContext, error) {
	payload, err := c.Verify(ctx, token, audience)
	if err != nil {
		return nil, err
	}
	c.stats.Record(ctx, audience, trustroute.StatHandoffsConsumed)
	return payload.HandoffContext(), nil
}

// Inspect checks the signature and decodes the payload without checking
// audience or expiry and without consuming the nonce.
func (c *Codec) Inspect(token string) (*Payload, error) {
	return c.decode(token)
}

func (c *Codec) decode(token string) (*Payload, error) {
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrMalformed
	}
	segment, sig := parts[0], parts[1]

	got, err := b64.DecodeString(sig)
	if err != nil || !hmac.Equal(got, c.sign(segment)) {
		return nil, ErrBadSignature
	}

	body, err := b64.DecodeString(segment)
	if err != nil {
		return nil, ErrBadPayload.WithCause(err)
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrBadPayload.WithCause(err)
	}
	if len(payload.Nonce) < MinNonceLength {
		return nil, ErrBadPayload.WithCause(errors.New("nonce too short"))
	}

	if payload.V != Version {
		return nil, ErrUnsupportedVersion
	}

	return &payload, nil
}

func (c *Codec) sign(segment string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(segment))
	return mac.Sum(nil)
}

// ReplayKey is the store key holding the single-use lock for a nonce.
func ReplayKey(audience trustroute.Surface, nonce string) string {
	return "handoff:" + audience.String() + ":" + nonce
}

var _ trustroute.HandoffVerifier = (*Codec)(nil)
