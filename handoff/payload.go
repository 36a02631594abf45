package handoff

import (
	"time"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// Version is the only payload version this codec mints and accepts.
const Version = 1

// MinNonceLength is the shortest nonce a verifier accepts. Minted nonces
// are 16 random bytes, hex-encoded to 32 characters.
const MinNonceLength = 16

// Payload is the signed body of a handoff token.
type Payload struct {
	V         int                `json:"v"`
	Issuer    trustroute.Surface `json:"iss"`
	Audience  trustroute.Surface `json:"aud"`
	IssuedAt  int64              `json:"iat"`
	ExpiresAt int64              `json:"exp"`
	Nonce     string             `json:"nonce"`
	Intent    string             `json:"intent"`
	Fields    trustroute.Fields  `json:"fields"`
	Context   trustroute.Fields  `json:"context,omitempty"`
}

// Expiry returns the expiry as a time.Time.
func (p *Payload) Expiry() time.Time {
	return time.Unix(p.ExpiresAt, 0)
}

// HandoffContext converts the payload into the form placed in request
// contexts.
func (p *Payload) HandoffContext() *trustroute.HandoffContext {
	return &trustroute.HandoffContext{
		Issuer:    p.Issuer,
		Audience:  p.Audience,
		Intent:    p.Intent,
		Nonce:     p.Nonce,
		Fields:    p.Fields.Clone(),
		Context:   p.Context.Clone(),
		ExpiresAt: p.Expiry(),
	}
}

// MintRequest describes a token to mint.
type MintRequest struct {
	Issuer   trustroute.Surface
	Audience trustroute.Surface
	Intent   string
	Fields   trustroute.Fields
	Context  trustroute.Fields

	// TTL is clamped to [MinTTL, MaxTTL]. Zero means DefaultTTL.
	TTL time.Duration
}

// TTL bounds.
const (
	MinTTL     = 30 * time.Second
	MaxTTL     = 10 * time.Minute
	DefaultTTL = 120 * time.Second
)

// ClampTTL applies the default and bounds to a requested lifetime.
func ClampTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if ttl < MinTTL {
		return MinTTL
	}
	if ttl > MaxTTL {
		return MaxTTL
	}
	return ttl
}
