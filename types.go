package trustroute

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Surface identifies an independently deployed web origin that takes part
// in the handoff protocol. Values outside the known set are rejected by
// ParseSurface, so code past the boundary can compare Surfaces directly.
type Surface string

// Known surfaces.
const (
	SurfaceHub       Surface = "hub.chat"
	SurfacePayments  Surface = "payments.chat"
	SurfaceInvoice   Surface = "invoice.chat"
	SurfaceRefund    Surface = "refund.chat"
	SurfaceRemit     Surface = "remit.usdc.bot"
	SurfaceAuthorize Surface = "authorize.usdc.bot"
	SurfaceEscrow    Surface = "usdc.bot"
	SurfaceSMS       Surface = "sms.hub.chat"
)

// surfaceShortNames maps each known surface to the short name used in
// rate-limit keys.
var surfaceShortNames = map[Surface]string{
	SurfaceHub:       "hub",
	SurfacePayments:  "payments",
	SurfaceInvoice:   "invoice",
	SurfaceRefund:    "refund",
	SurfaceRemit:     "remit",
	SurfaceAuthorize: "authorize",
	SurfaceEscrow:    "escrow",
	SurfaceSMS:       "sms",
}

// ParseSurface validates a surface identity. Matching is case-insensitive
// and ignores surrounding whitespace.
func ParseSurface(s string) (Surface, error) {
	surface := Surface(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := surfaceShortNames[surface]; !ok {
		return "", NewError(KindValidation, CodeUnknownSurface, fmt.Sprintf("unknown surface %q", s), nil)
	}
	return surface, nil
}

// Valid reports whether s is one of the known surfaces.
func (s Surface) Valid() bool {
	_, ok := surfaceShortNames[s]
	return ok
}

// Short returns the short name used in rate-limit keys ("payments" for
// payments.chat).
func (s Surface) Short() string {
	if short, ok := surfaceShortNames[s]; ok {
		return short
	}
	return "unknown"
}

// IsHandoffAudience reports whether tokens may be minted for s. The hub and
// its SMS gateway only ever issue tokens.
func (s Surface) IsHandoffAudience() bool {
	return s.Valid() && s != SurfaceHub && s != SurfaceSMS
}

func (s Surface) String() string { return string(s) }

// Action names the operation a rate-limit bucket or stats event belongs to.
type Action string

// Known actions.
const (
	ActionCreate       Action = "create"
	ActionPreview      Action = "preview"
	ActionCommit       Action = "commit"
	ActionAccept       Action = "accept"
	ActionLinkProof    Action = "link_proof"
	ActionReplaceProof Action = "replace_proof"
	ActionRevoke       Action = "revoke"
	ActionInbound      Action = "inbound"
	ActionHandoff      Action = "handoff"
	ActionSettle       Action = "settle"
)

// Fields is the flat string map carried in handoff tokens and previews.
type Fields map[string]string

// Get returns the trimmed value for key, or "" when absent.
func (f Fields) Get(key string) string {
	if f == nil {
		return ""
	}
	return strings.TrimSpace(f[key])
}

// Clone returns a copy of f with empty values dropped.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Well-known field names shared by the router, the codec and record creation.
const (
	FieldNetwork      = "network"
	FieldAsset        = "asset"
	FieldAmount       = "amount"
	FieldMemo         = "memo"
	FieldPayeeInput   = "payeeInput"
	FieldPayeeAddress = "payeeAddress"
	FieldLabel        = "label"
	FieldMerchant     = "merchant"
	FieldTx           = "tx"
)

// Network and asset are fixed for every record.
const (
	NetworkBase = "base"
	AssetUSDC   = "USDC"

	// USDCDecimals is the number of decimals of the USDC token.
	USDCDecimals = 6

	// MaxMemoLength bounds record memos.
	MaxMemoLength = 180
)

// HandoffContext is the verified handoff payload placed in request contexts
// by HandoffMiddleware and the gRPC interceptors.
type HandoffContext struct {
	Issuer    Surface
	Audience  Surface
	Intent    string
	Nonce     string
	Fields    Fields
	Context   Fields
	ExpiresAt time.Time
}

// RecordKind discriminates the intent record sum type.
type RecordKind string

// Record kinds.
const (
	KindPayment       RecordKind = "payment"
	KindRemittance    RecordKind = "remittance"
	KindAuthorization RecordKind = "authorization"
)

// ParseRecordKind accepts the kind names and the URL segments used by the
// HTTP surface ("payments", "remit", "authorize").
func ParseRecordKind(s string) (RecordKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "payment", "payments":
		return KindPayment, nil
	case "remittance", "remit":
		return KindRemittance, nil
	case "authorization", "authorize":
		return KindAuthorization, nil
	}
	return "", NewError(KindValidation, CodeInvalidInput, fmt.Sprintf("unknown record kind %q", s), nil)
}

// KeyPrefix returns the store key namespace for records of this kind.
func (k RecordKind) KeyPrefix() string {
	switch k {
	case KindPayment:
		return "payment"
	case KindRemittance:
		return "remit"
	case KindAuthorization:
		return "authorize"
	}
	return string(k)
}

// Surface returns the surface that owns records of this kind.
func (k RecordKind) Surface() Surface {
	switch k {
	case KindRemittance:
		return SurfaceRemit
	case KindAuthorization:
		return SurfaceAuthorize
	}
	return SurfacePayments
}

// Status is the lifecycle state of an intent record.
type Status string

// Record statuses.
const (
	StatusProposed Status = "proposed"
	StatusLinked   Status = "linked"
	StatusSettled  Status = "settled"
	StatusRevoked  Status = "revoked"
)

// ProofType tags a SettlementProof.
type ProofType string

// Proof types. ProofTypeLegacyBasescan is accepted on input only and is
// normalized to ProofTypeTxHash.
const (
	ProofTypeTxHash         ProofType = "tx_hash"
	ProofTypeReceipt        ProofType = "usdc_bot_receipt"
	ProofTypeLegacyBasescan ProofType = "basescan_tx"
)

// SettlementProof is evidence that a record's action was carried out.
// Construct it through the proof package; never build one by hand from
// request input.
type SettlementProof struct {
	Type  ProofType `json:"type"`
	Value string    `json:"value"`
}

// Counterparty is the recipient (payments, remittances) or spender
// (authorizations) of an intent record.
type Counterparty struct {
	Input   string `json:"input"`
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// PaymentDetails holds payment-only fields.
type PaymentDetails struct {
	Context Fields `json:"context,omitempty"`
}

// RemittanceDetails holds remittance-only fields.
type RemittanceDetails struct {
	Reference string `json:"reference,omitempty"`
}

// AuthorizationDetails holds authorization-only fields.
type AuthorizationDetails struct {
	Scope     string     `json:"scope"`
	Limit     string     `json:"limit,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// IntentRecord is the persisted representation of a proposed financial
// action and its settlement status. Exactly one of Payment, Remittance and
// Authorization is set, matching Kind.
type IntentRecord struct {
	ID           string           `json:"id"`
	Kind         RecordKind       `json:"kind"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    *time.Time       `json:"updatedAt,omitempty"`
	Status       Status           `json:"status"`
	Network      string           `json:"network"`
	Asset        string           `json:"asset"`
	Amount       string           `json:"amount"`
	Counterparty Counterparty     `json:"counterparty"`
	Memo         string           `json:"memo,omitempty"`
	Proof        *SettlementProof `json:"settlementProof,omitempty"`

	Payment       *PaymentDetails       `json:"payment,omitempty"`
	Remittance    *RemittanceDetails    `json:"remittance,omitempty"`
	Authorization *AuthorizationDetails `json:"authorization,omitempty"`
}

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsAddress reports whether s is a 0x-prefixed 20-byte hex address.
func IsAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// RateLimitDecision is the outcome of a rate-limit check.
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter is the interface the middleware uses to count requests.
type RateLimiter interface {
	Allow(ctx context.Context, surface Surface, action Action, identity string, limit int64, window time.Duration) (RateLimitDecision, error)
}

// HandoffVerifier consumes a handoff token addressed to audience.
type HandoffVerifier interface {
	Consume(ctx context.Context, token string, audience Surface) (*HandoffContext, error)
}

// SettlementVerifier reconciles a claimed transaction against a record's
// counterparty and amount. It returns the normalized transaction hash on
// success.
type SettlementVerifier interface {
	VerifySettlement(ctx context.Context, record *IntentRecord, claimedTx string) (string, error)
}

// Resolution is the result of resolving a recipient name.
type Resolution struct {
	OK      bool   `json:"ok"`
	Address string `json:"address,omitempty"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message,omitempty"`
}

// NameResolver turns a user-typed recipient (address or name) into an
// address. An unresolvable name is reported through Resolution.OK, not as
// an error; errors mean the resolver itself failed.
type NameResolver interface {
	Resolve(ctx context.Context, input string) (Resolution, error)
}

type contextKey string

const (
	// HandoffContextKey is the key used to store the verified handoff in
	// request contexts.
	HandoffContextKey contextKey = "trustroute-handoff"
)

// StatEvent names an integer field of a surface's stats hash.
type StatEvent string

// Stats events.
const (
	StatIntentsCreated   StatEvent = "intentsCreated"
	StatProofsLinked     StatEvent = "proofsLinked"
	StatProofsAutoLinked StatEvent = "proofsAutoLinked"
	StatIntentsSettled   StatEvent = "intentsSettled"
	StatIntentsRevoked   StatEvent = "intentsRevoked"
	StatHandoffsConsumed StatEvent = "handoffsConsumed"
)

// StatsRecorder records activity counters. Recording is best-effort:
// implementations log failures and never report them to the caller.
type StatsRecorder interface {
	Record(ctx context.Context, surface Surface, event StatEvent)
}

// NopStats discards every event.
type NopStats struct{}

// Record implements StatsRecorder.
func (NopStats) Record(context.Context, Surface, StatEvent) {}
