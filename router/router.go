// Package router classifies a free-text command typed into the hub into a
// routing preview: which surface should handle it and which fields were
// extracted. Classification never writes anything.
package router

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// Intent is the classified user intent.
type Intent string

// Intents.
const (
	IntentPay     Intent = "pay"
	IntentInvoice Intent = "invoice"
	IntentRefund  Intent = "refund"
	IntentUnknown Intent = "unknown"
)

// Parser identification carried in evidence.
const (
	ParsedBy     = "routeintelligence:v0.1"
	ParseVersion = "0.1"
)

// RoutePath is the path every route targets on its surface.
const RoutePath = "/new"

// Confidence levels.
const (
	confidencePay               = 0.92
	confidenceInvoice           = 0.85
	confidenceRefund            = 0.80
	confidenceUnknown           = 0.35
	confidenceInvoiceUnresolved = 0.55
	confidenceLow               = 0.25
)

// UsageHint is the warning attached to unknown commands.
const UsageHint = `Could not route. Try: "send $50 usdc to device.eth"`

// DefaultResolveTimeout bounds recipient resolution during classification.
const DefaultResolveTimeout = 5 * time.Second

var (
	payPattern        = regexp.MustCompile(`(?i)^(send|pay)\s+\$?(\d+(?:\.\d+)?)\s*(usdc)?\s+to\s+(\S+)(?:\s+(?:for|memo)\s+(.+))?$`)
	invoicePattern    = regexp.MustCompile(`(?i)^(invoice|create\s+invoice|make\s+invoice)\s+\$?(\d+(?:\.\d+)?)\s*(usdc)?(?:\s+to\s+(\S+))?(?:\s+(?:for|memo)\s+(.+))?$`)
	refundTxPattern   = regexp.MustCompile(`(?i)^(refund|request\s+refund)\s+(?:tx|transaction)\s+(0x[a-fA-F0-9]{64})(?:\s+(?:for|memo)\s+(.+))?$`)
	refundNamePattern = regexp.MustCompile(`(?i)^(refund|request\s+refund)(?:\s+for)?\s+(\S+)(?:\s+(?:for|memo)\s+(.+))?$`)
)

// Route names the surface that should handle an intent.
type Route struct {
	Key     string             `json:"key"`
	Surface trustroute.Surface `json:"surface"`
	Path    string             `json:"path"`
	Reason  string             `json:"reason"`
}

// Evidence records how a preview was derived.
type Evidence struct {
	ParsedBy     string            `json:"parsedBy"`
	ParseVersion string            `json:"parseVersion"`
	Timestamp    time.Time         `json:"timestamp"`
	Extracted    map[string]string `json:"extracted"`
}

// Preview is the result of classifying a command.
type Preview struct {
	OK         bool              `json:"ok"`
	Command    string            `json:"command"`
	Intent     Intent            `json:"intent"`
	Confidence float64           `json:"confidence"`
	Warnings   []string          `json:"warnings"`
	Route      Route             `json:"route"`
	Fields     trustroute.Fields `json:"fields"`
	Evidence   Evidence          `json:"evidence"`
}

// Router classifies hub commands.
type Router struct {
	resolver       trustroute.NameResolver
	now            func() time.Time
	logger         *zap.Logger
	resolveTimeout time.Duration
}

// Option configures a Router.
type Option func(*Router)

// WithClock overrides the evidence timestamp clock.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithResolveTimeout overrides DefaultResolveTimeout.
func WithResolveTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.resolveTimeout = d
		}
	}
}

// New creates a Router that resolves recipients with resolver.
func New(resolver trustroute.NameResolver, opts ...Option) *Router {
	r := &Router{
		resolver:       resolver,
		now:            time.Now,
		logger:         zap.NewNop(),
		resolveTimeout: DefaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify parses command with the pay, invoice and refund grammars, in
// that order, and falls back to an unknown intent routed to payments.
func (r *Router) Classify(ctx context.Context, command string) (*Preview, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, trustroute.Validation(trustroute.CodeInvalidInput, "Missing command")
	}

	p := &Preview{
		OK:       true,
		Command:  command,
		Warnings: []string{},
		Fields:   trustroute.Fields{trustroute.FieldNetwork: trustroute.NetworkBase},
		Evidence: Evidence{
			ParsedBy:     ParsedBy,
			ParseVersion: ParseVersion,
			Timestamp:    r.now().UTC(),
		},
	}

	switch {
	case r.classifyPay(ctx, p):
	case r.classifyInvoice(ctx, p):
	case r.classifyRefund(p):
	default:
		p.Intent = IntentUnknown
		p.Confidence = confidenceUnknown
		p.Warnings = append(p.Warnings, UsageHint)
		p.Route = route("payments", trustroute.SurfacePayments, "Default route (unknown intent) → payments")
		p.Evidence.Extracted = map[string]string{"parser": "none"}
	}

	r.logger.Debug("command classified",
		zap.String("intent", string(p.Intent)),
		zap.Float64("confidence", p.Confidence),
		zap.Stringer("surface", p.Route.Surface),
	)
	return p, nil
}

func (r *Router) classifyPay(ctx context.Context, p *Preview) bool {
	m := payPattern.FindStringSubmatch(p.Command)
	if m == nil {
		return false
	}
	amount, payeeInput, memo := m[2], m[4], strings.TrimSpace(m[5])

	p.Intent = IntentPay
	p.Confidence = confidencePay
	p.Route = route("payments", trustroute.SurfacePayments, "Recognized pay/send + amount + recipient → payments")
	p.Evidence.Extracted = extracted("pay", amount, payeeInput, memo)
	p.set(trustroute.FieldAsset, trustroute.AssetUSDC)
	p.set(trustroute.FieldAmount, amount)
	p.set(trustroute.FieldMemo, memo)
	p.set(trustroute.FieldPayeeInput, payeeInput)

	if !positive(amount) {
		p.Confidence = confidenceLow
		p.Warnings = append(p.Warnings, "Invalid amount.")
	}

	res := r.resolve(ctx, payeeInput)
	if !res.OK {
		p.Confidence = confidenceLow
		p.Warnings = append(p.Warnings, nonEmpty(res.Message, "Could not resolve recipient."))
		return true
	}
	p.set(trustroute.FieldPayeeAddress, res.Address)
	p.set(trustroute.FieldLabel, res.Label)
	return true
}

func (r *Router) classifyInvoice(ctx context.Context, p *Preview) bool {
	m := invoicePattern.FindStringSubmatch(p.Command)
	if m == nil {
		return false
	}
	amount, payeeInput, memo := m[2], strings.TrimSpace(m[4]), strings.TrimSpace(m[5])

	p.Intent = IntentInvoice
	p.Confidence = confidenceInvoice
	p.Route = route("invoice", trustroute.SurfaceInvoice, "Recognized invoice intent → invoice")
	p.Evidence.Extracted = extracted("invoice", amount, payeeInput, memo)
	p.set(trustroute.FieldAsset, trustroute.AssetUSDC)
	p.set(trustroute.FieldAmount, amount)
	p.set(trustroute.FieldMemo, memo)
	p.set(trustroute.FieldPayeeInput, payeeInput)

	if !positive(amount) {
		p.Confidence = confidenceLow
		p.Warnings = append(p.Warnings, "Invalid amount.")
	}

	if payeeInput == "" {
		return true
	}

	res := r.resolve(ctx, payeeInput)
	if !res.OK {
		p.Confidence = min(p.Confidence, confidenceInvoiceUnresolved)
		p.Warnings = append(p.Warnings, nonEmpty(res.Message, "Could not resolve invoice recipient (optional)."))
		return true
	}
	p.set(trustroute.FieldPayeeAddress, res.Address)
	p.set(trustroute.FieldLabel, res.Label)
	return true
}

func (r *Router) classifyRefund(p *Preview) bool {
	var tx, merchant, memo string
	if m := refundTxPattern.FindStringSubmatch(p.Command); m != nil {
		tx, memo = m[2], strings.TrimSpace(m[3])
	} else if m := refundNamePattern.FindStringSubmatch(p.Command); m != nil {
		merchant, memo = m[2], strings.TrimSpace(m[3])
	} else {
		return false
	}

	p.Intent = IntentRefund
	p.Confidence = confidenceRefund
	p.Route = route("refund", trustroute.SurfaceRefund, "Recognized refund intent → refund")
	p.set(trustroute.FieldTx, tx)
	p.set(trustroute.FieldMerchant, merchant)
	p.set(trustroute.FieldMemo, memo)

	p.Evidence.Extracted = map[string]string{"parser": "refund"}
	for k, v := range map[string]string{"tx": tx, "merchant": merchant, "memo": memo} {
		if v != "" {
			p.Evidence.Extracted[k] = v
		}
	}
	return true
}

// resolve never fails the classification: resolver errors and timeouts
// come back as an unresolved recipient.
func (r *Router) resolve(ctx context.Context, input string) trustroute.Resolution {
	if r.resolver == nil {
		return trustroute.Resolution{OK: false, Message: "Resolver unavailable."}
	}

	ctx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()

	res, err := r.resolver.Resolve(ctx, input)
	if err != nil {
		r.logger.Warn("recipient resolution failed", zap.String("input", input), zap.Error(err))
		return trustroute.Resolution{OK: false, Message: "Resolver error."}
	}
	return res
}

func (p *Preview) set(key, value string) {
	if value != "" {
		p.Fields[key] = value
	}
}

func route(key string, surface trustroute.Surface, reason string) Route {
	return Route{Key: key, Surface: surface, Path: RoutePath, Reason: reason}
}

func extracted(parser, amount, payeeInput, memo string) map[string]string {
	out := map[string]string{"parser": parser, "asset": trustroute.AssetUSDC, "amount": amount}
	if payeeInput != "" {
		out["payeeInput"] = payeeInput
	}
	if memo != "" {
		out["memo"] = memo
	}
	return out
}

func positive(amount string) bool {
	_, _, err := trustroute.ParseAmount(amount)
	return err == nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
