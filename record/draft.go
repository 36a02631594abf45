package record

import (
	"strings"
	"time"
	"unicode/utf8"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// Draft is the caller-supplied content of a new intent record.
type Draft struct {
	Amount string `json:"amount"`
	Memo   string `json:"memo,omitempty"`

	CounterpartyInput   string `json:"counterpartyInput"`
	CounterpartyAddress string `json:"counterpartyAddress"`
	Label               string `json:"label,omitempty"`

	// Payment only.
	Context trustroute.Fields `json:"context,omitempty"`

	// Remittance only.
	Reference string `json:"reference,omitempty"`

	// Authorization only.
	Scope     string     `json:"scope,omitempty"`
	Limit     string     `json:"limit,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// DraftFromFields builds a draft from handoff or preview fields.
func DraftFromFields(fields, context trustroute.Fields) Draft {
	return Draft{
		Amount:              fields.Get(trustroute.FieldAmount),
		Memo:                fields.Get(trustroute.FieldMemo),
		CounterpartyInput:   fields.Get(trustroute.FieldPayeeInput),
		CounterpartyAddress: fields.Get(trustroute.FieldPayeeAddress),
		Label:               fields.Get(trustroute.FieldLabel),
		Context:             context.Clone(),
	}
}

// build validates d and returns a proposed record of the given kind.
func (d Draft) build(kind trustroute.RecordKind, id string, now time.Time) (*trustroute.IntentRecord, error) {
	input := strings.TrimSpace(d.CounterpartyInput)
	address := strings.TrimSpace(d.CounterpartyAddress)
	memo := strings.TrimSpace(d.Memo)

	if input == "" {
		return nil, trustroute.Validation(trustroute.CodeInvalidInput, "Missing counterparty input")
	}
	if !trustroute.IsAddress(address) {
		return nil, trustroute.Validation(trustroute.CodeInvalidAddress, "Invalid counterparty address")
	}
	amount, _, err := trustroute.ParseAmount(d.Amount)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(memo) > trustroute.MaxMemoLength {
		return nil, trustroute.Validation(trustroute.CodeMemoTooLong, "Memo too long")
	}

	rec := &trustroute.IntentRecord{
		ID:        id,
		Kind:      kind,
		CreatedAt: now,
		Status:    trustroute.StatusProposed,
		Network:   trustroute.NetworkBase,
		Asset:     trustroute.AssetUSDC,
		Amount:    amount,
		Counterparty: trustroute.Counterparty{
			Input:   input,
			Address: address,
			Label:   strings.TrimSpace(d.Label),
		},
		Memo: memo,
	}

	switch kind {
	case trustroute.KindPayment:
		rec.Payment = &trustroute.PaymentDetails{Context: d.Context.Clone()}
	case trustroute.KindRemittance:
		rec.Remittance = &trustroute.RemittanceDetails{Reference: strings.TrimSpace(d.Reference)}
	case trustroute.KindAuthorization:
		details, err := d.authorization(now)
		if err != nil {
			return nil, err
		}
		rec.Authorization = details
	default:
		return nil, trustroute.Validation(trustroute.CodeUnsupportedKind, "Unsupported record kind")
	}

	return rec, nil
}

func (d Draft) authorization(now time.Time) (*trustroute.AuthorizationDetails, error) {
	scope := strings.TrimSpace(d.Scope)
	if scope == "" {
		return nil, trustroute.Validation(trustroute.CodeInvalidInput, "Missing authorization scope")
	}

	details := &trustroute.AuthorizationDetails{Scope: scope}

	if limit := strings.TrimSpace(d.Limit); limit != "" {
		parsed, _, err := trustroute.ParseAmount(limit)
		if err != nil {
			return nil, err
		}
		details.Limit = parsed
	}

	if d.ExpiresAt != nil {
		if !d.ExpiresAt.After(now) {
			return nil, trustroute.Validation(trustroute.CodeInvalidInput, "Authorization expiry must be in the future")
		}
		exp := d.ExpiresAt.UTC()
		details.ExpiresAt = &exp
	}

	return details, nil
}
