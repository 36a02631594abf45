// Package record implements the intent record lifecycle shared by
// payments, remittances and authorizations:
//
//	proposed -> linked -> settled
//	proposed | linked -> revoked   (authorizations only)
//
// Records are JSON documents under "{kindPrefix}:{id}" in the store and are
// never deleted. Updates are read-modify-write; concurrent proof links are
// last-write-wins.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/proof"
	"github.com/dhays4sports/usdc-bot/store"
)

// Service manages intent records.
type Service struct {
	store    store.Store
	verifier trustroute.SettlementVerifier
	stats    trustroute.StatsRecorder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithVerifier sets the settlement verifier used by AutoLink.
func WithVerifier(v trustroute.SettlementVerifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithStats sets the stats recorder.
func WithStats(stats trustroute.StatsRecorder) Option {
	return func(s *Service) { s.stats = stats }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// New creates a Service backed by st.
func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		stats:  trustroute.NopStats{},
		logger: zap.NewNop(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the store key of a record.
func Key(kind trustroute.RecordKind, id string) string {
	return kind.KeyPrefix() + ":" + id
}

// Create validates draft and persists a new proposed record.
func (s *Service) Create(ctx context.Context, kind trustroute.RecordKind, draft Draft) (*trustroute.IntentRecord, error) {
	rec, err := draft.build(kind, s.newID(), s.now().UTC())
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("intent created",
		zap.String("kind", string(kind)),
		zap.String("id", rec.ID),
	)
	s.stats.Record(ctx, kind.Surface(), trustroute.StatIntentsCreated)

	return rec, nil
}

// Get loads a record.
func (s *Service) Get(ctx context.Context, kind trustroute.RecordKind, id string) (*trustroute.IntentRecord, error) {
	if id == "" {
		return nil, trustroute.ErrNotFound
	}

	raw, err := s.store.Get(ctx, Key(kind, id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, trustroute.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", Key(kind, id), err)
	}

	var rec trustroute.IntentRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", Key(kind, id), err)
	}
	return &rec, nil
}

// LinkProof attaches or replaces the settlement proof. Replacing is
// last-write-wins. Revoked and settled records reject the change.
func (s *Service) LinkProof(ctx context.Context, kind trustroute.RecordKind, id string, p *trustroute.SettlementProof) (*trustroute.IntentRecord, error) {
	// Re-normalize so a hand-built proof cannot bypass validation.
	p = proof.Normalize(p)
	if p == nil {
		return nil, trustroute.Validation(trustroute.CodeInvalidProof, "Invalid settlement")
	}

	rec, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case trustroute.StatusRevoked:
		return nil, trustroute.ErrConflict.WithMessage("Record is revoked")
	case trustroute.StatusSettled:
		return nil, trustroute.ErrConflict.WithMessage("Record is already settled")
	}

	prev := rec.Status
	if err := s.link(ctx, rec, p); err != nil {
		return nil, err
	}

	if prev == trustroute.StatusProposed {
		s.stats.Record(ctx, kind.Surface(), trustroute.StatProofsLinked)
	}
	return rec, nil
}

// AutoLinkResult is the outcome of AutoLink.
type AutoLinkResult struct {
	Record *trustroute.IntentRecord `json:"-"`

	// AlreadyLinked is true when the record was already linked or settled;
	// the chain was not consulted.
	AlreadyLinked bool   `json:"alreadyLinked,omitempty"`
	Linked        bool   `json:"linked,omitempty"`
	TxHash        string `json:"txHash,omitempty"`
}

// AutoLink verifies claimedTx on chain against the record's counterparty
// and amount and links it as a tx_hash proof. It is idempotent: a record
// that is already linked or settled is returned unchanged. claimedTx is
// validated first, whatever the record's status.
func (s *Service) AutoLink(ctx context.Context, kind trustroute.RecordKind, id, claimedTx string) (*AutoLinkResult, error) {
	hash, ok := proof.NormalizeTxHash(claimedTx)
	if !ok {
		return nil, trustroute.Validation(trustroute.CodeInvalidProof, "Missing/invalid txHash")
	}

	rec, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case trustroute.StatusRevoked:
		return nil, trustroute.ErrConflict.WithMessage("Record is revoked")
	case trustroute.StatusLinked, trustroute.StatusSettled:
		return &AutoLinkResult{Record: rec, AlreadyLinked: true}, nil
	}

	if s.verifier == nil {
		return nil, trustroute.NewError(trustroute.KindInternal, trustroute.CodeInvalidConfig, "settlement verifier not configured", nil)
	}

	verified, err := s.verifier.VerifySettlement(ctx, rec, hash)
	if err != nil {
		s.logger.Info("auto-link rejected",
			zap.String("kind", string(kind)),
			zap.String("id", id),
			zap.String("tx_hash", hash),
			zap.Error(err),
		)
		return nil, err
	}

	if err := s.link(ctx, rec, &trustroute.SettlementProof{Type: trustroute.ProofTypeTxHash, Value: verified}); err != nil {
		return nil, err
	}

	s.stats.Record(ctx, kind.Surface(), trustroute.StatProofsLinked)
	s.stats.Record(ctx, kind.Surface(), trustroute.StatProofsAutoLinked)

	return &AutoLinkResult{Record: rec, Linked: true, TxHash: verified}, nil
}

// Revoke withdraws an authorization. Other kinds cannot be revoked.
func (s *Service) Revoke(ctx context.Context, kind trustroute.RecordKind, id string) (*trustroute.IntentRecord, error) {
	if kind != trustroute.KindAuthorization {
		return nil, trustroute.Validation(trustroute.CodeUnsupportedKind, "Only authorizations can be revoked")
	}

	rec, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	switch rec.Status {
	case trustroute.StatusProposed, trustroute.StatusLinked:
	default:
		return nil, trustroute.ErrConflict.WithMessage("Record is already %s", rec.Status)
	}

	rec.Status = trustroute.StatusRevoked
	if err := s.touch(ctx, rec); err != nil {
		return nil, err
	}

	s.stats.Record(ctx, kind.Surface(), trustroute.StatIntentsRevoked)
	return rec, nil
}

// MarkSettled moves a linked record to settled.
func (s *Service) MarkSettled(ctx context.Context, kind trustroute.RecordKind, id string) (*trustroute.IntentRecord, error) {
	rec, err := s.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}

	if rec.Status != trustroute.StatusLinked {
		return nil, trustroute.ErrConflict.WithMessage("Only linked records can be settled (status %s)", rec.Status)
	}

	rec.Status = trustroute.StatusSettled
	if err := s.touch(ctx, rec); err != nil {
		return nil, err
	}

	s.stats.Record(ctx, kind.Surface(), trustroute.StatIntentsSettled)
	return rec, nil
}

func (s *Service) link(ctx context.Context, rec *trustroute.IntentRecord, p *trustroute.SettlementProof) error {
	rec.Proof = p
	rec.Status = trustroute.StatusLinked
	if err := s.touch(ctx, rec); err != nil {
		return err
	}
	s.logger.Info("proof linked",
		zap.String("kind", string(rec.Kind)),
		zap.String("id", rec.ID),
		zap.String("proof_type", string(p.Type)),
	)
	return nil
}

func (s *Service) touch(ctx context.Context, rec *trustroute.IntentRecord) error {
	now := s.now().UTC()
	rec.UpdatedAt = &now
	return s.save(ctx, rec)
}

func (s *Service) save(ctx context.Context, rec *trustroute.IntentRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.store.Set(ctx, Key(rec.Kind, rec.ID), string(data)); err != nil {
		return fmt.Errorf("failed to save %s: %w", Key(rec.Kind, rec.ID), err)
	}
	return nil
}
