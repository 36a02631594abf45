// Package evm reconciles claimed USDC settlements against Base chain
// receipts.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	trustroute "github.com/dhays4sports/usdc-bot"
	"github.com/dhays4sports/usdc-bot/proof"
)

// DefaultTimeout bounds a single receipt lookup.
const DefaultTimeout = 10 * time.Second

// ReceiptFetcher fetches transaction receipts. *ethclient.Client
// satisfies it.
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Verifier implements trustroute.SettlementVerifier for ERC-20 transfers
// of a single token.
type Verifier struct {
	fetcher ReceiptFetcher
	token   common.Address
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithToken overrides the token contract (default USDCBase).
func WithToken(token common.Address) Option {
	return func(v *Verifier) { v.token = token }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier creates a Verifier reading receipts from fetcher.
func NewVerifier(fetcher ReceiptFetcher, opts ...Option) *Verifier {
	v := &Verifier{
		fetcher: fetcher,
		token:   USDCBase,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Dial connects to a chain RPC endpoint and returns a Verifier using it.
// The returned client should be closed by the caller.
func Dial(ctx context.Context, rpcURL string, opts ...Option) (*Verifier, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial chain rpc: %w", err)
	}
	return NewVerifier(client, opts...), client, nil
}

// ParseToken validates a token contract address.
func ParseToken(s string) (common.Address, error) {
	if !common.IsHexAddress(s) || !trustroute.IsAddress(s) {
		return common.Address{}, fmt.Errorf("invalid token address %q", s)
	}
	return common.HexToAddress(s), nil
}

// VerifySettlement succeeds when the claimed transaction succeeded and
// emitted a Transfer of the token to the record's counterparty for exactly
// the record's amount. It returns the canonical transaction hash.
func (v *Verifier) VerifySettlement(ctx context.Context, rec *trustroute.IntentRecord, claimedTx string) (string, error) {
	raw, ok := proof.NormalizeTxHash(claimedTx)
	if !ok {
		return "", ErrInvalidTxHash
	}
	hash := common.HexToHash(raw)

	if !trustroute.IsAddress(rec.Counterparty.Address) {
		return "", ErrRecordUnverifiable.WithMessage("Record is missing a counterparty address")
	}
	to := common.HexToAddress(rec.Counterparty.Address)

	expected, err := trustroute.ToBaseUnits(rec.Amount, trustroute.USDCDecimals)
	if err != nil {
		return "", ErrRecordUnverifiable.WithMessage("Record has an invalid amount").WithCause(err)
	}

	receipt, err := v.receipt(ctx, hash)
	if err != nil {
		return "", err
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", ErrTxFailed
	}

	transfers := v.Transfers(receipt)
	for _, t := range transfers {
		if t.To == to && t.Value.Cmp(expected) == 0 {
			v.logger.Info("settlement verified",
				zap.String("tx_hash", hash.Hex()),
				zap.String("id", rec.ID),
				zap.String("to", to.Hex()),
				zap.String("value", expected.String()),
			)
			return hash.Hex(), nil
		}
	}

	v.logger.Info("no matching transfer",
		zap.String("tx_hash", hash.Hex()),
		zap.String("id", rec.ID),
		zap.Int("transfers", len(transfers)),
	)
	return "", ErrNoMatchingTransfer
}

func (v *Verifier) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	receipt, err := v.fetcher.TransactionReceipt(ctx, hash)
	switch {
	case errors.Is(err, ethereum.NotFound):
		return nil, ErrTxNotFound
	case err != nil:
		v.logger.Warn("receipt lookup failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		return nil, ErrRPCUnavailable.WithCause(err)
	case receipt == nil:
		return nil, ErrTxNotFound
	}
	return receipt, nil
}

// Transfers decodes the Transfer events emitted by the verifier's token in
// receipt. Logs from other contracts, removed logs and undecodable logs
// are skipped.
func (v *Verifier) Transfers(receipt *types.Receipt) []Transfer {
	var out []Transfer
	for _, log := range receipt.Logs {
		if log == nil || log.Removed || log.Address != v.token {
			continue
		}
		t, err := DecodeTransfer(log)
		if err != nil {
			continue
		}
		out = append(out, *t)
	}
	return out
}

// DecodeTransfer decodes an ERC-20 Transfer log.
func DecodeTransfer(log *types.Log) (*Transfer, error) {
	if len(log.Topics) != 3 || log.Topics[0] != transferEvent.ID {
		return nil, fmt.Errorf("log is not an ERC-20 Transfer")
	}

	var decoded struct {
		From  common.Address
		To    common.Address
		Value *big.Int
	}
	if err := erc20ABI.UnpackIntoInterface(&decoded, "Transfer", log.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack transfer value: %w", err)
	}

	var indexed abi.Arguments
	for _, arg := range transferEvent.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopics(&decoded, indexed, log.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse transfer topics: %w", err)
	}

	return &Transfer{
		Token: log.Address,
		From:  decoded.From,
		To:    decoded.To,
		Value: decoded.Value,
	}, nil
}

var _ trustroute.SettlementVerifier = (*Verifier)(nil)
