package evm

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// USDCBase is the USDC token contract on Base mainnet.
var USDCBase = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

// BaseChainID is the chain id of Base mainnet.
const BaseChainID = 8453

// erc20TransferABI declares the standard ERC-20 Transfer event.
const erc20TransferABI = `[{
	"type": "event",
	"name": "Transfer",
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	]
}]`

var (
	erc20ABI      abi.ABI
	transferEvent abi.Event
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(fmt.Sprintf("evm: invalid ERC-20 ABI: %v", err))
	}
	erc20ABI = parsed
	transferEvent = parsed.Events["Transfer"]
}

// TransferTopic is the keccak256 topic of Transfer(address,address,uint256).
func TransferTopic() common.Hash {
	return transferEvent.ID
}

// Transfer is a decoded ERC-20 Transfer event.
type Transfer struct {
	Token common.Address
	From  common.Address
	To    common.Address
	Value *big.Int
}

// Error codes.
const (
	CodeTxNotFound         = "TX_NOT_FOUND"
	CodeTxFailed           = "TX_FAILED"
	CodeNoMatchingTransfer = "NO_MATCHING_TRANSFER"
	CodeRPCUnavailable     = "RPC_UNAVAILABLE"
	CodeRecordUnverifiable = "RECORD_UNVERIFIABLE"
)

// Errors returned by Verifier.VerifySettlement.
var (
	// ErrTxNotFound means the node has no receipt yet. Retry later.
	ErrTxNotFound = trustroute.NewError(trustroute.KindTransient, CodeTxNotFound, "Transaction not found yet", nil)

	// ErrRPCUnavailable means the node could not be reached in time.
	ErrRPCUnavailable = trustroute.NewError(trustroute.KindTransient, CodeRPCUnavailable, "Chain RPC unavailable", nil)

	// ErrTxFailed means the transaction was mined but reverted.
	ErrTxFailed = trustroute.Validation(CodeTxFailed, "Transaction failed")

	// ErrNoMatchingTransfer means no USDC Transfer paid the counterparty
	// the exact amount.
	ErrNoMatchingTransfer = trustroute.Validation(CodeNoMatchingTransfer, "No matching USDC Transfer found for this record (to/amount mismatch)")

	// ErrInvalidTxHash means the claim is neither a hash nor an explorer URL.
	ErrInvalidTxHash = trustroute.Validation(trustroute.CodeInvalidProof, "Missing/invalid txHash")

	// ErrRecordUnverifiable means the record lacks a usable address or amount.
	ErrRecordUnverifiable = trustroute.Validation(CodeRecordUnverifiable, "Record cannot be verified on chain")
)
