package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"go-relayer/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

const defaultReceiptPollInterval = 2 * time.Second

// BlockchainTransactionService builds operator transactions, waits for receipts and
// interprets node errors. It holds no nonce state; TransactionQueueService owns that.
type BlockchainTransactionService struct {
	chain         ChainClient
	chainID       *big.Int
	dynamicFee    bool
	fixedGasPrice *big.Int // nil means ask the node
	multiplier    int64    // percent

	pollInterval time.Duration
}

// NewBlockchainTransactionService creates the service for chainID using the relayer gas settings
func NewBlockchainTransactionService(chain ChainClient, chainID *big.Int, cfg config.RelayerConfig) (*BlockchainTransactionService, error) {
	b := &BlockchainTransactionService{
		chain:        chain,
		chainID:      new(big.Int).Set(chainID),
		dynamicFee:   cfg.TxType == "dynamic",
		multiplier:   int64(cfg.GasPriceMultiplier),
		pollInterval: defaultReceiptPollInterval,
	}
	if b.multiplier <= 0 {
		b.multiplier = config.DefaultGasPriceMultiplier
	}
	if cfg.GasPrice != "" && cfg.GasPrice != "auto" {
		price, ok := new(big.Int).SetString(cfg.GasPrice, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("invalid gas price %q", cfg.GasPrice)
		}
		b.fixedGasPrice = price
	}
	return b, nil
}

// SetReceiptPollInterval changes how often WaitForReceipt queries the node
func (b *BlockchainTransactionService) SetReceiptPollInterval(d time.Duration) {
	if d > 0 {
		b.pollInterval = d
	}
}

// ChainID returns the chain the service signs for
func (b *BlockchainTransactionService) ChainID() *big.Int {
	return new(big.Int).Set(b.chainID)
}

// BuildTransaction creates the unsigned operator transaction for job at the given operator nonce.
// The operator pays gas; value is always zero.
func (b *BlockchainTransactionService) BuildTransaction(ctx context.Context, job *SubmissionJob, nonce uint64) (*types.Transaction, error) {
	to := job.Target

	if b.dynamicFee {
		tipCap, feeCap, err := b.dynamicFees(ctx)
		if err != nil {
			return nil, err
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   b.chainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       job.GasLimit,
			To:        &to,
			Value:     big.NewInt(0),
			Data:      job.CallData,
		}), nil
	}

	gasPrice, err := b.legacyGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      job.GasLimit,
		GasPrice: gasPrice,
		Data:     job.CallData,
	}), nil
}

func (b *BlockchainTransactionService) legacyGasPrice(ctx context.Context) (*big.Int, error) {
	if b.fixedGasPrice != nil {
		return new(big.Int).Set(b.fixedGasPrice), nil
	}
	suggested, err := b.chain.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	return b.applyMultiplier(suggested), nil
}

func (b *BlockchainTransactionService) dynamicFees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := b.chain.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	tip = b.applyMultiplier(tip)

	head, err := b.chain.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if head.BaseFee == nil {
		return nil, nil, fmt.Errorf("chain has no base fee, use txType legacy")
	}

	// 2x base fee leaves room for several full blocks before the tx becomes unpriced
	feeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	if b.fixedGasPrice != nil {
		feeCap = new(big.Int).Set(b.fixedGasPrice)
		if tip.Cmp(feeCap) > 0 {
			tip = new(big.Int).Set(feeCap)
		}
	}
	return tip, feeCap, nil
}

func (b *BlockchainTransactionService) applyMultiplier(price *big.Int) *big.Int {
	out := new(big.Int).Mul(price, big.NewInt(b.multiplier))
	return out.Div(out, big.NewInt(100))
}

// WaitForReceipt polls for the receipt of txHash until it appears or ctx ends.
// Lookup errors other than not-found are logged and retried.
func (b *BlockchainTransactionService) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	pollCount := 0
	for {
		pollCount++
		receipt, err := b.chain.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			log.Printf("⚠️  [WaitForReceipt] Poll #%d error querying receipt for %s: %v", pollCount, txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("receipt not found after %d polls: %w", pollCount, ctx.Err())
		case <-ticker.C:
		}
	}
}

// RevertReason replays tx as a call at blockNumber and decodes the revert data.
// Returns an empty string when no reason can be recovered.
func (b *BlockchainTransactionService) RevertReason(ctx context.Context, from common.Address, tx *types.Transaction, blockNumber *big.Int) string {
	msg := ethereum.CallMsg{
		From: from,
		To:   tx.To(),
		Gas:  tx.Gas(),
		Data: tx.Data(),
	}
	_, err := b.chain.CallContract(ctx, msg, blockNumber)
	if err == nil {
		return ""
	}
	return RevertReasonFromError(err)
}

// RevertReasonFromError extracts a revert reason from a node error, preferring the
// ABI-encoded revert data when the node supplies it.
func RevertReasonFromError(err error) string {
	if err == nil {
		return ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if encoded, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(encoded); decodeErr == nil && len(data) > 0 {
				if reason, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					return reason
				}
				if len(data) >= 4 {
					return "custom error " + hexutil.Encode(data[:4])
				}
			}
		}
	}

	msg := err.Error()
	const marker = "execution reverted: "
	if idx := strings.Index(msg, marker); idx >= 0 {
		return strings.TrimSpace(msg[idx+len(marker):])
	}
	return ""
}

// ===== 发送错误分类 =====

type sendErrorKind int

const (
	sendOK sendErrorKind = iota
	sendAlreadyKnown
	sendNonceTooLow
	sendReverted
	sendRejected // node answered with a definitive error; the tx is not in its pool
	sendUnknown  // transport failure or timeout; the tx may have reached the pool
)

func classifySendError(err error) sendErrorKind {
	if err == nil {
		return sendOK
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already known"),
		strings.Contains(msg, "known transaction"),
		strings.Contains(msg, "already imported"):
		return sendAlreadyKnown
	case strings.Contains(msg, "nonce too low"):
		return sendNonceTooLow
	case strings.Contains(msg, "execution reverted"):
		return sendReverted
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return sendUnknown
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return sendRejected
	}
	return sendUnknown
}
