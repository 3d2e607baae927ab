// Package testutil provides an in-memory ledger used by service and handler tests
package testutil

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TestOperatorKey is a throwaway secp256k1 key for signing test transactions
const TestOperatorKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

// MinedGasUsed is the gasUsed reported on every fake receipt
const MinedGasUsed = 52_345

// RPCError is a JSON-RPC error as returned by go-ethereum's rpc client
type RPCError struct {
	Message string
	Code    int
	Data    interface{}
}

func (e *RPCError) Error() string          { return e.Message }
func (e *RPCError) ErrorCode() int         { return e.Code }
func (e *RPCError) ErrorData() interface{} { return e.Data }

// RevertError builds the error a node returns when a call reverts with Error(string)
func RevertError(reason string) *RPCError {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	data := append(crypto.Keccak256([]byte("Error(string)"))[:4], packed...)
	return &RPCError{
		Message: "execution reverted: " + reason,
		Code:    3,
		Data:    hexutil.Encode(data),
	}
}

// Chain is a single-account fake ledger. Sent transactions are recorded, and mined
// immediately when AutoMine is set.
type Chain struct {
	mu sync.Mutex

	ID          *big.Int
	Block       uint64
	GasPrice    *big.Int
	TipCap      *big.Int
	BaseFee     *big.Int
	Balance     *big.Int
	AutoMine    bool
	RevertMined bool

	// PendingNonce is what PendingNonceAt reports, MinedNonce what NonceAt reports.
	// Sends below MinedNonce fail with "nonce too low".
	PendingNonce uint64
	MinedNonce   uint64

	// SendErrors are returned by successive SendTransaction calls; a nil entry succeeds
	SendErrors []error
	// OnSend, if set, runs under the lock before each send is accepted
	OnSend func(tx *types.Transaction)

	CallResult []byte
	CallErr    error
	BlockErr   error
	ReceiptErr error

	Sent         []*types.Transaction
	Receipts     map[common.Hash]*types.Receipt
	PendingCalls int
	ReceiptCalls int
}

// NewChain creates a fake ledger for chain id 1337 at block 100
func NewChain() *Chain {
	return &Chain{
		ID:       big.NewInt(1337),
		Block:    100,
		GasPrice: big.NewInt(1_000_000_000),
		TipCap:   big.NewInt(100_000_000),
		BaseFee:  big.NewInt(2_000_000_000),
		Balance:  big.NewInt(5_000_000_000_000_000_000),
		Receipts: make(map[common.Hash]*types.Receipt),
	}
}

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.ID), nil
}

func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BlockErr != nil {
		return 0, c.BlockErr
	}
	return c.Block, nil
}

func (c *Chain) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(c.Block), BaseFee: c.BaseFee}, nil
}

func (c *Chain) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int).Set(c.Balance), nil
}

func (c *Chain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PendingCalls++
	return c.PendingNonce, nil
}

func (c *Chain) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.MinedNonce, nil
}

func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.GasPrice), nil
}

func (c *Chain) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.TipCap), nil
}

func (c *Chain) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallResult, c.CallErr
}

func (c *Chain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.SendErrors) > 0 {
		err := c.SendErrors[0]
		c.SendErrors = c.SendErrors[1:]
		if err != nil {
			return err
		}
	}
	if c.OnSend != nil {
		c.OnSend(tx)
	}
	if tx.Nonce() < c.MinedNonce {
		return errors.New("nonce too low: next nonce " + new(big.Int).SetUint64(c.MinedNonce).String())
	}

	c.Sent = append(c.Sent, tx)
	if tx.Nonce() >= c.PendingNonce {
		c.PendingNonce = tx.Nonce() + 1
	}
	if c.AutoMine {
		c.mineLocked(tx)
	}
	return nil
}

// Mine includes tx in a new block
func (c *Chain) Mine(tx *types.Transaction) *types.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mineLocked(tx)
}

func (c *Chain) mineLocked(tx *types.Transaction) *types.Receipt {
	c.Block++
	status := types.ReceiptStatusSuccessful
	if c.RevertMined {
		status = types.ReceiptStatusFailed
	}
	receipt := &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     MinedGasUsed,
		BlockNumber: new(big.Int).SetUint64(c.Block),
	}
	c.Receipts[tx.Hash()] = receipt
	if tx.Nonce() >= c.MinedNonce {
		c.MinedNonce = tx.Nonce() + 1
	}
	return receipt
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReceiptCalls++
	if c.ReceiptErr != nil {
		return nil, c.ReceiptErr
	}
	receipt, ok := c.Receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// SentTransactions returns a copy of every accepted transaction in send order
func (c *Chain) SentTransactions() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.Sent...)
}

// Set runs f under the chain lock
func (c *Chain) Set(f func(*Chain)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c)
}
