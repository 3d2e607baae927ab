package services

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the subset of the ledger RPC the relayer uses. *ethclient.Client satisfies it.
type ChainClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ ChainClient = (*ethclient.Client)(nil)

// DialChainClient connects to the first endpoint that answers eth_chainId.
// When expectedChainID is non-zero, endpoints reporting another chain are skipped.
func DialChainClient(ctx context.Context, endpoints []string, expectedChainID int64) (*ethclient.Client, *big.Int, error) {
	var lastErr error
	for _, endpoint := range endpoints {
		client, err := ethclient.DialContext(ctx, endpoint)
		if err != nil {
			log.Printf("⚠️ Failed to dial RPC endpoint %s: %v", endpoint, err)
			lastErr = err
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		chainID, err := client.ChainID(checkCtx)
		cancel()
		if err != nil {
			log.Printf("⚠️ RPC endpoint %s did not answer eth_chainId: %v", endpoint, err)
			client.Close()
			lastErr = err
			continue
		}
		if expectedChainID != 0 && chainID.Int64() != expectedChainID {
			log.Printf("⚠️ RPC endpoint %s reports chain %s, expected %d", endpoint, chainID, expectedChainID)
			client.Close()
			lastErr = fmt.Errorf("chain id mismatch: got %s, expected %d", chainID, expectedChainID)
			continue
		}

		log.Printf("✅ Connected to RPC endpoint %s (chainID=%s)", endpoint, chainID)
		return client, chainID, nil
	}
	return nil, nil, fmt.Errorf("no usable RPC endpoint out of %d: %w", len(endpoints), lastErr)
}
