package services

import (
	"context"
	"fmt"
	"math/big"

	"go-relayer/internal/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// NonceService reads user replay nonces from the vault
type NonceService struct {
	chain ChainClient
	vault common.Address
}

// NewNonceService creates a nonce reader for vault
func NewNonceService(chain ChainClient, vault common.Address) *NonceService {
	return &NonceService{chain: chain, vault: vault}
}

// GetNonce returns the next nonce user must sign over. It is read-only and does not
// reserve the nonce; two concurrent readers see the same value.
func (s *NonceService) GetNonce(ctx context.Context, user common.Address) (*big.Int, error) {
	data, err := vaultABI.Pack("nonces", user)
	if err != nil {
		return nil, fmt.Errorf("failed to pack nonces call: %w", err)
	}

	out, err := s.chain.CallContract(ctx, ethereum.CallMsg{To: &s.vault, Data: data}, nil)
	if err != nil {
		return nil, &types.UpstreamUnavailableError{Op: "nonce query", Err: err}
	}

	values, err := vaultABI.Unpack("nonces", out)
	if err != nil {
		return nil, &types.UpstreamUnavailableError{Op: "nonce query", Err: fmt.Errorf("unexpected nonces() result: %w", err)}
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, &types.UpstreamUnavailableError{Op: "nonce query", Err: fmt.Errorf("unexpected nonces() result type %T", values[0])}
	}
	return nonce, nil
}
