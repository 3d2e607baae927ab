package services

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"go-relayer/internal/clients"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ===== 签名策略（Strategy 模式）=====

// SigningStrategy produces a 65-byte [R || S || V] secp256k1 signature over a transaction signing hash
type SigningStrategy interface {
	Sign(ctx context.Context, hash []byte) ([]byte, error)
	Name() string
}

// PrivateKeySigningStrategy signs with an in-process key
type PrivateKeySigningStrategy struct {
	key *ecdsa.PrivateKey
}

func (s *PrivateKeySigningStrategy) Sign(_ context.Context, hash []byte) ([]byte, error) {
	return crypto.Sign(hash, s.key)
}

func (s *PrivateKeySigningStrategy) Name() string {
	return "PrivateKey"
}

// KMSSigningStrategy delegates to the remote KMS
type KMSSigningStrategy struct {
	client   *clients.KMSClient
	keyAlias string
	k1       string
	chainID  int64
}

func (s *KMSSigningStrategy) Sign(ctx context.Context, hash []byte) ([]byte, error) {
	resp, err := s.client.SignWithKMS(ctx, s.keyAlias, s.k1, hexutil.Encode(hash), s.chainID)
	if err != nil {
		return nil, err
	}
	sig, err := hexutil.Decode(ensureHexPrefix(resp.Signature))
	if err != nil {
		return nil, fmt.Errorf("invalid KMS signature encoding: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return nil, fmt.Errorf("invalid KMS signature length %d", len(sig))
	}
	// KMS may return V as 27/28
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	return sig, nil
}

func (s *KMSSigningStrategy) Name() string {
	return "KMS"
}

// ===== Operator signer =====

// OperatorSigner signs relay transactions as the operator account
type OperatorSigner struct {
	address  common.Address
	signer   types.Signer
	strategy SigningStrategy
}

// NewPrivateKeySigner builds an operator signer from a hex private key
func NewPrivateKeySigner(hexKey string, chainID *big.Int) (*OperatorSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid operator private key: %w", err)
	}
	return &OperatorSigner{
		address:  crypto.PubkeyToAddress(key.PublicKey),
		signer:   types.LatestSignerForChainID(chainID),
		strategy: &PrivateKeySigningStrategy{key: key},
	}, nil
}

// NewKMSSigner builds an operator signer whose key lives in the KMS
func NewKMSSigner(client *clients.KMSClient, keyAlias, k1 string, address common.Address, chainID *big.Int) *OperatorSigner {
	return &OperatorSigner{
		address: address,
		signer:  types.LatestSignerForChainID(chainID),
		strategy: &KMSSigningStrategy{
			client:   client,
			keyAlias: keyAlias,
			k1:       k1,
			chainID:  chainID.Int64(),
		},
	}
}

// Address returns the operator account
func (s *OperatorSigner) Address() common.Address {
	return s.address
}

// StrategyName returns the active signing strategy name
func (s *OperatorSigner) StrategyName() string {
	return s.strategy.Name()
}

// SignTx signs tx and checks the recovered sender is the operator
func (s *OperatorSigner) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	sigHash := s.signer.Hash(tx)

	signature, err := s.strategy.Sign(ctx, sigHash.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign with %s: %w", s.strategy.Name(), err)
	}

	signedTx, err := tx.WithSignature(s.signer, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to apply signature: %w", err)
	}

	sender, err := types.Sender(s.signer, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover sender: %w", err)
	}
	if sender != s.address {
		return nil, fmt.Errorf("signature recovers to %s, expected operator %s", sender.Hex(), s.address.Hex())
	}
	return signedTx, nil
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
