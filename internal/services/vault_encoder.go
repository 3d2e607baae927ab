package services

import (
	"fmt"
	"strings"

	"go-relayer/internal/config"
	"go-relayer/internal/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// VaultABI covers the four signature-authorized entry points and the nonce view.
// Parameter order is fixed by the contract: user, amount, receiver, [owner], nonce, signature.
const VaultABI = `[
	{
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "assets", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "nonce", "type": "uint256"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "depositWithSig",
		"outputs": [{"name": "shares", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "assets", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "owner", "type": "address"},
			{"name": "nonce", "type": "uint256"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "withdrawWithSig",
		"outputs": [{"name": "shares", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "shares", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "nonce", "type": "uint256"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "mintWithSig",
		"outputs": [{"name": "assets", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "user", "type": "address"},
			{"name": "shares", "type": "uint256"},
			{"name": "receiver", "type": "address"},
			{"name": "owner", "type": "address"},
			{"name": "nonce", "type": "uint256"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "redeemWithSig",
		"outputs": [{"name": "assets", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var vaultABI = mustParseABI(VaultABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid vault ABI: %v", err))
	}
	return parsed
}

// VaultMethod returns the contract entry point an operation calls
func VaultMethod(op types.Operation) string {
	switch op {
	case types.OperationDeposit:
		return "depositWithSig"
	case types.OperationWithdraw:
		return "withdrawWithSig"
	case types.OperationMint:
		return "mintWithSig"
	case types.OperationRedeem:
		return "redeemWithSig"
	}
	return ""
}

// SubmissionJob is an encoded vault call waiting for the operator to sign and send it
type SubmissionJob struct {
	ID        string
	Operation types.Operation
	User      common.Address
	Target    common.Address
	CallData  []byte
	GasLimit  uint64
}

// VaultEncoder maps validated relay requests to vault call data
type VaultEncoder struct {
	vault     common.Address
	gasLimits config.RelayerConfig
}

// NewVaultEncoder creates an encoder targeting vault with the configured gas ceilings
func NewVaultEncoder(vault common.Address, relayerCfg config.RelayerConfig) *VaultEncoder {
	return &VaultEncoder{vault: vault, gasLimits: relayerCfg}
}

// Vault returns the target contract address
func (e *VaultEncoder) Vault() common.Address {
	return e.vault
}

// Encode packs req into a SubmissionJob. The gas limit is the fixed ceiling for the
// operation and does not depend on request content.
func (e *VaultEncoder) Encode(req types.RelayRequest) (*SubmissionJob, error) {
	callData, err := EncodeCallData(req)
	if err != nil {
		return nil, err
	}
	return &SubmissionJob{
		ID:        uuid.New().String(),
		Operation: req.Operation(),
		User:      req.Signer(),
		Target:    e.vault,
		CallData:  callData,
		GasLimit:  e.gasLimits.GasLimitFor(req.Operation()),
	}, nil
}

// EncodeCallData packs the vault call for req
func EncodeCallData(req types.RelayRequest) ([]byte, error) {
	method := VaultMethod(req.Operation())

	var args []interface{}
	switch r := req.(type) {
	case *types.DepositRequest:
		args = []interface{}{r.User, r.Assets.ToBig(), r.Receiver, r.Nonce.ToBig(), r.Signature}
	case *types.WithdrawRequest:
		args = []interface{}{r.User, r.Assets.ToBig(), r.Receiver, r.Owner, r.Nonce.ToBig(), r.Signature}
	case *types.MintRequest:
		args = []interface{}{r.User, r.Shares.ToBig(), r.Receiver, r.Nonce.ToBig(), r.Signature}
	case *types.RedeemRequest:
		args = []interface{}{r.User, r.Shares.ToBig(), r.Receiver, r.Owner, r.Nonce.ToBig(), r.Signature}
	default:
		return nil, fmt.Errorf("unsupported relay request type %T", req)
	}

	data, err := vaultABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return data, nil
}
