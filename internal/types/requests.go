// Package types provides common type definitions used across the relayer
package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Operation identifies one of the four vault entry points a relay request targets.
// It is taken from the route, never from the request body.
type Operation string

const (
	OperationDeposit  Operation = "deposit"
	OperationWithdraw Operation = "withdraw"
	OperationMint     Operation = "mint"
	OperationRedeem   Operation = "redeem"
)

// Operations returns all supported operations in route order
func Operations() []Operation {
	return []Operation{OperationDeposit, OperationWithdraw, OperationMint, OperationRedeem}
}

// ParseOperation maps a route segment to an Operation
func ParseOperation(s string) (Operation, bool) {
	op := Operation(s)
	switch op {
	case OperationDeposit, OperationWithdraw, OperationMint, OperationRedeem:
		return op, true
	}
	return "", false
}

// RelayRequest is the closed set of validated relay requests.
// Only the four request types in this package implement it.
type RelayRequest interface {
	Operation() Operation
	// Signer is the user whose off-chain signature authorizes the operation
	Signer() common.Address
	// UserNonce is the replay-protection nonce the user signed over
	UserNonce() *uint256.Int

	isRelayRequest()
}

// DepositRequest deposits assets on behalf of user, crediting shares to receiver
type DepositRequest struct {
	User      common.Address
	Assets    *uint256.Int
	Receiver  common.Address
	Nonce     *uint256.Int
	Signature []byte
}

// WithdrawRequest withdraws assets from owner's shares to receiver
type WithdrawRequest struct {
	User      common.Address
	Assets    *uint256.Int
	Receiver  common.Address
	Owner     common.Address
	Nonce     *uint256.Int
	Signature []byte
}

// MintRequest mints an exact amount of shares to receiver
type MintRequest struct {
	User      common.Address
	Shares    *uint256.Int
	Receiver  common.Address
	Nonce     *uint256.Int
	Signature []byte
}

// RedeemRequest burns owner's shares and sends the assets to receiver
type RedeemRequest struct {
	User      common.Address
	Shares    *uint256.Int
	Receiver  common.Address
	Owner     common.Address
	Nonce     *uint256.Int
	Signature []byte
}

func (r *DepositRequest) Operation() Operation  { return OperationDeposit }
func (r *WithdrawRequest) Operation() Operation { return OperationWithdraw }
func (r *MintRequest) Operation() Operation     { return OperationMint }
func (r *RedeemRequest) Operation() Operation   { return OperationRedeem }

func (r *DepositRequest) Signer() common.Address  { return r.User }
func (r *WithdrawRequest) Signer() common.Address { return r.User }
func (r *MintRequest) Signer() common.Address     { return r.User }
func (r *RedeemRequest) Signer() common.Address   { return r.User }

func (r *DepositRequest) UserNonce() *uint256.Int  { return r.Nonce }
func (r *WithdrawRequest) UserNonce() *uint256.Int { return r.Nonce }
func (r *MintRequest) UserNonce() *uint256.Int     { return r.Nonce }
func (r *RedeemRequest) UserNonce() *uint256.Int   { return r.Nonce }

func (*DepositRequest) isRelayRequest()  {}
func (*WithdrawRequest) isRelayRequest() {}
func (*MintRequest) isRelayRequest()     {}
func (*RedeemRequest) isRelayRequest()   {}

// RelayResult is the outcome of a confirmed relay. It is created once and never mutated.
type RelayResult struct {
	TransactionHash string `json:"transactionHash"`
	GasUsed         uint64 `json:"gasUsed,string"`
	BlockNumber     uint64 `json:"blockNumber"`
}
