package services

import (
	"regexp"
	"strings"

	"go-relayer/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/tidwall/gjson"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	integerPattern = regexp.MustCompile(`^[0-9]+$`)
)

// relayFields lists the body fields of each operation in the order the vault expects them
var relayFields = map[types.Operation][]string{
	types.OperationDeposit:  {"user", "assets", "receiver", "nonce", "signature"},
	types.OperationWithdraw: {"user", "assets", "receiver", "owner", "nonce", "signature"},
	types.OperationMint:     {"user", "shares", "receiver", "nonce", "signature"},
	types.OperationRedeem:   {"user", "shares", "receiver", "owner", "nonce", "signature"},
}

// RelayFields returns the ordered body fields of an operation
func RelayFields(op types.Operation) []string {
	return append([]string(nil), relayFields[op]...)
}

// ValidateRelayRequest parses a raw JSON body into the typed request for op.
// Checks run in a fixed order: presence of every field, address format, nonce,
// amount, then signature encoding. The first failure is returned as a
// *types.ValidationError. No I/O happens here.
func ValidateRelayRequest(op types.Operation, body []byte) (types.RelayRequest, error) {
	fields, ok := relayFields[op]
	if !ok {
		return nil, &types.ValidationError{Field: "operation", Reason: "unsupported operation " + string(op)}
	}
	if !gjson.ValidBytes(body) {
		return nil, &types.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, &types.ValidationError{Field: "body", Reason: "expected a JSON object"}
	}
	// parsers disagree on which duplicate wins, so a body with one is refused outright
	if field, dup := duplicateKey(root); dup {
		return nil, &types.ValidationError{Field: field, Reason: "duplicate field"}
	}

	values := make(map[string]gjson.Result, len(fields))
	for _, field := range fields {
		v := root.Get(field)
		if isAbsent(v) {
			return nil, &types.ValidationError{Field: field, Reason: "missing required field"}
		}
		values[field] = v
	}

	addresses := make(map[string]common.Address, 3)
	for _, field := range []string{"user", "receiver", "owner"} {
		v, ok := values[field]
		if !ok {
			continue
		}
		addr, err := parseAddress(field, v)
		if err != nil {
			return nil, err
		}
		addresses[field] = addr
	}

	nonce, err := parseUint256("nonce", values["nonce"])
	if err != nil {
		return nil, err
	}

	amountField := "assets"
	if _, ok := values["shares"]; ok {
		amountField = "shares"
	}
	amount, err := parseUint256(amountField, values[amountField])
	if err != nil {
		return nil, err
	}

	signature, err := parseSignature(values["signature"])
	if err != nil {
		return nil, err
	}

	switch op {
	case types.OperationDeposit:
		return &types.DepositRequest{
			User:      addresses["user"],
			Assets:    amount,
			Receiver:  addresses["receiver"],
			Nonce:     nonce,
			Signature: signature,
		}, nil
	case types.OperationWithdraw:
		return &types.WithdrawRequest{
			User:      addresses["user"],
			Assets:    amount,
			Receiver:  addresses["receiver"],
			Owner:     addresses["owner"],
			Nonce:     nonce,
			Signature: signature,
		}, nil
	case types.OperationMint:
		return &types.MintRequest{
			User:      addresses["user"],
			Shares:    amount,
			Receiver:  addresses["receiver"],
			Nonce:     nonce,
			Signature: signature,
		}, nil
	default:
		return &types.RedeemRequest{
			User:      addresses["user"],
			Shares:    amount,
			Receiver:  addresses["receiver"],
			Owner:     addresses["owner"],
			Nonce:     nonce,
			Signature: signature,
		}, nil
	}
}

// IsHexAddress reports whether s is a 0x-prefixed 20-byte hex address.
// Mixed-case input must carry a valid EIP-55 checksum.
func IsHexAddress(s string) bool {
	if !addressPattern.MatchString(s) {
		return false
	}
	body := s[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}

func isAbsent(v gjson.Result) bool {
	if !v.Exists() || v.Type == gjson.Null {
		return true
	}
	return v.Type == gjson.String && strings.TrimSpace(v.Str) == ""
}

func parseAddress(field string, v gjson.Result) (common.Address, error) {
	if v.Type != gjson.String {
		return common.Address{}, &types.ValidationError{Field: field, Reason: "address must be a string"}
	}
	s := strings.TrimSpace(v.Str)
	if !IsHexAddress(s) {
		return common.Address{}, &types.ValidationError{Field: field, Reason: "not a valid 20-byte hex address"}
	}
	return common.HexToAddress(s), nil
}

// parseUint256 accepts a decimal string or a JSON integer literal. The raw literal is
// used for numbers so large values never pass through float64.
func parseUint256(field string, v gjson.Result) (*uint256.Int, error) {
	var literal string
	switch v.Type {
	case gjson.String:
		literal = strings.TrimSpace(v.Str)
	case gjson.Number:
		literal = v.Raw
	default:
		return nil, &types.ValidationError{Field: field, Reason: "must be a non-negative integer"}
	}
	if !integerPattern.MatchString(literal) {
		return nil, &types.ValidationError{Field: field, Reason: "must be a non-negative integer"}
	}
	n, err := uint256.FromDecimal(literal)
	if err != nil {
		return nil, &types.ValidationError{Field: field, Reason: "exceeds uint256 range"}
	}
	return n, nil
}

func parseSignature(v gjson.Result) ([]byte, error) {
	if v.Type != gjson.String {
		return nil, &types.ValidationError{Field: "signature", Reason: "must be a 0x-prefixed hex string"}
	}
	sig, err := hexutil.Decode(strings.TrimSpace(v.Str))
	if err != nil || len(sig) == 0 {
		return nil, &types.ValidationError{Field: "signature", Reason: "must be a 0x-prefixed hex string"}
	}
	return sig, nil
}

// duplicateKey returns the first top-level key that appears more than once
func duplicateKey(root gjson.Result) (string, bool) {
	seen := make(map[string]struct{})
	var (
		dup   string
		found bool
	)
	root.ForEach(func(key, _ gjson.Result) bool {
		k := key.String()
		if _, ok := seen[k]; ok {
			dup, found = k, true
			return false
		}
		seen[k] = struct{}{}
		return true
	})
	return dup, found
}
