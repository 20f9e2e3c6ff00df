package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// VerifyingContract is the book's custody address so signatures for one book
// cannot be replayed against another.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain returns the local development domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "Stoxbook",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

// TypedMessage is a request a trader signs in their wallet.
type TypedMessage interface {
	PrimaryType() string
	Fields() []apitypes.Type
	Message() apitypes.TypedDataMessage
	Signer() common.Address
}

// PlaceOrderEIP712 is a signed limit order. Price and quantity are 18-decimal
// base units.
type PlaceOrderEIP712 struct {
	Side     uint8 // 1 = buy, 2 = sell
	Price    *big.Int
	Quantity *big.Int
	Nonce    *big.Int
	Trader   common.Address
}

func (PlaceOrderEIP712) PrimaryType() string { return "PlaceOrder" }

func (PlaceOrderEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "side", Type: "uint8"},
		{Name: "price", Type: "uint256"},
		{Name: "quantity", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "trader", Type: "address"},
	}
}

func (o PlaceOrderEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"side":     fmt.Sprintf("%d", o.Side),
		"price":    o.Price.String(),
		"quantity": o.Quantity.String(),
		"nonce":    o.Nonce.String(),
		"trader":   o.Trader.Hex(),
	}
}

func (o PlaceOrderEIP712) Signer() common.Address { return o.Trader }

// CancelEIP712 cancels the trader's resting order on one side.
type CancelEIP712 struct {
	Side   uint8
	Nonce  *big.Int
	Trader common.Address
}

func (CancelEIP712) PrimaryType() string { return "CancelOrder" }

func (CancelEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "side", Type: "uint8"},
		{Name: "nonce", Type: "uint256"},
		{Name: "trader", Type: "address"},
	}
}

func (c CancelEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"side":   fmt.Sprintf("%d", c.Side),
		"nonce":  c.Nonce.String(),
		"trader": c.Trader.Hex(),
	}
}

func (c CancelEIP712) Signer() common.Address { return c.Trader }

// WithdrawEIP712 withdraws escrow. Asset 0 means both assets.
type WithdrawEIP712 struct {
	Asset  uint8 // 1 = cash, 2 = security
	Nonce  *big.Int
	Trader common.Address
}

func (WithdrawEIP712) PrimaryType() string { return "Withdraw" }

func (WithdrawEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "asset", Type: "uint8"},
		{Name: "nonce", Type: "uint256"},
		{Name: "trader", Type: "address"},
	}
}

func (w WithdrawEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"asset":  fmt.Sprintf("%d", w.Asset),
		"nonce":  w.Nonce.String(),
		"trader": w.Trader.Hex(),
	}
}

func (w WithdrawEIP712) Signer() common.Address { return w.Trader }

// ApproveEIP712 sets the book's allowance on a token ledger.
type ApproveEIP712 struct {
	Token  string // ledger symbol
	Amount *big.Int
	Nonce  *big.Int
	Trader common.Address
}

func (ApproveEIP712) PrimaryType() string { return "Approve" }

func (ApproveEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "token", Type: "string"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "trader", Type: "address"},
	}
}

func (a ApproveEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"token":  a.Token,
		"amount": a.Amount.String(),
		"nonce":  a.Nonce.String(),
		"trader": a.Trader.Hex(),
	}
}

func (a ApproveEIP712) Signer() common.Address { return a.Trader }

// AdminEIP712 is a circuit breaker action ("pause" or "unpause").
type AdminEIP712 struct {
	Action string
	Nonce  *big.Int
	Trader common.Address
}

func (AdminEIP712) PrimaryType() string { return "Admin" }

func (AdminEIP712) Fields() []apitypes.Type {
	return []apitypes.Type{
		{Name: "action", Type: "string"},
		{Name: "nonce", Type: "uint256"},
		{Name: "trader", Type: "address"},
	}
}

func (a AdminEIP712) Message() apitypes.TypedDataMessage {
	return apitypes.TypedDataMessage{
		"action": a.Action,
		"nonce":  a.Nonce.String(),
		"trader": a.Trader.Hex(),
	}
}

func (a AdminEIP712) Signer() common.Address { return a.Trader }

// EIP712Signer hashes, signs and verifies typed requests under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(msg TypedMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			msg.PrimaryType(): msg.Fields(),
		},
		PrimaryType: msg.PrimaryType(),
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg.Message(),
	}
}

// Hash returns the digest a wallet signs for msg.
func (e *EIP712Signer) Hash(msg TypedMessage) ([]byte, error) {
	typedData := e.typedData(msg)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", msg.PrimaryType(), err)
	}

	// keccak256("\x19\x01" || domainSeparator || typedDataHash)
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) Sign(signer *Signer, msg TypedMessage) ([]byte, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s: %w", msg.PrimaryType(), err)
	}
	return signature, nil
}

// Recover returns the address that signed msg.
func (e *EIP712Signer) Recover(msg TypedMessage, signature []byte) (common.Address, error) {
	hash, err := e.Hash(msg)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// Verify reports whether signature was made by the address msg claims.
func (e *EIP712Signer) Verify(msg TypedMessage, signature []byte) (bool, error) {
	addr, err := e.Recover(msg, signature)
	if err != nil {
		return false, err
	}
	return addr == msg.Signer(), nil
}

// ToJSON renders msg in the eth_signTypedData_v4 format wallets expect.
func (e *EIP712Signer) ToJSON(msg TypedMessage) (string, error) {
	b, err := json.MarshalIndent(e.typedData(msg), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(b), nil
}

func SideToUint8(side string) uint8 {
	switch side {
	case "buy", "BUY":
		return 1
	case "sell", "SELL":
		return 2
	default:
		return 0
	}
}

func Uint8ToSide(side uint8) string {
	switch side {
	case 1:
		return "buy"
	case 2:
		return "sell"
	default:
		return "unknown"
	}
}
