package transaction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoxbook/pkg/crypto"
)

var (
	ErrMalformed    = errors.New("malformed transaction")
	ErrBadSignature = errors.New("bad signature")
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeOrder    TxType = "order"
	TxTypeCancel   TxType = "cancel"
	TxTypeWithdraw TxType = "withdraw"
	TxTypeApprove  TxType = "approve"
	TxTypePause    TxType = "pause"
	TxTypeUnpause  TxType = "unpause"
)

// SignedTransaction is a trader request plus the EIP-712 signature over it.
// Exactly one payload matching Type is set. Pause and unpause use Admin.
type SignedTransaction struct {
	Type      TxType           `json:"type"`
	Order     *OrderPayload    `json:"order,omitempty"`
	Cancel    *CancelPayload   `json:"cancel,omitempty"`
	Withdraw  *WithdrawPayload `json:"withdraw,omitempty"`
	Approve   *ApprovePayload  `json:"approve,omitempty"`
	Admin     *AdminPayload    `json:"admin,omitempty"`
	Signature string           `json:"signature"` // hex, 0x optional
}

// Amounts are decimal strings of 18-decimal base units.
type OrderPayload struct {
	Side     uint8  `json:"side"` // 1=buy, 2=sell
	Price    string `json:"price"`
	Quantity string `json:"quantity"`
	Nonce    string `json:"nonce"`
	Trader   string `json:"trader"`
}

type CancelPayload struct {
	Side   uint8  `json:"side"`
	Nonce  string `json:"nonce"`
	Trader string `json:"trader"`
}

// WithdrawPayload withdraws one asset (1=cash, 2=security) or both (0).
type WithdrawPayload struct {
	Asset  uint8  `json:"asset"`
	Nonce  string `json:"nonce"`
	Trader string `json:"trader"`
}

type ApprovePayload struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
	Trader string `json:"trader"`
}

type AdminPayload struct {
	Nonce  string `json:"nonce"`
	Trader string `json:"trader"`
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformed, field, s)
	}
	return v, nil
}

func parseTrader(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: invalid trader %q", ErrMalformed, s)
	}
	return common.HexToAddress(s), nil
}

func (o *OrderPayload) ToEIP712() (*crypto.PlaceOrderEIP712, error) {
	price, err := parseBig("price", o.Price)
	if err != nil {
		return nil, err
	}
	qty, err := parseBig("quantity", o.Quantity)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", o.Nonce)
	if err != nil {
		return nil, err
	}
	trader, err := parseTrader(o.Trader)
	if err != nil {
		return nil, err
	}
	return &crypto.PlaceOrderEIP712{Side: o.Side, Price: price, Quantity: qty, Nonce: nonce, Trader: trader}, nil
}

func FromEIP712Order(o *crypto.PlaceOrderEIP712) *OrderPayload {
	return &OrderPayload{
		Side:     o.Side,
		Price:    o.Price.String(),
		Quantity: o.Quantity.String(),
		Nonce:    o.Nonce.String(),
		Trader:   o.Trader.Hex(),
	}
}

func (c *CancelPayload) ToEIP712() (*crypto.CancelEIP712, error) {
	nonce, err := parseBig("nonce", c.Nonce)
	if err != nil {
		return nil, err
	}
	trader, err := parseTrader(c.Trader)
	if err != nil {
		return nil, err
	}
	return &crypto.CancelEIP712{Side: c.Side, Nonce: nonce, Trader: trader}, nil
}

func (w *WithdrawPayload) ToEIP712() (*crypto.WithdrawEIP712, error) {
	nonce, err := parseBig("nonce", w.Nonce)
	if err != nil {
		return nil, err
	}
	trader, err := parseTrader(w.Trader)
	if err != nil {
		return nil, err
	}
	return &crypto.WithdrawEIP712{Asset: w.Asset, Nonce: nonce, Trader: trader}, nil
}

func (a *ApprovePayload) ToEIP712() (*crypto.ApproveEIP712, error) {
	amount, err := parseBig("amount", a.Amount)
	if err != nil {
		return nil, err
	}
	nonce, err := parseBig("nonce", a.Nonce)
	if err != nil {
		return nil, err
	}
	trader, err := parseTrader(a.Trader)
	if err != nil {
		return nil, err
	}
	return &crypto.ApproveEIP712{Token: a.Token, Amount: amount, Nonce: nonce, Trader: trader}, nil
}

func (a *AdminPayload) toEIP712(action TxType) (*crypto.AdminEIP712, error) {
	nonce, err := parseBig("nonce", a.Nonce)
	if err != nil {
		return nil, err
	}
	trader, err := parseTrader(a.Trader)
	if err != nil {
		return nil, err
	}
	return &crypto.AdminEIP712{Action: string(action), Nonce: nonce, Trader: trader}, nil
}

// Message returns the typed message the signature must cover.
func (tx *SignedTransaction) Message() (crypto.TypedMessage, error) {
	if err := tx.ValidatePayload(); err != nil {
		return nil, err
	}
	switch tx.Type {
	case TxTypeOrder:
		m, err := tx.Order.ToEIP712()
		if err != nil {
			return nil, err
		}
		return *m, nil
	case TxTypeCancel:
		m, err := tx.Cancel.ToEIP712()
		if err != nil {
			return nil, err
		}
		return *m, nil
	case TxTypeWithdraw:
		m, err := tx.Withdraw.ToEIP712()
		if err != nil {
			return nil, err
		}
		return *m, nil
	case TxTypeApprove:
		m, err := tx.Approve.ToEIP712()
		if err != nil {
			return nil, err
		}
		return *m, nil
	default:
		m, err := tx.Admin.toEIP712(tx.Type)
		if err != nil {
			return nil, err
		}
		return *m, nil
	}
}

// Nonce returns the payload nonce. It must fit in a uint64.
func (tx *SignedTransaction) Nonce() (uint64, error) {
	var s string
	switch tx.Type {
	case TxTypeOrder:
		s = tx.Order.Nonce
	case TxTypeCancel:
		s = tx.Cancel.Nonce
	case TxTypeWithdraw:
		s = tx.Withdraw.Nonce
	case TxTypeApprove:
		s = tx.Approve.Nonce
	default:
		s = tx.Admin.Nonce
	}
	n, err := parseBig("nonce", s)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: nonce %s out of range", ErrMalformed, s)
	}
	return n.Uint64(), nil
}

func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &tx, nil
}

// Validate checks the signature is present and the payload is well formed.
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("%w: missing signature", ErrMalformed)
	}
	return tx.ValidatePayload()
}

// ValidatePayload checks that the payload for Type is present and populated.
func (tx *SignedTransaction) ValidatePayload() error {
	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return fmt.Errorf("%w: order type requires order payload", ErrMalformed)
		}
		if tx.Order.Side == 0 {
			return fmt.Errorf("%w: invalid order side", ErrMalformed)
		}
	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("%w: cancel type requires cancel payload", ErrMalformed)
		}
	case TxTypeWithdraw:
		if tx.Withdraw == nil {
			return fmt.Errorf("%w: withdraw type requires withdraw payload", ErrMalformed)
		}
	case TxTypeApprove:
		if tx.Approve == nil {
			return fmt.Errorf("%w: approve type requires approve payload", ErrMalformed)
		}
		if tx.Approve.Token == "" {
			return fmt.Errorf("%w: missing approve token", ErrMalformed)
		}
	case TxTypePause, TxTypeUnpause:
		if tx.Admin == nil {
			return fmt.Errorf("%w: %s requires admin payload", ErrMalformed, tx.Type)
		}
	case "":
		return fmt.Errorf("%w: missing transaction type", ErrMalformed)
	default:
		return fmt.Errorf("%w: unknown transaction type %q", ErrMalformed, tx.Type)
	}
	return nil
}

// ParseTransaction decodes and validates a JSON transaction.
//
//	{
//	  "type": "order",
//	  "order": {"side": 1, "price": "10000000000000000000", "quantity": "2000000000000000000",
//	            "nonce": "42", "trader": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"},
//	  "signature": "0x..."
//	}
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, err
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return tx, nil
}
