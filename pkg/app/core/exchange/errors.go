package exchange

import (
	"errors"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/token"
)

// Error kinds returned by the exchange. Match with errors.Is.
var (
	ErrInvalidOrder   = errors.New("invalid order")
	ErrTransferFailed = errors.New("token transfer failed")
	ErrBookFull       = errors.New("order book side is full")
	ErrInvalidNonce   = errors.New("nonce already used")
	ErrInvalidAsset   = errors.New("invalid asset")

	ErrOrderNotFound = orderbook.ErrOrderNotFound
	ErrOrderExists   = orderbook.ErrOrderExists

	ErrPaused       = breaker.ErrPaused
	ErrInvalidState = breaker.ErrInvalidState
	ErrUnauthorized = breaker.ErrUnauthorized

	ErrInsufficientAllowance = token.ErrInsufficientAllowance
	ErrInsufficientBalance   = token.ErrInsufficientBalance
)

// Reason maps an error to a short metrics label.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrOrderExists):
		return "order_exists"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrBookFull):
		return "book_full"
	case errors.Is(err, ErrInvalidNonce):
		return "invalid_nonce"
	case errors.Is(err, ErrInsufficientAllowance):
		return "insufficient_allowance"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	default:
		return "internal"
	}
}
