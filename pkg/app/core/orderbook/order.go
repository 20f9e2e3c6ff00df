package orderbook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderExists   = errors.New("trader already has a resting order on this side")
	ErrInvalidSide   = errors.New("invalid side")
)

type Side uint8

const (
	Buy  Side = 1
	Sell Side = 2
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an incoming order on s crosses against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSide, s)
	}
}

// Crosses reports whether an incoming order on side at price trades against
// a resting order priced at resting.
func Crosses(side Side, price, resting *uint256.Int) bool {
	if side == Buy {
		return !resting.Gt(price)
	}
	return !resting.Lt(price)
}

// Order is a resting limit order. Quantity is what remains to be filled;
// Locked is the collateral still held for it (cash for a buy, security for a sell).
type Order struct {
	Trader    common.Address
	Side      Side
	Price     *uint256.Int
	Quantity  *uint256.Int
	Locked    *uint256.Int
	Seq       uint64
	CreatedAt time.Time
}

func (o *Order) Clone() *Order {
	cp := *o
	cp.Price = o.Price.Clone()
	cp.Quantity = o.Quantity.Clone()
	if o.Locked != nil {
		cp.Locked = o.Locked.Clone()
	} else {
		cp.Locked = new(uint256.Int)
	}
	return &cp
}

// Fill records one cross between an incoming (taker) and a resting (maker) order.
// Price is always the maker's price; Cash is floor(Price * Quantity / 1e18).
type Fill struct {
	ID        string
	Seq       uint64
	Taker     common.Address
	Maker     common.Address
	TakerSide Side
	Price     *uint256.Int
	Quantity  *uint256.Int
	Cash      *uint256.Int
	Timestamp time.Time
}

// Buyer returns the trader receiving the security.
func (f Fill) Buyer() common.Address {
	if f.TakerSide == Buy {
		return f.Taker
	}
	return f.Maker
}

// Seller returns the trader receiving the cash.
func (f Fill) Seller() common.Address {
	if f.TakerSide == Sell {
		return f.Taker
	}
	return f.Maker
}

type PriceLevel struct {
	Price    *uint256.Int
	Quantity *uint256.Int // total qty at this price level
	Orders   int
}

// SideView is the externally observable book: three parallel sequences in priority order.
type SideView struct {
	Traders    []common.Address
	Quantities []*uint256.Int
	Prices     []*uint256.Int
}
