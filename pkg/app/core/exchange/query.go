package exchange

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
)

// BuySide returns resting buys highest price first, earliest first within a price.
func (e *Exchange) BuySide() orderbook.SideView { return e.Snapshot(orderbook.Buy) }

// SellSide returns resting sells lowest price first, earliest first within a price.
func (e *Exchange) SellSide() orderbook.SideView { return e.Snapshot(orderbook.Sell) }

func (e *Exchange) Snapshot(side orderbook.Side) orderbook.SideView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Snapshot(side)
}

func (e *Exchange) Orders(side orderbook.Side) []*orderbook.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Orders(side)
}

func (e *Exchange) Levels(side orderbook.Side) []orderbook.PriceLevel {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.Levels(side)
}

// OrdersOf returns the trader's resting orders (at most one per side).
func (e *Exchange) OrdersOf(trader common.Address) []*orderbook.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*orderbook.Order
	for _, side := range []orderbook.Side{orderbook.Buy, orderbook.Sell} {
		if o, ok := e.book.Get(trader, side); ok {
			out = append(out, o.Clone())
		}
	}
	return out
}

func (e *Exchange) Withdrawable(trader common.Address, asset escrow.Asset) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrow.Withdrawable(trader, asset)
}

// WithdrawableSecurities and WithdrawableCurrencies are the per-asset shorthands.
func (e *Exchange) WithdrawableSecurities(trader common.Address) *uint256.Int {
	return e.Withdrawable(trader, escrow.Security)
}

func (e *Exchange) WithdrawableCurrencies(trader common.Address) *uint256.Int {
	return e.Withdrawable(trader, escrow.Cash)
}

func (e *Exchange) BreakerState() breaker.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.breaker.State()
}

func (e *Exchange) IsPrivileged(caller common.Address) bool {
	return e.breaker.IsPrivileged(caller)
}

func (e *Exchange) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// RecentFills returns up to limit fills, newest first.
func (e *Exchange) RecentFills(limit int) ([]orderbook.Fill, error) {
	return e.store.RecentFills(limit)
}

// Liabilities is what the book owes traders in asset: escrow balances plus
// collateral locked in resting orders. The book's ledger balance equals it exactly.
func (e *Exchange) Liabilities(asset escrow.Asset) *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.escrow.Total(asset)
	side := orderbook.Buy
	if asset == escrow.Security {
		side = orderbook.Sell
	}
	e.book.Walk(side, func(o *orderbook.Order) bool {
		total.Add(total, o.Locked)
		return true
	})
	return total
}

type Status struct {
	State     breaker.State
	Seq       uint64
	BuyDepth  int
	SellDepth int
	BestBid   *uint256.Int
	BestAsk   *uint256.Int
	StateHash [32]byte
}

func (e *Exchange) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	bid, ask := e.book.Spread()
	return Status{
		State:     e.breaker.State(),
		Seq:       e.seq,
		BuyDepth:  e.book.Len(orderbook.Buy),
		SellDepth: e.book.Len(orderbook.Sell),
		BestBid:   bid,
		BestAsk:   ask,
		StateHash: e.stateHashLocked(),
	}
}

// StateHash digests book, escrow, breaker and sequence. Two exchanges that
// processed the same operations hash equal.
func (e *Exchange) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateHashLocked()
}

func (e *Exchange) stateHashLocked() [32]byte {
	h := sha3.NewLegacyKeccak256()
	bookHash := e.book.Hash()
	h.Write(bookHash[:])
	for _, b := range e.escrow.Balances() {
		h.Write(b.Trader.Bytes())
		h.Write([]byte{byte(b.Asset)})
		amt := b.Amount.Bytes32()
		h.Write(amt[:])
	}
	var buf [9]byte
	buf[0] = byte(e.breaker.State())
	binary.BigEndian.PutUint64(buf[1:], e.seq)
	h.Write(buf[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
