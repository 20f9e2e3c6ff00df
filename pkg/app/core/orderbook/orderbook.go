package orderbook

import (
	"container/heap"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

type traderSide struct {
	trader common.Address
	side   Side
}

// OrderBook keeps both sides of the book as price-level FIFO queues with a heap
// per side for O(1) best-price lookup, plus a (trader, side) index enforcing the
// single resting order per trader per side.
//
// OrderBook is not safe for concurrent use; the exchange serializes all access.
type OrderBook struct {
	// Heap-based best price tracking (O(1) peek)
	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	// Price level queues (FIFO matching at each price)
	bids map[uint256.Int][]*Order
	asks map[uint256.Int][]*Order

	index map[traderSide]*Order
}

func NewOrderBook() *OrderBook {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &OrderBook{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[uint256.Int][]*Order),
		asks:    make(map[uint256.Int][]*Order),
		index:   make(map[traderSide]*Order),
	}
}

func (ob *OrderBook) levels(side Side) map[uint256.Int][]*Order {
	if side == Buy {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) bestPrice(side Side) (uint256.Int, bool) {
	if side == Buy {
		return ob.bidHeap.Peek()
	}
	return ob.askHeap.Peek()
}

func (ob *OrderBook) pushPrice(side Side, p uint256.Int) {
	if side == Buy {
		heap.Push(ob.bidHeap, p)
	} else {
		heap.Push(ob.askHeap, p)
	}
}

// dropPrice removes an emptied price level from its heap and map.
func (ob *OrderBook) dropPrice(side Side, p uint256.Int) {
	delete(ob.levels(side), p)
	if side == Buy {
		if i := ob.bidHeap.index(p); i >= 0 {
			heap.Remove(ob.bidHeap, i)
		}
		return
	}
	if i := ob.askHeap.index(p); i >= 0 {
		heap.Remove(ob.askHeap, i)
	}
}

// Insert appends o at the back of its price level. The caller assigns Seq from a
// monotonically increasing counter so FIFO order within a level is Seq order.
func (ob *OrderBook) Insert(o *Order) error {
	if !o.Side.Valid() {
		return ErrInvalidSide
	}
	key := traderSide{o.Trader, o.Side}
	if _, exists := ob.index[key]; exists {
		return ErrOrderExists
	}
	if o.Locked == nil {
		o.Locked = new(uint256.Int)
	}

	p := *o.Price
	lv := ob.levels(o.Side)
	if len(lv[p]) == 0 {
		ob.pushPrice(o.Side, p)
	}
	lv[p] = insertBySeq(lv[p], o)
	ob.index[key] = o
	return nil
}

// insertBySeq keeps a level sorted by Seq. Orders normally arrive in Seq order
// so this is an append; restored books may not.
func insertBySeq(level []*Order, o *Order) []*Order {
	i := sort.Search(len(level), func(i int) bool { return level[i].Seq > o.Seq })
	level = append(level, nil)
	copy(level[i+1:], level[i:])
	level[i] = o
	return level
}

// PeekBest returns the head of a side (highest bid or lowest ask), or nil.
func (ob *OrderBook) PeekBest(side Side) *Order {
	p, ok := ob.bestPrice(side)
	if !ok {
		return nil
	}
	level := ob.levels(side)[p]
	if len(level) == 0 {
		return nil
	}
	return level[0]
}

// RemoveBest pops the head of a side, or returns nil when the side is empty.
func (ob *OrderBook) RemoveBest(side Side) *Order {
	o := ob.PeekBest(side)
	if o == nil {
		return nil
	}
	ob.remove(o)
	return o
}

// RemoveByTrader removes the trader's single resting order on side.
func (ob *OrderBook) RemoveByTrader(trader common.Address, side Side) (*Order, error) {
	o, ok := ob.index[traderSide{trader, side}]
	if !ok {
		return nil, ErrOrderNotFound
	}
	ob.remove(o)
	return o, nil
}

func (ob *OrderBook) remove(o *Order) {
	p := *o.Price
	lv := ob.levels(o.Side)
	level := lv[p]
	for i, cur := range level {
		if cur == o {
			level = append(level[:i], level[i+1:]...)
			break
		}
	}
	if len(level) == 0 {
		ob.dropPrice(o.Side, p)
	} else {
		lv[p] = level
	}
	delete(ob.index, traderSide{o.Trader, o.Side})
}

// Reduce takes qty off a resting order and removes it once nothing remains.
// It reports whether the order left the book.
func (ob *OrderBook) Reduce(o *Order, qty *uint256.Int) bool {
	o.Quantity = new(uint256.Int).Sub(o.Quantity, qty)
	if o.Quantity.IsZero() {
		ob.remove(o)
		return true
	}
	return false
}

// Get returns the live resting order for (trader, side).
func (ob *OrderBook) Get(trader common.Address, side Side) (*Order, bool) {
	o, ok := ob.index[traderSide{trader, side}]
	return o, ok
}

// Len returns the number of resting orders on side.
func (ob *OrderBook) Len(side Side) int {
	n := 0
	for _, level := range ob.levels(side) {
		n += len(level)
	}
	return n
}

// sortedPrices lists a side's prices best first.
func (ob *OrderBook) sortedPrices(side Side) []uint256.Int {
	lv := ob.levels(side)
	prices := make([]uint256.Int, 0, len(lv))
	for p, level := range lv {
		if len(level) > 0 {
			prices = append(prices, p)
		}
	}
	sort.Slice(prices, func(i, j int) bool {
		if side == Buy {
			return prices[i].Gt(&prices[j])
		}
		return prices[i].Lt(&prices[j])
	})
	return prices
}

// Walk visits the live orders of side in priority order until fn returns false.
// fn must not mutate the book.
func (ob *OrderBook) Walk(side Side, fn func(*Order) bool) {
	lv := ob.levels(side)
	for _, p := range ob.sortedPrices(side) {
		for _, o := range lv[p] {
			if !fn(o) {
				return
			}
		}
	}
}

// Orders returns copies of a side's orders in priority order.
func (ob *OrderBook) Orders(side Side) []*Order {
	var out []*Order
	ob.Walk(side, func(o *Order) bool {
		out = append(out, o.Clone())
		return true
	})
	return out
}

// Snapshot produces the parallel (traders, quantities, prices) view of a side.
func (ob *OrderBook) Snapshot(side Side) SideView {
	var v SideView
	ob.Walk(side, func(o *Order) bool {
		v.Traders = append(v.Traders, o.Trader)
		v.Quantities = append(v.Quantities, o.Quantity.Clone())
		v.Prices = append(v.Prices, o.Price.Clone())
		return true
	})
	return v
}

// Levels aggregates qty per price, best price first.
func (ob *OrderBook) Levels(side Side) []PriceLevel {
	lv := ob.levels(side)
	prices := ob.sortedPrices(side)
	out := make([]PriceLevel, 0, len(prices))
	for _, p := range prices {
		total := new(uint256.Int)
		for _, o := range lv[p] {
			total.Add(total, o.Quantity)
		}
		price := p
		out = append(out, PriceLevel{Price: price.Clone(), Quantity: total, Orders: len(lv[p])})
	}
	return out
}

// Spread returns best bid and best ask; either may be nil.
func (ob *OrderBook) Spread() (bid, ask *uint256.Int) {
	if p, ok := ob.bestPrice(Buy); ok {
		bid = p.Clone()
	}
	if p, ok := ob.bestPrice(Sell); ok {
		ask = p.Clone()
	}
	return bid, ask
}

// Hash is a keccak256 digest of both sides in priority order.
func (ob *OrderBook) Hash() [32]byte {
	h := sha3.NewLegacyKeccak256()
	var seq [8]byte
	for _, side := range []Side{Buy, Sell} {
		h.Write([]byte{byte(side)})
		ob.Walk(side, func(o *Order) bool {
			h.Write(o.Trader.Bytes())
			p, q, l := o.Price.Bytes32(), o.Quantity.Bytes32(), o.Locked.Bytes32()
			h.Write(p[:])
			h.Write(q[:])
			h.Write(l[:])
			binary.BigEndian.PutUint64(seq[:], o.Seq)
			h.Write(seq[:])
			return true
		})
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
