package storage

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
)

type OrderRef struct {
	Trader common.Address
	Side   orderbook.Side
}

// Changeset is everything one exchange operation writes. A store applies it
// atomically or not at all. Escrow entries carry absolute balances; a zero
// amount deletes the entry.
type Changeset struct {
	PutOrders    []*orderbook.Order
	DeleteOrders []OrderRef
	Escrow       []escrow.Balance
	Breaker      *breaker.State
	Seq          *uint64
	Fills        []orderbook.Fill
	Nonces       map[common.Address]uint64
}

func (c *Changeset) Empty() bool {
	return len(c.PutOrders) == 0 && len(c.DeleteOrders) == 0 && len(c.Escrow) == 0 &&
		c.Breaker == nil && c.Seq == nil && len(c.Fills) == 0 && len(c.Nonces) == 0
}

// Snapshot is the durable exchange state loaded at startup.
type Snapshot struct {
	Orders  []*orderbook.Order
	Escrow  []escrow.Balance
	Breaker breaker.State
	Seq     uint64
	Nonces  map[common.Address]uint64
}
