package storage

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
)

// MemoryStore keeps committed changesets in maps. Used when no data dir is configured.
type MemoryStore struct {
	mu      sync.Mutex
	orders  map[OrderRef]*orderbook.Order
	escrow  map[escrow.Key]escrow.Balance
	breaker breaker.State
	seq     uint64
	nonces  map[common.Address]uint64
	fills   []orderbook.Fill
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[OrderRef]*orderbook.Order),
		escrow: make(map[escrow.Key]escrow.Balance),
		nonces: make(map[common.Address]uint64),
	}
}

func (s *MemoryStore) Commit(cs *Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ref := range cs.DeleteOrders {
		delete(s.orders, ref)
	}
	for _, o := range cs.PutOrders {
		s.orders[OrderRef{o.Trader, o.Side}] = o.Clone()
	}
	for _, b := range cs.Escrow {
		k := escrow.Key{Trader: b.Trader, Asset: b.Asset}
		if b.Amount == nil || b.Amount.IsZero() {
			delete(s.escrow, k)
			continue
		}
		s.escrow[k] = escrow.Balance{Trader: b.Trader, Asset: b.Asset, Amount: b.Amount.Clone()}
	}
	if cs.Breaker != nil {
		s.breaker = *cs.Breaker
	}
	if cs.Seq != nil {
		s.seq = *cs.Seq
	}
	for a, n := range cs.Nonces {
		s.nonces[a] = n
	}
	s.fills = append(s.fills, cs.Fills...)
	return nil
}

func (s *MemoryStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{Breaker: s.breaker, Seq: s.seq, Nonces: make(map[common.Address]uint64, len(s.nonces))}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o.Clone())
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].Seq < snap.Orders[j].Seq })
	for _, b := range s.escrow {
		snap.Escrow = append(snap.Escrow, escrow.Balance{Trader: b.Trader, Asset: b.Asset, Amount: b.Amount.Clone()})
	}
	for a, n := range s.nonces {
		snap.Nonces[a] = n
	}
	return snap, nil
}

// RecentFills returns up to limit fills, newest first.
func (s *MemoryStore) RecentFills(limit int) ([]orderbook.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orderbook.Fill
	for i := len(s.fills) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.fills[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
