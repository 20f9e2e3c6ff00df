package orderbook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"pgregory.net/rapid"
)

// Any sequence of inserts and removals leaves each side in price-then-seq order
// and keeps the trader index consistent with the levels.
func TestPropertyPriorityOrder(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ob := NewOrderBook()
		var seq uint64

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			trader := common.BigToAddress(uint256.NewInt(rapid.Uint64Range(1, 8).Draw(t, "trader")).ToBig())
			side := Side(rapid.IntRange(1, 2).Draw(t, "side"))

			if rapid.Bool().Draw(t, "remove") {
				_, _ = ob.RemoveByTrader(trader, side)
				continue
			}
			seq++
			_ = ob.Insert(&Order{
				Trader:   trader,
				Side:     side,
				Price:    uint256.NewInt(rapid.Uint64Range(1, 6).Draw(t, "price")),
				Quantity: uint256.NewInt(rapid.Uint64Range(1, 100).Draw(t, "qty")),
				Seq:      seq,
			})
		}

		for _, side := range []Side{Buy, Sell} {
			orders := ob.Orders(side)
			if len(orders) != ob.Len(side) {
				t.Fatalf("walk len %d != Len %d", len(orders), ob.Len(side))
			}
			for i := 1; i < len(orders); i++ {
				prev, cur := orders[i-1], orders[i]
				better := prev.Price.Gt(cur.Price)
				if side == Sell {
					better = prev.Price.Lt(cur.Price)
				}
				if !better && !(prev.Price.Eq(cur.Price) && prev.Seq < cur.Seq) {
					t.Fatalf("%s side out of order at %d: %s/%d then %s/%d",
						side, i, prev.Price.Dec(), prev.Seq, cur.Price.Dec(), cur.Seq)
				}
			}
			for _, o := range orders {
				live, ok := ob.Get(o.Trader, side)
				if !ok || live.Seq != o.Seq {
					t.Fatalf("index missing %s %s", o.Trader.Hex(), side)
				}
			}
			if best := ob.PeekBest(side); len(orders) > 0 && best.Seq != orders[0].Seq {
				t.Fatalf("PeekBest seq %d != first walked %d", best.Seq, orders[0].Seq)
			}
		}
	})
}
