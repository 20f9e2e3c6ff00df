// Package escrow tracks, per trader and asset, amounts released by fills or
// order refunds that have not been withdrawn yet.
package escrow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Asset uint8

const (
	Cash     Asset = 1
	Security Asset = 2
)

func (a Asset) String() string {
	switch a {
	case Cash:
		return "cash"
	case Security:
		return "security"
	default:
		return "unknown"
	}
}

func (a Asset) Valid() bool { return a == Cash || a == Security }

// ParseAsset accepts "cash"/"currency" and "security"/"securities".
func ParseAsset(s string) (Asset, error) {
	switch strings.ToLower(s) {
	case "cash", "currency", "currencies":
		return Cash, nil
	case "security", "securities":
		return Security, nil
	default:
		return 0, fmt.Errorf("unknown asset %q", s)
	}
}

type Key struct {
	Trader common.Address
	Asset  Asset
}

// Balance is one non-zero accumulator, used for persistence and restore.
type Balance struct {
	Trader common.Address
	Asset  Asset
	Amount *uint256.Int
}

// Ledger is the in-memory escrow. Not safe for concurrent use.
type Ledger struct {
	balances map[Key]*uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{balances: make(map[Key]*uint256.Int)}
}

// Credit adds amount to the accumulator. A zero amount is ignored.
func (l *Ledger) Credit(trader common.Address, asset Asset, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	k := Key{trader, asset}
	cur, ok := l.balances[k]
	if !ok {
		l.balances[k] = amount.Clone()
		return
	}
	cur.Add(cur, amount)
}

// Withdrawable returns a copy of the current accumulator.
func (l *Ledger) Withdrawable(trader common.Address, asset Asset) *uint256.Int {
	if cur, ok := l.balances[Key{trader, asset}]; ok {
		return cur.Clone()
	}
	return new(uint256.Int)
}

// Take zeroes the accumulator and returns what it held.
func (l *Ledger) Take(trader common.Address, asset Asset) *uint256.Int {
	k := Key{trader, asset}
	cur, ok := l.balances[k]
	if !ok {
		return new(uint256.Int)
	}
	delete(l.balances, k)
	return cur
}

// Restore puts back an amount removed by Take after a failed transfer.
func (l *Ledger) Restore(trader common.Address, asset Asset, amount *uint256.Int) {
	l.Credit(trader, asset, amount)
}

// Set overwrites a balance; used when loading persisted state.
func (l *Ledger) Set(trader common.Address, asset Asset, amount *uint256.Int) {
	k := Key{trader, asset}
	if amount == nil || amount.IsZero() {
		delete(l.balances, k)
		return
	}
	l.balances[k] = amount.Clone()
}

// Total sums every trader's balance of asset.
func (l *Ledger) Total(asset Asset) *uint256.Int {
	total := new(uint256.Int)
	for k, v := range l.balances {
		if k.Asset == asset {
			total.Add(total, v)
		}
	}
	return total
}

// Balances lists every non-zero accumulator sorted by trader then asset.
func (l *Ledger) Balances() []Balance {
	out := make([]Balance, 0, len(l.balances))
	for k, v := range l.balances {
		out = append(out, Balance{Trader: k.Trader, Asset: k.Asset, Amount: v.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Trader.Cmp(out[j].Trader); c != 0 {
			return c < 0
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}
