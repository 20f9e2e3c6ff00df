package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

// PebbleStore persists exchange state and token ledgers in one Pebble database.
// Thread-safe: Pebble handles concurrent writers; callers serialize logical updates.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10, // 512KB
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes a changeset in a single synced batch.
func (s *PebbleStore) Commit(cs *Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, ref := range cs.DeleteOrders {
		if err := batch.Delete(orderKey(ref.Trader, ref.Side), nil); err != nil {
			return fmt.Errorf("failed to delete order: %w", err)
		}
	}
	for _, o := range cs.PutOrders {
		data, err := encodeOrder(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := batch.Set(orderKey(o.Trader, o.Side), data, nil); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
	}
	for _, b := range cs.Escrow {
		key := escrowKey(b.Trader, b.Asset)
		var err error
		if b.Amount == nil || b.Amount.IsZero() {
			err = batch.Delete(key, nil)
		} else {
			err = batch.Set(key, []byte(fixed.String(b.Amount)), nil)
		}
		if err != nil {
			return fmt.Errorf("failed to save escrow: %w", err)
		}
	}
	if cs.Breaker != nil {
		if err := batch.Set(breakerKey(), []byte{byte(*cs.Breaker)}, nil); err != nil {
			return fmt.Errorf("failed to save breaker: %w", err)
		}
	}
	if cs.Seq != nil {
		if err := batch.Set(seqKey(), encodeUint64(*cs.Seq), nil); err != nil {
			return fmt.Errorf("failed to save seq: %w", err)
		}
	}
	for addr, n := range cs.Nonces {
		if err := batch.Set(nonceKey(addr), encodeUint64(n), nil); err != nil {
			return fmt.Errorf("failed to save nonce: %w", err)
		}
	}
	for _, f := range cs.Fills {
		data, err := encodeFill(f)
		if err != nil {
			return fmt.Errorf("failed to marshal fill: %w", err)
		}
		if err := batch.Set(fillKey(f.Seq, f.ID), data, nil); err != nil {
			return fmt.Errorf("failed to save fill: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Load reads the full exchange state.
func (s *PebbleStore) Load() (*Snapshot, error) {
	snap := &Snapshot{Nonces: make(map[common.Address]uint64)}

	if err := s.scan([]byte(prefixOrder), func(_, v []byte) error {
		o, err := decodeOrder(v)
		if err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan([]byte(prefixEscrow), func(k, v []byte) error {
		addr, err := addressFromKey(k, len(prefixEscrow))
		if err != nil {
			return err
		}
		// "esc:" + 42 + ":" + asset
		if len(k) != len(prefixEscrow)+44 {
			return fmt.Errorf("invalid escrow key: %s", k)
		}
		asset := escrow.Asset(k[len(k)-1] - '0')
		amt, err := fixed.FromDecimalString(string(v))
		if err != nil {
			return fmt.Errorf("escrow %s: %w", k, err)
		}
		snap.Escrow = append(snap.Escrow, escrow.Balance{Trader: addr, Asset: asset, Amount: amt})
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.scan([]byte(prefixNonce), func(k, v []byte) error {
		addr, err := addressFromKey(k, len(prefixNonce))
		if err != nil {
			return err
		}
		n, err := decodeUint64(v)
		if err != nil {
			return err
		}
		snap.Nonces[addr] = n
		return nil
	}); err != nil {
		return nil, err
	}

	if v, ok, err := s.get(breakerKey()); err != nil {
		return nil, err
	} else if ok && len(v) == 1 {
		snap.Breaker = breaker.State(v[0])
	}

	if v, ok, err := s.get(seqKey()); err != nil {
		return nil, err
	} else if ok {
		seq, err := decodeUint64(v)
		if err != nil {
			return nil, fmt.Errorf("seq: %w", err)
		}
		snap.Seq = seq
	}

	return snap, nil
}

// RecentFills returns up to limit fills, newest first.
func (s *PebbleStore) RecentFills(limit int) ([]orderbook.Fill, error) {
	prefix := []byte(prefixFill)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var fills []orderbook.Fill
	for iter.Last(); iter.Valid() && len(fills) < limit; iter.Prev() {
		f, err := decodeFill(iter.Value())
		if err != nil {
			continue // Skip invalid entries
		}
		fills = append(fills, f)
	}
	return fills, nil
}

// SaveBalance implements token.Journal.
func (s *PebbleStore) SaveBalance(symbol string, owner common.Address, amount *uint256.Int) error {
	return s.setAmount(balanceKey(symbol, owner), amount)
}

// SaveAllowance implements token.Journal.
func (s *PebbleStore) SaveAllowance(symbol string, owner, spender common.Address, amount *uint256.Int) error {
	return s.setAmount(allowanceKey(symbol, owner, spender), amount)
}

func (s *PebbleStore) setAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return s.db.Delete(key, pebble.Sync)
	}
	return s.db.Set(key, []byte(fixed.String(amount)), pebble.Sync)
}

// LoadToken reads a token ledger's balances and allowances.
func (s *PebbleStore) LoadToken(symbol string) (map[common.Address]*uint256.Int, map[[2]common.Address]*uint256.Int, error) {
	balances := make(map[common.Address]*uint256.Int)
	allowances := make(map[[2]common.Address]*uint256.Int)

	bp := balancePrefix(symbol)
	if err := s.scan(bp, func(k, v []byte) error {
		addr, err := addressFromKey(k, len(bp))
		if err != nil {
			return err
		}
		amt, err := fixed.FromDecimalString(string(v))
		if err != nil {
			return err
		}
		balances[addr] = amt
		return nil
	}); err != nil {
		return nil, nil, err
	}

	ap := allowancePrefix(symbol)
	if err := s.scan(ap, func(k, v []byte) error {
		owner, err := addressFromKey(k, len(ap))
		if err != nil {
			return err
		}
		spender, err := addressFromKey(k, len(ap)+43) // owner + ':'
		if err != nil {
			return err
		}
		amt, err := fixed.FromDecimalString(string(v))
		if err != nil {
			return err
		}
		allowances[[2]common.Address{owner, spender}] = amt
		return nil
	}); err != nil {
		return nil, nil, err
	}

	return balances, allowances, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) get(key []byte) ([]byte, bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}
