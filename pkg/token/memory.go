package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// MemoryLedger is a mutex-guarded Ledger kept in maps. When a Journal is set
// every change is written through before it becomes visible.
type MemoryLedger struct {
	mu         sync.RWMutex
	symbol     string
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	journal    Journal
}

func NewMemoryLedger(symbol string) *MemoryLedger {
	return &MemoryLedger{
		symbol:     symbol,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

// WithJournal attaches persistence. Call before the ledger is shared.
func (l *MemoryLedger) WithJournal(j Journal) *MemoryLedger {
	l.journal = j
	return l
}

func (l *MemoryLedger) Symbol() string { return l.symbol }

func (l *MemoryLedger) balance(a common.Address) *uint256.Int {
	if b, ok := l.balances[a]; ok {
		return b
	}
	return new(uint256.Int)
}

func (l *MemoryLedger) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return a
	}
	return new(uint256.Int)
}

func (l *MemoryLedger) BalanceOf(_ context.Context, owner common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(owner).Clone(), nil
}

func (l *MemoryLedger) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowance(owner, spender).Clone(), nil
}

func (l *MemoryLedger) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if spender == (common.Address{}) {
		return fmt.Errorf("approve: %w", ErrZeroAddress)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.journal != nil {
		if err := l.journal.SaveAllowance(l.symbol, owner, spender, amount); err != nil {
			return fmt.Errorf("approve: %w", err)
		}
	}
	l.allowances[allowanceKey{owner, spender}] = amount.Clone()
	return nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

func (l *MemoryLedger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := l.allowance(from, spender)
	if allowed.Lt(amount) {
		return fmt.Errorf("%s transferFrom %s: %w (allowed %s, need %s)",
			l.symbol, from.Hex(), ErrInsufficientAllowance, allowed.Dec(), amount.Dec())
	}
	if l.balance(from).Lt(amount) {
		return fmt.Errorf("%s transferFrom %s: %w", l.symbol, from.Hex(), ErrInsufficientBalance)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%s transferFrom: %w", l.symbol, ErrZeroAddress)
	}
	remaining := new(uint256.Int).Sub(allowed, amount)
	if l.journal != nil {
		if err := l.journal.SaveAllowance(l.symbol, from, spender, remaining); err != nil {
			return fmt.Errorf("transferFrom: %w", err)
		}
	}
	if err := l.move(from, to, amount); err != nil {
		return err
	}
	l.allowances[allowanceKey{from, spender}] = remaining
	return nil
}

// move must be called with mu held.
func (l *MemoryLedger) move(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%s transfer: %w", l.symbol, ErrZeroAddress)
	}
	fromBal := l.balance(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%s transfer from %s: %w (have %s, need %s)",
			l.symbol, from.Hex(), ErrInsufficientBalance, fromBal.Dec(), amount.Dec())
	}
	newFrom := new(uint256.Int).Sub(fromBal, amount)
	var newTo *uint256.Int
	if from == to {
		newTo = newFrom
	} else {
		var overflow bool
		newTo, overflow = new(uint256.Int).AddOverflow(l.balance(to), amount)
		if overflow {
			return fmt.Errorf("%s transfer: balance overflow", l.symbol)
		}
	}

	if l.journal != nil {
		if err := l.journal.SaveBalance(l.symbol, from, newFrom); err != nil {
			return fmt.Errorf("%s transfer: %w", l.symbol, err)
		}
		if from != to {
			if err := l.journal.SaveBalance(l.symbol, to, newTo); err != nil {
				return fmt.Errorf("%s transfer: %w", l.symbol, err)
			}
		}
	}
	l.balances[from] = newFrom
	if from != to {
		l.balances[to] = newTo
	}
	return nil
}

// Mint credits amount out of thin air. Used for genesis allocations and tests.
func (l *MemoryLedger) Mint(to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, overflow := new(uint256.Int).AddOverflow(l.balance(to), amount)
	if overflow {
		return fmt.Errorf("%s mint: balance overflow", l.symbol)
	}
	if l.journal != nil {
		if err := l.journal.SaveBalance(l.symbol, to, next); err != nil {
			return fmt.Errorf("%s mint: %w", l.symbol, err)
		}
	}
	l.balances[to] = next
	return nil
}

// Load installs persisted balances and allowances without journaling them.
func (l *MemoryLedger) Load(balances map[common.Address]*uint256.Int, allowances map[[2]common.Address]*uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for a, v := range balances {
		l.balances[a] = v.Clone()
	}
	for k, v := range allowances {
		l.allowances[allowanceKey{k[0], k[1]}] = v.Clone()
	}
}

// TotalSupply sums all balances.
func (l *MemoryLedger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(uint256.Int)
	for _, v := range l.balances {
		total.Add(total, v)
	}
	return total
}
