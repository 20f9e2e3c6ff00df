// Package token defines the fungible-asset ledger the book settles against and
// an in-process implementation of it.
package token

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrZeroAddress           = errors.New("zero address")
)

// Ledger is an ERC-20 style balance and allowance book for one asset.
// Amounts are 18-decimal fixed point.
type Ledger interface {
	Symbol() string
	BalanceOf(ctx context.Context, owner common.Address) (*uint256.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error
	// Transfer moves amount from "from" to "to" on from's own authority.
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	// TransferFrom moves amount from "from" to "to" using spender's allowance.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error
}

// Journal receives every balance and allowance change so a ledger can be rebuilt on restart.
type Journal interface {
	SaveBalance(symbol string, owner common.Address, amount *uint256.Int) error
	SaveAllowance(symbol string, owner, spender common.Address, amount *uint256.Int) error
}
