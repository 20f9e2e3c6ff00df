// Package fixed holds the 18-decimal fixed-point helpers shared by the book,
// the escrow and the token ledgers. Every price, quantity and cash amount is an
// unsigned 256-bit integer where 1e18 represents one whole unit.
package fixed

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by every amount.
const Decimals = 18

var (
	// One is 1.0 at 18-decimal scale. Never mutate it.
	One = uint256.NewInt(1_000_000_000_000_000_000)

	ErrNegative  = errors.New("fixed: negative amount")
	ErrPrecision = errors.New("fixed: more than 18 fractional digits")
	ErrOverflow  = errors.New("fixed: amount overflows 256 bits")
)

// Zero returns a fresh zero amount.
func Zero() *uint256.Int { return new(uint256.Int) }

// Notional returns floor(price * qty / 1e18). The product is computed with a
// 512-bit intermediate; the bool reports whether the result does not fit in 256 bits.
func Notional(price, qty *uint256.Int) (*uint256.Int, bool) {
	return new(uint256.Int).MulDivOverflow(price, qty, One)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// ParseUnits converts a human decimal string ("10", "0.25") into base units.
func ParseUnits(s string) (*uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("fixed: parse %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, ErrNegative
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, ErrPrecision
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// MustUnits is ParseUnits for constants and tests.
func MustUnits(s string) *uint256.Int {
	v, err := ParseUnits(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits renders base units as a human decimal string without trailing zeros.
func FormatUnits(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals).String()
}

// FromDecimalString parses the base-10 integer wire form ("1500000000000000000").
func FromDecimalString(s string) (*uint256.Int, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("fixed: invalid integer %q", s)
	}
	if b.Sign() < 0 {
		return nil, ErrNegative
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// String renders base units in the base-10 integer wire form.
func String(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
