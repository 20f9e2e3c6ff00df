package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
)

// Pebble key schema
//
//   ord:<side>:<address>                → resting order (one per trader per side)
//   esc:<address>:<asset>               → escrow balance
//   brk                                 → circuit breaker state
//   seq                                 → last assigned sequence number
//   nonce:<address>                     → last accepted request nonce
//   fill:<seq 20 digits>:<fillID>       → fill history, oldest first
//   tok:<symbol>:bal:<address>          → token ledger balance
//   tok:<symbol>:alw:<owner>:<spender>  → token ledger allowance

const (
	prefixOrder  = "ord:"
	prefixEscrow = "esc:"
	prefixNonce  = "nonce:"
	prefixFill   = "fill:"
	prefixToken  = "tok:"
)

func breakerKey() []byte { return []byte("brk") }
func seqKey() []byte     { return []byte("seq") }

// orderKey returns the key for a resting order
// Format: "ord:{side}:{address}"
func orderKey(trader common.Address, side orderbook.Side) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", prefixOrder, side, trader.Hex()))
}

// escrowKey returns the key for an escrow accumulator
// Format: "esc:{address}:{asset}"
func escrowKey(trader common.Address, asset escrow.Asset) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixEscrow, trader.Hex(), asset))
}

// nonceKey returns the key for an account nonce
// Format: "nonce:{address}"
func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

// fillKey returns the key for a fill
// Note: Seq is zero-padded (20 digits) for lexicographic sorting
func fillKey(seq uint64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixFill, seq, id))
}

func balanceKey(symbol string, owner common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:bal:%s", prefixToken, symbol, owner.Hex()))
}

func balancePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:bal:", prefixToken, symbol))
}

func allowanceKey(symbol string, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:alw:%s:%s", prefixToken, symbol, owner.Hex(), spender.Hex()))
}

func allowancePrefix(symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:alw:", prefixToken, symbol))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "ord:" -> upper bound "ord;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// addressFromKey parses the 0x-prefixed address that starts at offset.
func addressFromKey(key []byte, offset int) (common.Address, error) {
	if len(key) < offset+42 { // 42 = "0x" + 40 hex chars
		return common.Address{}, fmt.Errorf("invalid key length: %d", len(key))
	}
	addrHex := string(key[offset : offset+42])
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, fmt.Errorf("invalid address in key: %s", addrHex)
	}
	return common.HexToAddress(addrHex), nil
}
