package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoxbook/pkg/app/core/transaction"
	"github.com/uhyunpark/stoxbook/pkg/crypto"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

// sign-order builds and signs one request for the book. Amounts are in whole
// units ("12.5") and converted to 18-decimal base units.
//
//	sign-order -key 0x... -action order -side buy -price 120.5 -qty 2 -nonce 3
func main() {
	var (
		keyHex   = flag.String("key", "", "hex private key (new key generated when empty)")
		action   = flag.String("action", "order", "order | cancel | withdraw | approve | pause | unpause")
		side     = flag.String("side", "buy", "buy | sell (order, cancel)")
		price    = flag.String("price", "", "limit price in cash units (order)")
		qty      = flag.String("qty", "", "quantity in security units (order)")
		asset    = flag.Uint("asset", 0, "0 both, 1 cash, 2 security (withdraw)")
		tokenSym = flag.String("token", "STOX", "token symbol (approve)")
		amount   = flag.String("amount", "", "allowance in token units (approve)")
		nonce    = flag.Uint64("nonce", 1, "request nonce, strictly increasing per trader")
		chainID  = flag.Int64("chain-id", 1337, "EIP-712 chain id")
		book     = flag.String("book", "0x0000000000000000000000000000000000000b00", "book address (EIP-712 verifying contract)")
	)
	flag.Parse()

	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key", err)
	}
	if !common.IsHexAddress(*book) {
		fail("book", fmt.Errorf("invalid address %q", *book))
	}

	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	domain.VerifyingContract = common.HexToAddress(*book)

	trader := signer.Address().Hex()
	n := strconv.FormatUint(*nonce, 10)

	tx := &transaction.SignedTransaction{Type: transaction.TxType(*action)}
	switch tx.Type {
	case transaction.TxTypeOrder:
		tx.Order = &transaction.OrderPayload{
			Side:     crypto.SideToUint8(*side),
			Price:    units("price", *price),
			Quantity: units("qty", *qty),
			Nonce:    n,
			Trader:   trader,
		}
	case transaction.TxTypeCancel:
		tx.Cancel = &transaction.CancelPayload{Side: crypto.SideToUint8(*side), Nonce: n, Trader: trader}
	case transaction.TxTypeWithdraw:
		tx.Withdraw = &transaction.WithdrawPayload{Asset: uint8(*asset), Nonce: n, Trader: trader}
	case transaction.TxTypeApprove:
		tx.Approve = &transaction.ApprovePayload{Token: *tokenSym, Amount: units("amount", *amount), Nonce: n, Trader: trader}
	case transaction.TxTypePause, transaction.TxTypeUnpause:
		tx.Admin = &transaction.AdminPayload{Nonce: n, Trader: trader}
	default:
		fail("action", fmt.Errorf("unknown action %q", *action))
	}

	eip712Signer := crypto.NewEIP712Signer(domain)
	if err := transaction.Sign(tx, eip712Signer, signer); err != nil {
		fail("sign", err)
	}

	// Round-trip through the verifier so a bad request never leaves this tool
	recovered, err := transaction.NewVerifier(domain).Verify(tx)
	if err != nil {
		fail("verify", err)
	}

	txJSON, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}

	fmt.Fprintf(os.Stderr, "signer: %s\n", recovered.Hex())
	if *keyHex == "" {
		fmt.Fprintf(os.Stderr, "private key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
	}
	fmt.Fprintf(os.Stderr, "submit: POST http://localhost:8080/api/v1/%s\n", route(tx.Type))
	fmt.Println(string(txJSON))
}

func loadSigner(keyHex string) (*crypto.Signer, error) {
	if keyHex == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(keyHex)
}

func units(name, v string) string {
	if v == "" {
		fail(name, fmt.Errorf("required"))
	}
	amt, err := fixed.ParseUnits(v)
	if err != nil {
		fail(name, err)
	}
	return amt.Dec()
}

func route(t transaction.TxType) string {
	switch t {
	case transaction.TxTypeOrder:
		return "orders"
	case transaction.TxTypeCancel:
		return "orders/cancel"
	case transaction.TxTypePause:
		return "admin/pause"
	case transaction.TxTypeUnpause:
		return "admin/unpause"
	default:
		return string(t)
	}
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", what, err)
	os.Exit(1)
}
