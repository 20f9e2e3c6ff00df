package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestLoadTraderKey(t *testing.T) {
	trader, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	key := trader.PrivateKeyHex()
	if len(key) != 64 || strings.HasPrefix(key, "0x") {
		t.Fatalf("private key hex = %q, want 64 chars without 0x", key)
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"bare hex", key, false},
		{"0x prefix", "0x" + key, false},
		{"padded", "  0x" + key + "\n", false},
		{"truncated", key[:40], true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loaded, err := FromPrivateKeyHex(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("loaded %s from %q", loaded.Address().Hex(), tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if loaded.Address() != trader.Address() {
				t.Errorf("address = %s, want %s", loaded.Address().Hex(), trader.Address().Hex())
			}
		})
	}
}

func TestSignRejectsNonDigest(t *testing.T) {
	trader, _ := GenerateKey()
	for _, n := range []int{0, 31, 33} {
		if _, err := trader.Sign(make([]byte, n)); err == nil {
			t.Errorf("signed a %d-byte input", n)
		}
	}
}

// Wallets such as MetaMask hand back V as 27/28 rather than 0/1.
func TestRecoverOrderWithWalletV(t *testing.T) {
	trader, _ := GenerateKey()
	e := NewEIP712Signer(testDomain())
	order := PlaceOrderEIP712{
		Side:     SideToUint8("sell"),
		Price:    new(big.Int).Mul(big.NewInt(12), big.NewInt(1e18)),
		Quantity: big.NewInt(5e17),
		Nonce:    big.NewInt(7),
		Trader:   trader.Address(),
	}
	digest, err := e.Hash(order)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig, err := trader.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if sig[64] > 1 {
		t.Fatalf("raw V = %d, want 0 or 1", sig[64])
	}

	walletSig := append([]byte(nil), sig...)
	walletSig[64] += 27
	ok, err := e.Verify(order, walletSig)
	if err != nil || !ok {
		t.Fatalf("verify wallet signature = %v, %v", ok, err)
	}
	if walletSig[64] < 27 {
		t.Error("recovery rewrote the caller's signature")
	}
}

func TestCancelSignedForAnotherTrader(t *testing.T) {
	victim, _ := GenerateKey()
	attacker, _ := GenerateKey()
	e := NewEIP712Signer(testDomain())

	cancel := CancelEIP712{Side: SideToUint8("buy"), Nonce: big.NewInt(1), Trader: victim.Address()}
	sig, err := e.Sign(attacker, cancel)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	recovered, err := e.Recover(cancel, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != attacker.Address() {
		t.Errorf("recovered %s, want the actual signer %s", recovered.Hex(), attacker.Address().Hex())
	}
	if ok, _ := e.Verify(cancel, sig); ok {
		t.Error("cancel verified for a trader who did not sign it")
	}
}

func TestRecoverMalformedSignature(t *testing.T) {
	trader, _ := GenerateKey()
	digest := common.HexToHash("0x01").Bytes()
	sig, err := trader.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name   string
		digest []byte
		sig    []byte
	}{
		{"short signature", digest, sig[:64]},
		{"short digest", digest[:20], sig},
		{"zero signature", digest, make([]byte, 65)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := RecoverAddress(tt.digest, tt.sig); err == nil {
				t.Error("recovered an address from malformed input")
			}
			if VerifySignature(trader.Address(), tt.digest, tt.sig) {
				t.Error("malformed input verified")
			}
		})
	}
}
