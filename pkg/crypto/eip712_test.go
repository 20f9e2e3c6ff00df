package crypto

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testDomain() EIP712Domain {
	d := DefaultDomain()
	d.VerifyingContract = common.HexToAddress("0x0000000000000000000000000000000000000b00")
	return d
}

func TestEIP712SignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(testDomain())
	one := big.NewInt(1)

	msgs := []TypedMessage{
		PlaceOrderEIP712{Side: 1, Price: big.NewInt(10), Quantity: big.NewInt(2), Nonce: one, Trader: signer.Address()},
		CancelEIP712{Side: 2, Nonce: one, Trader: signer.Address()},
		WithdrawEIP712{Asset: 1, Nonce: one, Trader: signer.Address()},
		ApproveEIP712{Token: "STOX", Amount: big.NewInt(1000), Nonce: one, Trader: signer.Address()},
		AdminEIP712{Action: "pause", Nonce: one, Trader: signer.Address()},
	}
	for _, msg := range msgs {
		t.Run(msg.PrimaryType(), func(t *testing.T) {
			sig, err := e.Sign(signer, msg)
			if err != nil {
				t.Fatalf("sign: %v", err)
			}
			ok, err := e.Verify(msg, sig)
			if err != nil || !ok {
				t.Fatalf("verify = %v, %v", ok, err)
			}
		})
	}
}

func TestEIP712TamperedMessage(t *testing.T) {
	signer, _ := GenerateKey()
	e := NewEIP712Signer(testDomain())
	order := PlaceOrderEIP712{Side: 1, Price: big.NewInt(10), Quantity: big.NewInt(2), Nonce: big.NewInt(1), Trader: signer.Address()}
	sig, err := e.Sign(signer, order)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	order.Price = big.NewInt(11)
	ok, err := e.Verify(order, sig)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Error("signature verified for a different price")
	}
}

func TestEIP712DomainSeparation(t *testing.T) {
	signer, _ := GenerateKey()
	cancel := CancelEIP712{Side: 1, Nonce: big.NewInt(7), Trader: signer.Address()}

	a := NewEIP712Signer(testDomain())
	other := testDomain()
	other.VerifyingContract = common.HexToAddress("0x0000000000000000000000000000000000000c00")
	b := NewEIP712Signer(other)

	ha, err := a.Hash(cancel)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.Hash(cancel)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(ha, hb) {
		t.Error("different books produced the same digest")
	}

	// same fields, different primary type
	w := WithdrawEIP712{Asset: 1, Nonce: big.NewInt(7), Trader: signer.Address()}
	hw, _ := a.Hash(w)
	if bytes.Equal(ha, hw) {
		t.Error("cancel and withdraw digests collide")
	}
}

func TestEIP712ToJSON(t *testing.T) {
	e := NewEIP712Signer(testDomain())
	out, err := e.ToJSON(AdminEIP712{Action: "unpause", Nonce: big.NewInt(3), Trader: common.HexToAddress("0x01")})
	if err != nil {
		t.Fatal(err)
	}
	var parsed struct {
		PrimaryType string                 `json:"primaryType"`
		Message     map[string]interface{} `json:"message"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.PrimaryType != "Admin" {
		t.Errorf("primaryType = %q", parsed.PrimaryType)
	}
	if parsed.Message["action"] != "unpause" {
		t.Errorf("action = %v", parsed.Message["action"])
	}
}

func TestSideConversions(t *testing.T) {
	if SideToUint8("BUY") != 1 || SideToUint8("sell") != 2 || SideToUint8("hold") != 0 {
		t.Error("SideToUint8 mismatch")
	}
	if Uint8ToSide(2) != "sell" || Uint8ToSide(9) != "unknown" {
		t.Error("Uint8ToSide mismatch")
	}
}
