package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoxbook/pkg/crypto"
)

// Verifier checks that a transaction was signed by the trader it names.
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify returns the trader that signed tx. A signature from anyone other than
// the payload's trader is ErrBadSignature.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	if err := tx.Validate(); err != nil {
		return common.Address{}, err
	}
	msg, err := tx.Message()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}

	signer, err := v.eip712Signer.Recover(msg, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != msg.Signer() {
		return common.Address{}, fmt.Errorf("%w: signed by %s, claims %s", ErrBadSignature, signer.Hex(), msg.Signer().Hex())
	}
	return signer, nil
}

// Sign fills tx.Signature using signer.
func Sign(tx *SignedTransaction, e *crypto.EIP712Signer, signer *crypto.Signer) error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}
	sig, err := e.Sign(signer, msg)
	if err != nil {
		return err
	}
	tx.Signature = fmt.Sprintf("0x%x", sig)
	return nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sigBytes, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex signature: %v", ErrBadSignature, err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrBadSignature, len(sigBytes))
	}
	return sigBytes, nil
}
