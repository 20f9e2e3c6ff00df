package stox

import (
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/stoxbook/pkg/app/core/transaction"
	"github.com/uhyunpark/stoxbook/pkg/crypto"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

// SignedTxGenerator creates signed transactions for simulated traders.
type SignedTxGenerator struct {
	signers []*crypto.Signer
	rng     *rand.Rand
	nonces  map[common.Address]uint64
	eip712  *crypto.EIP712Signer
	mid     int64 // reference price in cents

	// batch holds traders already picked in the current GenerateBatch call
	batch map[common.Address]bool
}

// NewSignedTxGenerator creates numAccounts fresh keys. Prices are drawn within
// 5% of midPrice whole units.
func NewSignedTxGenerator(numAccounts int, domain crypto.EIP712Domain, midPrice int64, seed int64) (*SignedTxGenerator, error) {
	if numAccounts < 1 {
		return nil, fmt.Errorf("need at least one trader, got %d", numAccounts)
	}
	signers := make([]*crypto.Signer, 0, numAccounts)
	for i := 0; i < numAccounts; i++ {
		signer, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("trader %d: %w", i, err)
		}
		signers = append(signers, signer)
	}
	return &SignedTxGenerator{
		signers: signers,
		rng:     rand.New(rand.NewSource(seed)),
		nonces:  make(map[common.Address]uint64),
		eip712:  crypto.NewEIP712Signer(domain),
		mid:     midPrice * 100,
	}, nil
}

func (g *SignedTxGenerator) Signers() []*crypto.Signer { return g.signers }

func (g *SignedTxGenerator) nextNonce(a common.Address) string {
	g.nonces[a]++
	return fmt.Sprintf("%d", g.nonces[a])
}

// pick prefers a trader not yet used in the current batch, so reordering a
// batch by request class never inverts one trader's nonces.
func (g *SignedTxGenerator) pick() *crypto.Signer {
	for {
		s := g.signers[g.rng.Intn(len(g.signers))]
		if g.batch == nil || len(g.batch) >= len(g.signers) || !g.batch[s.Address()] {
			if g.batch != nil {
				g.batch[s.Address()] = true
			}
			return s
		}
	}
}

func (g *SignedTxGenerator) encode(tx *transaction.SignedTransaction, signer *crypto.Signer) ([]byte, error) {
	if err := transaction.Sign(tx, g.eip712, signer); err != nil {
		return nil, err
	}
	return json.Marshal(tx)
}

// cents converts an integer number of hundredths to base units.
func cents(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e16))
}

// GenerateApprove signs an allowance for signer on token.
func (g *SignedTxGenerator) GenerateApprove(signer *crypto.Signer, token string, amount *big.Int) ([]byte, error) {
	return g.encode(&transaction.SignedTransaction{
		Type: transaction.TxTypeApprove,
		Approve: &transaction.ApprovePayload{
			Token:  token,
			Amount: amount.String(),
			Nonce:  g.nextNonce(signer.Address()),
			Trader: signer.Address().Hex(),
		},
	}, signer)
}

// GenerateSignedOrder creates a random limit order.
func (g *SignedTxGenerator) GenerateSignedOrder() ([]byte, error) {
	signer := g.pick()

	side := uint8(1)
	if g.rng.Intn(2) == 1 {
		side = 2
	}
	spread := g.mid / 20
	price := g.mid + g.rng.Int63n(2*spread+1) - spread
	if price < 1 {
		price = 1
	}
	qty := g.rng.Int63n(500) + 1

	order := &crypto.PlaceOrderEIP712{
		Side:     side,
		Price:    cents(price),
		Quantity: cents(qty),
		Nonce:    big.NewInt(0),
		Trader:   signer.Address(),
	}
	payload := transaction.FromEIP712Order(order)
	payload.Nonce = g.nextNonce(signer.Address())
	return g.encode(&transaction.SignedTransaction{Type: transaction.TxTypeOrder, Order: payload}, signer)
}

// GenerateSignedCancel cancels a random side for a random trader. It may
// target a side with nothing resting.
func (g *SignedTxGenerator) GenerateSignedCancel() ([]byte, error) {
	signer := g.pick()
	return g.encode(&transaction.SignedTransaction{
		Type: transaction.TxTypeCancel,
		Cancel: &transaction.CancelPayload{
			Side:   uint8(g.rng.Intn(2) + 1),
			Nonce:  g.nextNonce(signer.Address()),
			Trader: signer.Address().Hex(),
		},
	}, signer)
}

func (g *SignedTxGenerator) GenerateSignedWithdraw() ([]byte, error) {
	signer := g.pick()
	return g.encode(&transaction.SignedTransaction{
		Type: transaction.TxTypeWithdraw,
		Withdraw: &transaction.WithdrawPayload{
			Nonce:  g.nextNonce(signer.Address()),
			Trader: signer.Address().Hex(),
		},
	}, signer)
}

// GenerateBatch returns n transactions: roughly 80% orders, 15% cancels, 5% withdrawals.
// Each trader appears at most once while n does not exceed the number of traders.
func (g *SignedTxGenerator) GenerateBatch(n int) [][]byte {
	g.batch = make(map[common.Address]bool, n)
	defer func() { g.batch = nil }()
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		var (
			tx  []byte
			err error
		)
		switch r := g.rng.Intn(100); {
		case r < 80:
			tx, err = g.GenerateSignedOrder()
		case r < 95:
			tx, err = g.GenerateSignedCancel()
		default:
			tx, err = g.GenerateSignedWithdraw()
		}
		if err == nil {
			out = append(out, tx)
		}
	}
	return out
}

// GetNonce returns the last nonce issued for addr.
func (g *SignedTxGenerator) GetNonce(addr common.Address) uint64 {
	return g.nonces[addr]
}

// maxAllowance is a practically unlimited approval.
var maxAllowance = new(big.Int).Mul(big.NewInt(1e9), fixed.One.ToBig())
