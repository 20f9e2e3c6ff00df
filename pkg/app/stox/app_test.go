package stox

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/exchange"
	"github.com/uhyunpark/stoxbook/pkg/app/core/mempool"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/app/core/transaction"
	"github.com/uhyunpark/stoxbook/pkg/crypto"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
	"github.com/uhyunpark/stoxbook/pkg/token"
)

var bookAddr = common.HexToAddress("0x0000000000000000000000000000000000000b00")

type recordingLog struct{ lines []string }

func (r *recordingLog) Append(line string) { r.lines = append(r.lines, line) }

type harness struct {
	app    *App
	cash   *token.MemoryLedger
	sec    *token.MemoryLedger
	log    *recordingLog
	eip712 *crypto.EIP712Signer
	owner  *crypto.Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	owner, err := crypto.GenerateKey()
	require.NoError(t, err)
	domain := crypto.DefaultDomain()
	domain.VerifyingContract = bookAddr

	h := &harness{
		cash:   token.NewMemoryLedger("STOX"),
		sec:    token.NewMemoryLedger("NVDA"),
		log:    &recordingLog{},
		eip712: crypto.NewEIP712Signer(domain),
		owner:  owner,
	}
	ex, err := exchange.New(bookAddr, h.cash, h.sec, breaker.NewOwnerAuthorizer(owner.Address()))
	require.NoError(t, err)
	h.app = NewApp(ex, transaction.NewVerifier(domain), h.log, nil)
	return h
}

func (h *harness) submit(t *testing.T, signer *crypto.Signer, tx *transaction.SignedTransaction) (*Receipt, error) {
	t.Helper()
	require.NoError(t, transaction.Sign(tx, h.eip712, signer))
	raw, err := tx.Serialize()
	require.NoError(t, err)
	return h.app.ApplySignedTx(context.Background(), raw)
}

func units(s string) string { return fixed.MustUnits(s).Dec() }

func TestSignedFlow(t *testing.T) {
	h := newHarness(t)
	alice, _ := crypto.GenerateKey()
	bob, _ := crypto.GenerateKey()
	require.NoError(t, h.cash.Mint(alice.Address(), fixed.MustUnits("100")))
	require.NoError(t, h.sec.Mint(bob.Address(), fixed.MustUnits("10")))

	_, err := h.submit(t, alice, &transaction.SignedTransaction{Type: transaction.TxTypeApprove,
		Approve: &transaction.ApprovePayload{Token: "STOX", Amount: units("100"), Nonce: "1", Trader: alice.Address().Hex()}})
	require.NoError(t, err)
	_, err = h.submit(t, bob, &transaction.SignedTransaction{Type: transaction.TxTypeApprove,
		Approve: &transaction.ApprovePayload{Token: "NVDA", Amount: units("10"), Nonce: "1", Trader: bob.Address().Hex()}})
	require.NoError(t, err)

	_, err = h.submit(t, bob, &transaction.SignedTransaction{Type: transaction.TxTypeOrder,
		Order: &transaction.OrderPayload{Side: 2, Price: units("10"), Quantity: units("3"), Nonce: "2", Trader: bob.Address().Hex()}})
	require.NoError(t, err)

	r, err := h.submit(t, alice, &transaction.SignedTransaction{Type: transaction.TxTypeOrder,
		Order: &transaction.OrderPayload{Side: 1, Price: units("10"), Quantity: units("2"), Nonce: "2", Trader: alice.Address().Hex()}})
	require.NoError(t, err)
	require.Len(t, r.Place.Fills, 1)
	assert.Equal(t, alice.Address(), r.Trader)

	r, err = h.submit(t, bob, &transaction.SignedTransaction{Type: transaction.TxTypeWithdraw,
		Withdraw: &transaction.WithdrawPayload{Asset: 0, Nonce: "3", Trader: bob.Address().Hex()}})
	require.NoError(t, err)
	assert.Equal(t, units("20"), r.Withdrawn[escrow.Cash].Dec())
	assert.True(t, r.Withdrawn[escrow.Security].IsZero())

	r, err = h.submit(t, bob, &transaction.SignedTransaction{Type: transaction.TxTypeCancel,
		Cancel: &transaction.CancelPayload{Side: 2, Nonce: "4", Trader: bob.Address().Hex()}})
	require.NoError(t, err)
	assert.Equal(t, units("1"), r.Cancelled.Quantity.Dec())

	assert.Len(t, h.log.lines, 6)
	assert.True(t, strings.Contains(h.log.lines[0], `"type":"approve"`))
}

func TestReplayRejected(t *testing.T) {
	h := newHarness(t)
	alice, _ := crypto.GenerateKey()
	tx := &transaction.SignedTransaction{Type: transaction.TxTypeWithdraw,
		Withdraw: &transaction.WithdrawPayload{Asset: 1, Nonce: "1", Trader: alice.Address().Hex()}}
	_, err := h.submit(t, alice, tx)
	require.NoError(t, err)

	raw, _ := tx.Serialize()
	_, err = h.app.ApplySignedTx(context.Background(), raw)
	assert.ErrorIs(t, err, exchange.ErrInvalidNonce)
	assert.Len(t, h.log.lines, 1)
}

func TestFailedOperationConsumesNonce(t *testing.T) {
	h := newHarness(t)
	alice, _ := crypto.GenerateKey()
	_, err := h.submit(t, alice, &transaction.SignedTransaction{Type: transaction.TxTypeCancel,
		Cancel: &transaction.CancelPayload{Side: 1, Nonce: "5", Trader: alice.Address().Hex()}})
	assert.ErrorIs(t, err, orderbook.ErrOrderNotFound)
	assert.Equal(t, uint64(5), h.app.Exchange().Nonce(alice.Address()))
}

func TestAdminTransactions(t *testing.T) {
	h := newHarness(t)
	alice, _ := crypto.GenerateKey()

	_, err := h.submit(t, alice, &transaction.SignedTransaction{Type: transaction.TxTypePause,
		Admin: &transaction.AdminPayload{Nonce: "1", Trader: alice.Address().Hex()}})
	assert.ErrorIs(t, err, exchange.ErrUnauthorized)

	_, err = h.submit(t, h.owner, &transaction.SignedTransaction{Type: transaction.TxTypePause,
		Admin: &transaction.AdminPayload{Nonce: "1", Trader: h.owner.Address().Hex()}})
	require.NoError(t, err)
	assert.Equal(t, breaker.Paused, h.app.Exchange().BreakerState())

	_, err = h.submit(t, h.owner, &transaction.SignedTransaction{Type: transaction.TxTypeUnpause,
		Admin: &transaction.AdminPayload{Nonce: "2", Trader: h.owner.Address().Hex()}})
	require.NoError(t, err)
	assert.Equal(t, breaker.Active, h.app.Exchange().BreakerState())
}

func TestUnknownTokenAndForgery(t *testing.T) {
	h := newHarness(t)
	alice, _ := crypto.GenerateKey()
	mallory, _ := crypto.GenerateKey()

	_, err := h.submit(t, alice, &transaction.SignedTransaction{Type: transaction.TxTypeApprove,
		Approve: &transaction.ApprovePayload{Token: "DOGE", Amount: "1", Nonce: "1", Trader: alice.Address().Hex()}})
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = h.submit(t, mallory, &transaction.SignedTransaction{Type: transaction.TxTypeWithdraw,
		Withdraw: &transaction.WithdrawPayload{Asset: 1, Nonce: "9", Trader: alice.Address().Hex()}})
	assert.ErrorIs(t, err, transaction.ErrBadSignature)
	assert.Equal(t, uint64(1), h.app.Exchange().Nonce(alice.Address()), "forged request consumed a nonce")
}

func TestGeneratorFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gen, err := NewSignedTxGenerator(4, h.eip712.Domain(), 100, 7)
	require.NoError(t, err)
	require.NoError(t, FundTraders(ctx, h.app, gen, h.cash, h.sec, "1000000"))

	for _, s := range gen.Signers() {
		allowance, err := h.cash.Allowance(ctx, s.Address(), bookAddr)
		require.NoError(t, err)
		assert.Equal(t, 0, allowance.ToBig().Cmp(maxAllowance))
		assert.Equal(t, uint64(2), gen.GetNonce(s.Address()))
	}

	accepted := 0
	for _, tx := range gen.GenerateBatch(200) {
		if _, err := h.app.ApplySignedTx(ctx, tx); err == nil {
			accepted++
		} else {
			assert.NotErrorIs(t, err, transaction.ErrBadSignature)
			assert.NotErrorIs(t, err, exchange.ErrInvalidNonce)
		}
	}
	assert.Positive(t, accepted)

	ex := h.app.Exchange()
	held, _ := h.cash.BalanceOf(ctx, bookAddr)
	assert.Equal(t, ex.Liabilities(escrow.Cash).Dec(), held.Dec())
	held, _ = h.sec.BalanceOf(ctx, bookAddr)
	assert.Equal(t, ex.Liabilities(escrow.Security).Dec(), held.Dec())
}

func TestCents(t *testing.T) {
	assert.Equal(t, 0, cents(150).Cmp(new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))))
}

func TestTxFeederAppliesFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gen, err := NewSignedTxGenerator(6, h.eip712.Domain(), 100, 3)
	require.NoError(t, err)
	require.NoError(t, FundTraders(ctx, h.app, gen, h.cash, h.sec, "1000000"))
	traders := gen.Signers()

	cfg := DefaultFeederConfig()
	cfg.BatchSize = len(traders)
	cfg.Interval = 5 * time.Millisecond
	stop := StartTxFeeder(ctx, h.app, gen, cfg, zap.NewNop())

	ex := h.app.Exchange()
	assert.Eventually(t, func() bool { return ex.Seq() > 20 }, 5*time.Second, 10*time.Millisecond)
	stop()

	// every trader moved past its two approvals: batches never strand a nonce
	assert.Eventually(t, func() bool {
		for _, s := range traders {
			if ex.Nonce(s.Address()) <= 2 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFeedTickKeepsNonceOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gen, err := NewSignedTxGenerator(3, h.eip712.Domain(), 100, 11)
	require.NoError(t, err)
	require.NoError(t, FundTraders(ctx, h.app, gen, h.cash, h.sec, "1000000"))

	pool := mempool.NewMempool()
	total := 0
	for i := 0; i < 40; i++ {
		// batch larger than the trader count
		ok, errs := feedTick(ctx, h.app, gen, pool, 10)
		total += ok
		for _, err := range errs {
			require.NotErrorIs(t, err, exchange.ErrInvalidNonce)
		}
		require.Zero(t, pool.Len())
	}
	assert.Positive(t, total)
	for _, s := range gen.Signers() {
		assert.Equal(t, gen.GetNonce(s.Address()), h.app.Exchange().Nonce(s.Address()))
	}
}

func TestGeneratorNeedsTraders(t *testing.T) {
	_, err := NewSignedTxGenerator(0, crypto.DefaultDomain(), 100, 1)
	assert.Error(t, err)
}
