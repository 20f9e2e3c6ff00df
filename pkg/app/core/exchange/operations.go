package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/events"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
	"github.com/uhyunpark/stoxbook/pkg/storage"
)

// CancelOrder removes the trader's resting order on side and releases its
// remaining collateral to escrow. Fills already credited are untouched.
func (e *Exchange) CancelOrder(ctx context.Context, trader common.Address, side orderbook.Side) (*orderbook.Order, error) {
	e.mu.Lock()
	start := time.Now()
	o, evs, err := e.cancelLocked(trader, side)
	if err != nil {
		e.reject("cancel", err)
	} else {
		e.metrics.Cancelled()
		e.refreshGauges()
	}
	e.metrics.Observe("cancel", start)
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	e.publish(ctx, evs)
	return o, nil
}

func (e *Exchange) cancelLocked(trader common.Address, side orderbook.Side) (*orderbook.Order, []events.Event, error) {
	if err := e.breaker.Check(trader, breaker.OpCancel); err != nil {
		return nil, nil, err
	}
	o, ok := e.book.Get(trader, side)
	if !ok {
		return nil, nil, fmt.Errorf("cancel %s %s: %w", trader.Hex(), side, ErrOrderNotFound)
	}

	asset := collateralAsset(side)
	refund := map[escrow.Key]*uint256.Int{}
	if !o.Locked.IsZero() {
		refund[escrow.Key{Trader: trader, Asset: asset}] = o.Locked.Clone()
	}
	cs := &storage.Changeset{
		DeleteOrders: []storage.OrderRef{{Trader: trader, Side: side}},
		Escrow:       e.escrowChanges(refund),
	}
	if err := e.store.Commit(cs); err != nil {
		return nil, nil, fmt.Errorf("persist cancel: %w", err)
	}

	if _, err := e.book.RemoveByTrader(trader, side); err != nil {
		return nil, nil, err
	}
	e.escrow.Credit(trader, asset, o.Locked)

	e.logger.Info("order cancelled",
		zap.Stringer("trader", trader),
		zap.Stringer("side", side),
		zap.String("price", fixed.FormatUnits(o.Price)),
		zap.String("released", fixed.FormatUnits(o.Locked)))

	ev := events.Event{
		Type:      events.TypeOrderClose,
		Seq:       e.seq,
		Trader:    trader.Hex(),
		Side:      side.String(),
		Price:     fixed.String(o.Price),
		Quantity:  fixed.String(o.Quantity),
		Reason:    "cancelled",
		Timestamp: e.clock.Now().UTC(),
	}
	return o.Clone(), []events.Event{ev}, nil
}

// Withdraw pays out the trader's whole escrow balance of asset through the
// token ledger. A zero balance returns zero without touching the ledger. If the
// transfer fails the balance is restored and ErrTransferFailed is returned.
func (e *Exchange) Withdraw(ctx context.Context, trader common.Address, asset escrow.Asset) (*uint256.Int, error) {
	e.mu.Lock()
	start := time.Now()
	amount, evs, err := e.withdrawLocked(ctx, trader, asset)
	if err != nil {
		e.reject("withdraw", err)
	} else if !amount.IsZero() {
		e.metrics.Withdrawn(asset.String())
	}
	e.metrics.Observe("withdraw", start)
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	e.publish(ctx, evs)
	return amount, nil
}

// WithdrawAll withdraws both assets. The security withdrawal is attempted even
// if the cash one fails; the first error is returned.
func (e *Exchange) WithdrawAll(ctx context.Context, trader common.Address) (cash, security *uint256.Int, err error) {
	cash, cashErr := e.Withdraw(ctx, trader, escrow.Cash)
	security, secErr := e.Withdraw(ctx, trader, escrow.Security)
	if cashErr != nil {
		return cash, security, cashErr
	}
	return cash, security, secErr
}

func (e *Exchange) withdrawLocked(ctx context.Context, trader common.Address, asset escrow.Asset) (*uint256.Int, []events.Event, error) {
	if !asset.Valid() {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidAsset, asset)
	}
	if err := e.breaker.Check(trader, breaker.OpWithdraw); err != nil {
		return nil, nil, err
	}

	amount := e.escrow.Take(trader, asset)
	if amount.IsZero() {
		return amount, nil, nil
	}
	zeroed := &storage.Changeset{Escrow: []escrow.Balance{{Trader: trader, Asset: asset, Amount: new(uint256.Int)}}}
	if err := e.store.Commit(zeroed); err != nil {
		e.escrow.Restore(trader, asset, amount)
		return nil, nil, fmt.Errorf("persist withdrawal: %w", err)
	}

	ledger := e.Ledger(asset)
	if err := ledger.Transfer(ctx, e.self, trader, amount); err != nil {
		e.escrow.Restore(trader, asset, amount)
		restored := &storage.Changeset{Escrow: []escrow.Balance{{Trader: trader, Asset: asset, Amount: amount}}}
		if cerr := e.store.Commit(restored); cerr != nil {
			e.logger.Error("failed to persist restored escrow",
				zap.Stringer("trader", trader), zap.Stringer("asset", asset), zap.Error(cerr))
		}
		return nil, nil, fmt.Errorf("%w: %s to %s: %w", ErrTransferFailed, ledger.Symbol(), trader.Hex(), err)
	}

	e.logger.Info("withdrawal",
		zap.Stringer("trader", trader),
		zap.Stringer("asset", asset),
		zap.String("amount", fixed.FormatUnits(amount)))

	ev := events.Event{
		Type:      events.TypeWithdrawal,
		Seq:       e.seq,
		Trader:    trader.Hex(),
		Asset:     asset.String(),
		Amount:    fixed.String(amount),
		Timestamp: e.clock.Now().UTC(),
	}
	return amount, []events.Event{ev}, nil
}

// Pause halts gated operations. Only a privileged caller may pause; pausing
// an already paused book fails with ErrInvalidState.
func (e *Exchange) Pause(ctx context.Context, caller common.Address) error {
	return e.setBreaker(ctx, caller, breaker.Paused)
}

// Unpause resumes trading. Same rules as Pause.
func (e *Exchange) Unpause(ctx context.Context, caller common.Address) error {
	return e.setBreaker(ctx, caller, breaker.Active)
}

func (e *Exchange) setBreaker(ctx context.Context, caller common.Address, to breaker.State) error {
	e.mu.Lock()
	op := "pause"
	check := e.breaker.CanPause
	if to == breaker.Active {
		op = "unpause"
		check = e.breaker.CanUnpause
	}

	err := check(caller)
	if err == nil {
		if cerr := e.store.Commit(&storage.Changeset{Breaker: ptr(to)}); cerr != nil {
			err = fmt.Errorf("persist %s: %w", op, cerr)
		}
	}
	if err != nil {
		e.reject(op, err)
		e.mu.Unlock()
		return err
	}
	e.breaker.SetState(to)
	e.refreshGauges()
	seq := e.seq
	e.mu.Unlock()

	e.logger.Info("circuit breaker", zap.String("op", op), zap.Stringer("caller", caller))
	e.publish(ctx, []events.Event{{
		Type:      events.TypeBreaker,
		Seq:       seq,
		Trader:    caller.Hex(),
		State:     to.String(),
		Timestamp: e.clock.Now().UTC(),
	}})
	return nil
}

// UseNonce records nonce as spent for trader. Nonces must strictly increase.
func (e *Exchange) UseNonce(trader common.Address, nonce uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last := e.nonces[trader]; nonce <= last {
		return fmt.Errorf("%w: got %d, last %d", ErrInvalidNonce, nonce, last)
	}
	if err := e.store.Commit(&storage.Changeset{Nonces: map[common.Address]uint64{trader: nonce}}); err != nil {
		return fmt.Errorf("persist nonce: %w", err)
	}
	e.nonces[trader] = nonce
	return nil
}

// Nonce returns the last nonce accepted for trader (0 if none).
func (e *Exchange) Nonce(trader common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces[trader]
}
