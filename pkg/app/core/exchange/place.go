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

// PlaceResult describes what a placement did. Orders are copies.
type PlaceResult struct {
	Fills    []orderbook.Fill
	Resting  *orderbook.Order // remainder now in the book, nil if fully filled
	Replaced *orderbook.Order // order displaced by the replace or merge policy
	Debited  *uint256.Int     // collateral pulled from the trader's wallet
}

// makerUpdate is the planned effect of one fill on a resting order.
type makerUpdate struct {
	order     *orderbook.Order
	fill      *uint256.Int
	newLocked *uint256.Int
	done      bool
}

// placement is a fully computed, not yet applied, order placement.
type placement struct {
	debit   *uint256.Int
	makers  []makerUpdate
	fills   []orderbook.Fill
	credits map[escrow.Key]*uint256.Int
	removed *orderbook.Order
	resting *orderbook.Order
	seq     uint64
}

func (p *placement) credit(trader common.Address, asset escrow.Asset, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	k := escrow.Key{Trader: trader, Asset: asset}
	if cur, ok := p.credits[k]; ok {
		cur.Add(cur, amount)
		return
	}
	p.credits[k] = amount.Clone()
}

// PlaceOrder crosses a limit order against the opposite side at each resting
// order's price and rests any remainder. Collateral (price*qty cash for a buy,
// qty security for a sell) is pulled from the trader's wallet first. Either the
// whole placement is applied or nothing changes.
func (e *Exchange) PlaceOrder(ctx context.Context, trader common.Address, side orderbook.Side, price, qty *uint256.Int) (*PlaceResult, error) {
	e.mu.Lock()
	start := time.Now()
	res, evs, err := e.placeLocked(ctx, trader, side, price, qty)
	if err != nil {
		e.reject("place", err)
	} else {
		e.metrics.OrderPlaced(side.String())
		e.refreshGauges()
	}
	e.metrics.Observe("place", start)
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	e.publish(ctx, evs)
	return res, nil
}

func (e *Exchange) placeLocked(ctx context.Context, trader common.Address, side orderbook.Side, price, qty *uint256.Int) (*PlaceResult, []events.Event, error) {
	if !side.Valid() {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidOrder, orderbook.ErrInvalidSide)
	}
	if price == nil || price.IsZero() {
		return nil, nil, fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if qty == nil || qty.IsZero() {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidOrder)
	}
	notional, overflow := fixed.Notional(price, qty)
	if overflow {
		return nil, nil, fmt.Errorf("%w: price * quantity overflows", ErrInvalidOrder)
	}
	if side == orderbook.Buy && notional.IsZero() {
		return nil, nil, fmt.Errorf("%w: notional truncates to zero", ErrInvalidOrder)
	}
	if err := e.breaker.Check(trader, breaker.OpPlace); err != nil {
		return nil, nil, err
	}

	existing, hasExisting := e.book.Get(trader, side)
	if hasExisting && e.cfg.ExistingOrders == PolicyReject {
		return nil, nil, fmt.Errorf("%s %s: %w", trader.Hex(), side, ErrOrderExists)
	}

	lock := qty.Clone()
	if side == orderbook.Buy {
		lock = notional
	}

	p, err := e.plan(trader, side, price, qty, lock)
	if err != nil {
		return nil, nil, err
	}

	if hasExisting {
		switch e.cfg.ExistingOrders {
		case PolicyReplace:
			p.removed = existing
			p.credit(trader, collateralAsset(side), existing.Locked)
		case PolicyMerge:
			if p.resting != nil {
				if err := p.merge(existing); err != nil {
					return nil, nil, err
				}
			}
		}
	}

	if p.resting != nil && e.cfg.MaxDepth > 0 {
		depth := e.book.Len(side)
		if p.removed != nil {
			depth--
		}
		if depth >= e.cfg.MaxDepth {
			return nil, nil, fmt.Errorf("%s side at %d orders: %w", side, e.cfg.MaxDepth, ErrBookFull)
		}
	}

	ledger := e.Ledger(collateralAsset(side))
	if err := ledger.TransferFrom(ctx, e.self, trader, e.self, p.debit); err != nil {
		return nil, nil, fmt.Errorf("lock %s collateral: %w", ledger.Symbol(), err)
	}

	if err := e.store.Commit(e.placementChangeset(p)); err != nil {
		e.refundDebit(ctx, trader, side, p.debit)
		return nil, nil, fmt.Errorf("persist placement: %w", err)
	}

	return e.applyPlacement(trader, side, p)
}

// plan walks the opposite side without mutating anything.
func (e *Exchange) plan(trader common.Address, side orderbook.Side, price, qty, lock *uint256.Int) (*placement, error) {
	now := e.clock.Now().UTC()
	p := &placement{
		debit:   lock.Clone(),
		credits: make(map[escrow.Key]*uint256.Int),
		seq:     e.seq,
	}
	remaining := qty.Clone()
	takerLocked := lock.Clone()

	var walkErr error
	e.book.Walk(side.Opposite(), func(m *orderbook.Order) bool {
		if remaining.IsZero() || !orderbook.Crosses(side, price, m.Price) {
			return false
		}
		fill := fixed.Min(remaining, m.Quantity)
		cash, overflow := fixed.Notional(m.Price, fill)
		if overflow {
			walkErr = fmt.Errorf("%w: fill notional overflows", ErrInvalidOrder)
			return false
		}
		remaining.Sub(remaining, fill)

		u := makerUpdate{order: m, fill: fill}
		var buyer, seller common.Address
		var underflow bool
		if side == orderbook.Buy {
			buyer, seller = trader, m.Trader
			if takerLocked, underflow = new(uint256.Int).SubOverflow(takerLocked, cash); underflow {
				walkErr = fmt.Errorf("buy collateral exhausted at fill %d", len(p.fills)+1)
				return false
			}
			u.newLocked, underflow = new(uint256.Int).SubOverflow(m.Locked, fill)
		} else {
			buyer, seller = m.Trader, trader
			takerLocked, underflow = new(uint256.Int).SubOverflow(takerLocked, fill)
			if !underflow {
				u.newLocked, underflow = new(uint256.Int).SubOverflow(m.Locked, cash)
			}
		}
		if underflow {
			walkErr = fmt.Errorf("collateral underflow against %s", m.Trader.Hex())
			return false
		}

		p.credit(buyer, escrow.Security, fill)
		p.credit(seller, escrow.Cash, cash)

		if fill.Eq(m.Quantity) {
			u.done = true
			p.credit(m.Trader, collateralAsset(m.Side), u.newLocked)
			u.newLocked = new(uint256.Int)
		}
		p.makers = append(p.makers, u)

		p.seq++
		p.fills = append(p.fills, orderbook.Fill{
			ID:        newFillID(),
			Seq:       p.seq,
			Taker:     trader,
			Maker:     m.Trader,
			TakerSide: side,
			Price:     m.Price.Clone(),
			Quantity:  fill,
			Cash:      cash,
			Timestamp: now,
		})
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if remaining.IsZero() {
		p.credit(trader, collateralAsset(side), takerLocked)
		return p, nil
	}
	p.seq++
	p.resting = &orderbook.Order{
		Trader:    trader,
		Side:      side,
		Price:     price.Clone(),
		Quantity:  remaining,
		Locked:    takerLocked,
		Seq:       p.seq,
		CreatedAt: now,
	}
	return p, nil
}

// merge folds the planned remainder into the trader's existing order on the
// same side. A buy is re-collateralized at the new price: any shortfall is
// added to the debit, any surplus is released to escrow.
func (p *placement) merge(existing *orderbook.Order) error {
	r := p.resting
	qty, overflow := new(uint256.Int).AddOverflow(existing.Quantity, r.Quantity)
	if overflow {
		return fmt.Errorf("%w: merged quantity overflows", ErrInvalidOrder)
	}
	have, overflow := new(uint256.Int).AddOverflow(existing.Locked, r.Locked)
	if overflow {
		return fmt.Errorf("%w: merged collateral overflows", ErrInvalidOrder)
	}

	locked := have
	if r.Side == orderbook.Buy {
		need, overflow := fixed.Notional(r.Price, qty)
		if overflow {
			return fmt.Errorf("%w: merged notional overflows", ErrInvalidOrder)
		}
		switch {
		case need.Gt(have):
			p.debit.Add(p.debit, new(uint256.Int).Sub(need, have))
		case have.Gt(need):
			p.credit(r.Trader, escrow.Cash, new(uint256.Int).Sub(have, need))
		}
		locked = need
	}

	p.removed = existing
	r.Quantity = qty
	r.Locked = locked
	return nil
}

func (e *Exchange) placementChangeset(p *placement) *storage.Changeset {
	cs := &storage.Changeset{
		Escrow: e.escrowChanges(p.credits),
		Fills:  p.fills,
		Seq:    ptr(p.seq),
	}
	for _, u := range p.makers {
		if u.done {
			cs.DeleteOrders = append(cs.DeleteOrders, storage.OrderRef{Trader: u.order.Trader, Side: u.order.Side})
			continue
		}
		o := u.order.Clone()
		o.Quantity.Sub(o.Quantity, u.fill)
		o.Locked = u.newLocked.Clone()
		cs.PutOrders = append(cs.PutOrders, o)
	}
	if p.removed != nil {
		cs.DeleteOrders = append(cs.DeleteOrders, storage.OrderRef{Trader: p.removed.Trader, Side: p.removed.Side})
	}
	if p.resting != nil {
		cs.PutOrders = append(cs.PutOrders, p.resting.Clone())
	}
	return cs
}

// refundDebit returns collateral after a failed commit. If even that fails the
// amount is parked in escrow so it stays claimable.
func (e *Exchange) refundDebit(ctx context.Context, trader common.Address, side orderbook.Side, amount *uint256.Int) {
	asset := collateralAsset(side)
	if err := e.Ledger(asset).Transfer(ctx, e.self, trader, amount); err != nil {
		e.logger.Error("collateral refund failed, crediting escrow",
			zap.Stringer("trader", trader),
			zap.Stringer("asset", asset),
			zap.String("amount", amount.Dec()),
			zap.Error(err))
		e.escrow.Credit(trader, asset, amount)
	}
}

func (e *Exchange) applyPlacement(trader common.Address, side orderbook.Side, p *placement) (*PlaceResult, []events.Event, error) {
	var evs []events.Event
	res := &PlaceResult{Fills: p.fills, Debited: p.debit.Clone()}

	for _, u := range p.makers {
		u.order.Locked = u.newLocked
		if e.book.Reduce(u.order, u.fill) {
			evs = append(evs, events.Event{
				Type:      events.TypeOrderClose,
				Seq:       p.seq,
				Trader:    u.order.Trader.Hex(),
				Side:      u.order.Side.String(),
				Price:     fixed.String(u.order.Price),
				Reason:    "filled",
				Timestamp: e.clock.Now().UTC(),
			})
		}
	}
	if p.removed != nil {
		if _, err := e.book.RemoveByTrader(p.removed.Trader, p.removed.Side); err != nil {
			return nil, nil, fmt.Errorf("remove displaced order: %w", err)
		}
		res.Replaced = p.removed.Clone()
	}
	for k, amount := range p.credits {
		e.escrow.Credit(k.Trader, k.Asset, amount)
	}
	if p.resting != nil {
		if err := e.book.Insert(p.resting); err != nil {
			return nil, nil, fmt.Errorf("insert remainder: %w", err)
		}
		res.Resting = p.resting.Clone()
		evs = append(evs, events.Event{
			Type:      events.TypeOrderRest,
			Seq:       p.resting.Seq,
			Trader:    trader.Hex(),
			Side:      side.String(),
			Price:     fixed.String(p.resting.Price),
			Quantity:  fixed.String(p.resting.Quantity),
			Timestamp: p.resting.CreatedAt,
		})
	}
	e.seq = p.seq

	for _, f := range p.fills {
		e.metrics.Fill(toFloat(f.Quantity))
		evs = append(evs, events.FromFill(f))
	}

	e.logger.Info("order placed",
		zap.Stringer("trader", trader),
		zap.Stringer("side", side),
		zap.String("debited", fixed.FormatUnits(p.debit)),
		zap.Int("fills", len(p.fills)),
		zap.Bool("resting", p.resting != nil))
	return res, evs, nil
}

// toFloat converts base units to whole units for metrics only.
func toFloat(v *uint256.Int) float64 {
	f, _ := new(uint256.Int).Div(v, fixed.One).Uint64WithOverflow()
	frac := new(uint256.Int).Mod(v, fixed.One).Uint64()
	return float64(f) + float64(frac)/1e18
}
