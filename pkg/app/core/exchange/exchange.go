// Package exchange is the matching and settlement engine: it owns the order
// book, the escrow ledger and the circuit breaker, and serializes every
// operation on them behind one mutex.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/events"
	"github.com/uhyunpark/stoxbook/pkg/metrics"
	"github.com/uhyunpark/stoxbook/pkg/storage"
	"github.com/uhyunpark/stoxbook/pkg/token"
	"github.com/uhyunpark/stoxbook/pkg/util"
)

// Store persists changesets atomically and returns the last committed state.
type Store interface {
	Commit(cs *storage.Changeset) error
	Load() (*storage.Snapshot, error)
	RecentFills(limit int) ([]orderbook.Fill, error)
}

type Exchange struct {
	mu sync.Mutex

	self     common.Address // custody address holding all collateral
	cash     token.Ledger
	security token.Ledger

	book    *orderbook.OrderBook
	escrow  *escrow.Ledger
	breaker *breaker.Breaker
	seq     uint64
	nonces  map[common.Address]uint64

	cfg       Config
	store     Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	clock     util.Clock
}

// New builds an exchange and restores whatever state the store holds.
// self is the address the book uses on both token ledgers.
func New(self common.Address, cash, security token.Ledger, auth breaker.Authorizer, opts ...Option) (*Exchange, error) {
	e := &Exchange{
		self:      self,
		cash:      cash,
		security:  security,
		book:      orderbook.NewOrderBook(),
		escrow:    escrow.NewLedger(),
		nonces:    make(map[common.Address]uint64),
		cfg:       DefaultConfig(),
		publisher: events.NopPublisher{},
		logger:    zap.NewNop(),
		clock:     util.RealClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		e.store = storage.NewMemoryStore()
	}
	e.breaker = breaker.New(auth, e.cfg.Pause)

	if err := e.restore(); err != nil {
		return nil, fmt.Errorf("restore exchange state: %w", err)
	}
	e.metrics.Depth(e.book.Len(orderbook.Buy), e.book.Len(orderbook.Sell))
	e.metrics.Paused(e.breaker.State() == breaker.Paused)
	return e, nil
}

func (e *Exchange) restore() error {
	snap, err := e.store.Load()
	if err != nil {
		return err
	}
	orders := snap.Orders
	sort.Slice(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })
	for _, o := range orders {
		if err := e.book.Insert(o); err != nil {
			return fmt.Errorf("order %s/%s: %w", o.Trader.Hex(), o.Side, err)
		}
	}
	for _, b := range snap.Escrow {
		e.escrow.Set(b.Trader, b.Asset, b.Amount)
	}
	e.breaker.SetState(snap.Breaker)
	e.seq = snap.Seq
	for a, n := range snap.Nonces {
		e.nonces[a] = n
	}
	if len(orders) > 0 || len(snap.Escrow) > 0 {
		e.logger.Info("exchange state restored",
			zap.Int("orders", len(orders)),
			zap.Int("escrow_balances", len(snap.Escrow)),
			zap.Uint64("seq", e.seq),
			zap.Stringer("breaker", e.breaker.State()))
	}
	return nil
}

// Address is the custody address traders approve on both ledgers.
func (e *Exchange) Address() common.Address { return e.self }

func (e *Exchange) Config() Config { return e.cfg }

// Ledger returns the token ledger backing asset.
func (e *Exchange) Ledger(asset escrow.Asset) token.Ledger {
	if asset == escrow.Security {
		return e.security
	}
	return e.cash
}

// collateralAsset is what an order on side locks: cash for a buy, security for a sell.
func collateralAsset(side orderbook.Side) escrow.Asset {
	if side == orderbook.Buy {
		return escrow.Cash
	}
	return escrow.Security
}

// escrowChanges turns credit deltas into absolute balances for the store.
func (e *Exchange) escrowChanges(credits map[escrow.Key]*uint256.Int) []escrow.Balance {
	out := make([]escrow.Balance, 0, len(credits))
	for k, delta := range credits {
		cur := e.escrow.Withdrawable(k.Trader, k.Asset)
		out = append(out, escrow.Balance{Trader: k.Trader, Asset: k.Asset, Amount: cur.Add(cur, delta)})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Trader.Cmp(out[j].Trader); c != 0 {
			return c < 0
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

func (e *Exchange) publish(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, evs...); err != nil {
		e.logger.Warn("event publish failed", zap.Int("events", len(evs)), zap.Error(err))
	}
}

func (e *Exchange) reject(op string, err error) {
	e.metrics.Rejected(op, Reason(err))
	e.logger.Debug("operation rejected", zap.String("op", op), zap.Error(err))
}

func (e *Exchange) refreshGauges() {
	e.metrics.Depth(e.book.Len(orderbook.Buy), e.book.Len(orderbook.Sell))
	e.metrics.Paused(e.breaker.State() == breaker.Paused)
}

func newFillID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func ptr[T any](v T) *T { return &v }
