// Package stox turns signed trader requests into exchange operations.
package stox

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/exchange"
	"github.com/uhyunpark/stoxbook/pkg/app/core/orderbook"
	"github.com/uhyunpark/stoxbook/pkg/app/core/transaction"
	"github.com/uhyunpark/stoxbook/pkg/storage"
	"github.com/uhyunpark/stoxbook/pkg/token"
)

var ErrUnknownToken = errors.New("unknown token")

type App struct {
	ex       *exchange.Exchange
	verifier *transaction.Verifier
	requests storage.RequestLog
	logger   *zap.Logger
}

func NewApp(ex *exchange.Exchange, verifier *transaction.Verifier, requests storage.RequestLog, logger *zap.Logger) *App {
	if requests == nil {
		requests = storage.NewNopWAL()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{ex: ex, verifier: verifier, requests: requests, logger: logger}
}

func (a *App) Exchange() *exchange.Exchange { return a.ex }

// Ledger finds the book's cash or security ledger by symbol.
func (a *App) Ledger(symbol string) (token.Ledger, error) {
	for _, asset := range []escrow.Asset{escrow.Cash, escrow.Security} {
		if l := a.ex.Ledger(asset); l.Symbol() == symbol {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownToken, symbol)
}

// Receipt is the outcome of one applied transaction. Only the field for the
// transaction's type is set.
type Receipt struct {
	Type      transaction.TxType
	Trader    common.Address
	Nonce     uint64
	Place     *exchange.PlaceResult
	Cancelled *orderbook.Order
	Withdrawn map[escrow.Asset]*uint256.Int
}

// ApplySignedTx parses, verifies and applies a JSON transaction.
func (a *App) ApplySignedTx(ctx context.Context, raw []byte) (*Receipt, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return nil, err
	}
	return a.Apply(ctx, tx)
}

// Apply verifies tx and runs it. The nonce is consumed before the operation
// runs, so a rejected operation cannot be replayed either.
func (a *App) Apply(ctx context.Context, tx *transaction.SignedTransaction) (*Receipt, error) {
	trader, err := a.verifier.Verify(tx)
	if err != nil {
		a.logger.Debug("transaction rejected", zap.String("type", string(tx.Type)), zap.Error(err))
		return nil, err
	}
	nonce, err := tx.Nonce()
	if err != nil {
		return nil, err
	}
	if err := a.ex.UseNonce(trader, nonce); err != nil {
		return nil, err
	}
	if line, err := tx.Serialize(); err == nil {
		a.requests.Append(string(line))
	}

	r := &Receipt{Type: tx.Type, Trader: trader, Nonce: nonce}
	switch tx.Type {
	case transaction.TxTypeOrder:
		err = a.placeOrder(ctx, tx.Order, trader, r)
	case transaction.TxTypeCancel:
		r.Cancelled, err = a.ex.CancelOrder(ctx, trader, orderbook.Side(tx.Cancel.Side))
	case transaction.TxTypeWithdraw:
		err = a.withdraw(ctx, tx.Withdraw, trader, r)
	case transaction.TxTypeApprove:
		err = a.approve(ctx, tx.Approve, trader)
	case transaction.TxTypePause:
		err = a.ex.Pause(ctx, trader)
	case transaction.TxTypeUnpause:
		err = a.ex.Unpause(ctx, trader)
	}
	if err != nil {
		a.logger.Info("transaction failed",
			zap.String("type", string(tx.Type)),
			zap.Stringer("trader", trader),
			zap.Uint64("nonce", nonce),
			zap.Error(err))
		return nil, err
	}
	return r, nil
}

func (a *App) placeOrder(ctx context.Context, p *transaction.OrderPayload, trader common.Address, r *Receipt) error {
	order, err := p.ToEIP712()
	if err != nil {
		return err
	}
	price, overflow := uint256.FromBig(order.Price)
	if overflow {
		return fmt.Errorf("%w: price exceeds 256 bits", exchange.ErrInvalidOrder)
	}
	qty, overflow := uint256.FromBig(order.Quantity)
	if overflow {
		return fmt.Errorf("%w: quantity exceeds 256 bits", exchange.ErrInvalidOrder)
	}
	r.Place, err = a.ex.PlaceOrder(ctx, trader, orderbook.Side(p.Side), price, qty)
	return err
}

func (a *App) withdraw(ctx context.Context, p *transaction.WithdrawPayload, trader common.Address, r *Receipt) error {
	if p.Asset == 0 {
		cash, sec, err := a.ex.WithdrawAll(ctx, trader)
		if err != nil {
			return err
		}
		r.Withdrawn = map[escrow.Asset]*uint256.Int{escrow.Cash: cash, escrow.Security: sec}
		return nil
	}
	asset := escrow.Asset(p.Asset)
	amount, err := a.ex.Withdraw(ctx, trader, asset)
	if err != nil {
		return err
	}
	r.Withdrawn = map[escrow.Asset]*uint256.Int{asset: amount}
	return nil
}

func (a *App) approve(ctx context.Context, p *transaction.ApprovePayload, trader common.Address) error {
	ledger, err := a.Ledger(p.Token)
	if err != nil {
		return err
	}
	msg, err := p.ToEIP712()
	if err != nil {
		return err
	}
	amount, overflow := uint256.FromBig(msg.Amount)
	if overflow {
		return fmt.Errorf("%w: amount exceeds 256 bits", transaction.ErrMalformed)
	}
	if err := ledger.Approve(ctx, trader, a.ex.Address(), amount); err != nil {
		return err
	}
	a.logger.Info("allowance set",
		zap.Stringer("trader", trader),
		zap.String("token", ledger.Symbol()),
		zap.String("amount", amount.Dec()))
	return nil
}
