package stox

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/pkg/app/core/escrow"
	"github.com/uhyunpark/stoxbook/pkg/app/core/mempool"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

// TxFeederConfig controls simulated order flow.
type TxFeederConfig struct {
	NumAccounts int
	BatchSize   int
	Interval    time.Duration
	MidPrice    int64  // whole cash units per security
	Funding     string // units of each token minted per trader
	Seed        int64
}

func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		NumAccounts: 20,
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		MidPrice:    100,
		Funding:     "1000000",
		Seed:        1,
	}
}

// Minter creates tokens out of thin air. Only the in-process ledgers do this.
type Minter interface {
	Mint(to common.Address, amount *uint256.Int) error
}

// FundTraders mints both tokens to every simulated trader and submits signed
// approvals for the book.
func FundTraders(ctx context.Context, app *App, gen *SignedTxGenerator, cash, security Minter, units string) error {
	amount, err := fixed.ParseUnits(units)
	if err != nil {
		return fmt.Errorf("funding amount: %w", err)
	}
	for _, s := range gen.Signers() {
		if err := cash.Mint(s.Address(), amount); err != nil {
			return err
		}
		if err := security.Mint(s.Address(), amount); err != nil {
			return err
		}
		for _, asset := range []escrow.Asset{escrow.Cash, escrow.Security} {
			tx, err := gen.GenerateApprove(s, app.Exchange().Ledger(asset).Symbol(), maxAllowance)
			if err != nil {
				return err
			}
			if _, err := app.ApplySignedTx(ctx, tx); err != nil {
				return fmt.Errorf("approve %s for %s: %w", asset, s.Address().Hex(), err)
			}
		}
	}
	return nil
}

// StartTxFeeder queues generated batches in a mempool and applies what it
// drains each tick, until ctx is done or the returned cancel function is called.
func StartTxFeeder(ctx context.Context, app *App, gen *SignedTxGenerator, cfg TxFeederConfig, logger *zap.Logger) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)
	pool := mempool.NewMempool()

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		lastReport := start
		var accepted, rejected int

		logger.Info("tx feeder started",
			zap.Int("traders", len(gen.Signers())),
			zap.Int("batch", cfg.BatchSize),
			zap.Duration("interval", cfg.Interval))

		for {
			select {
			case <-feedCtx.Done():
				logger.Info("tx feeder stopped",
					zap.Int("accepted", accepted),
					zap.Int("rejected", rejected),
					zap.Duration("elapsed", time.Since(start).Round(time.Second)))
				return

			case <-ticker.C:
				ok, errs := feedTick(feedCtx, app, gen, pool, cfg.BatchSize)
				accepted += ok
				rejected += len(errs)

				if time.Since(lastReport) >= 10*time.Second {
					lastReport = time.Now()
					elapsed := time.Since(start).Seconds()
					logger.Info("tx feeder stats",
						zap.Int("accepted", accepted),
						zap.Int("rejected", rejected),
						zap.Int("queued", pool.Len()),
						zap.Float64("tx_per_sec", float64(accepted+rejected)/elapsed))
				}
			}
		}
	}()

	return cancel
}

// feedTick queues one batch and applies everything queued. A batch holds at
// most one request per trader and the pool is emptied every tick, so draining
// by class never reorders a trader's nonces.
func feedTick(ctx context.Context, app *App, gen *SignedTxGenerator, pool *mempool.Mempool, size int) (int, []error) {
	if n := len(gen.Signers()); size > n {
		size = n
	}
	for _, tx := range gen.GenerateBatch(size) {
		pool.Push(tx)
	}
	var accepted int
	var errs []error
	for _, tx := range pool.Drain(0) {
		if _, err := app.ApplySignedTx(ctx, tx); err != nil {
			errs = append(errs, err)
			continue
		}
		accepted++
	}
	return accepted, errs
}
