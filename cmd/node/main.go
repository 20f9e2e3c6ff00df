package main

import (
	"context"
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/stoxbook/params"
	"github.com/uhyunpark/stoxbook/pkg/api"
	"github.com/uhyunpark/stoxbook/pkg/app/core/breaker"
	"github.com/uhyunpark/stoxbook/pkg/app/core/exchange"
	"github.com/uhyunpark/stoxbook/pkg/app/core/transaction"
	"github.com/uhyunpark/stoxbook/pkg/app/stox"
	"github.com/uhyunpark/stoxbook/pkg/crypto"
	"github.com/uhyunpark/stoxbook/pkg/events"
	"github.com/uhyunpark/stoxbook/pkg/metrics"
	"github.com/uhyunpark/stoxbook/pkg/storage"
	"github.com/uhyunpark/stoxbook/pkg/token"
	"github.com/uhyunpark/stoxbook/pkg/util"
)

const (
	cashSymbol     = "STOX"
	securitySymbol = "NVDA"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.Node)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("node failed", zap.Error(err))
	}
}

func newLogger(n params.Node) (*zap.Logger, error) {
	if n.LogFile == "" {
		return util.NewLogger(n.LogLevel)
	}
	return util.NewLoggerWithFile(n.LogFile, n.LogLevel)
}

func run(cfg params.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "book"))
	if err != nil {
		return err
	}
	defer store.Close()

	// ---- Token ledgers ----
	cash, err := openLedger(store, cashSymbol)
	if err != nil {
		return err
	}
	security, err := openLedger(store, securitySymbol)
	if err != nil {
		return err
	}
	if cash.TotalSupply().IsZero() && security.TotalSupply().IsZero() {
		for _, a := range cfg.Genesis {
			if err := cash.Mint(a.Address, a.Cash); err != nil {
				return err
			}
			if err := security.Mint(a.Address, a.Security); err != nil {
				return err
			}
			logger.Info("genesis allocation",
				zap.Stringer("address", a.Address),
				zap.String("cash", a.Cash.Dec()),
				zap.String("security", a.Security.Dec()))
		}
	}

	// ---- Events ----
	hub := api.NewHub(logger.Named("ws"))
	go hub.Run(ctx)
	publishers := events.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		publishers = append(publishers, kp)
		logger.Info("kafka publisher enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer publishers.Close()

	// ---- Exchange ----
	m := metrics.New()
	auth := breaker.NewOwnerAuthorizer()
	if cfg.Book.Owner == (common.Address{}) {
		logger.Warn("OWNER_ADDRESS not set; pause and unpause are disabled")
	} else {
		auth = breaker.NewOwnerAuthorizer(cfg.Book.Owner)
	}
	ex, err := exchange.New(cfg.Book.Address, cash, security, auth,
		exchange.WithConfig(cfg.ExchangeConfig()),
		exchange.WithStore(store),
		exchange.WithPublisher(publishers),
		exchange.WithMetrics(m),
		exchange.WithLogger(logger.Named("exchange")),
	)
	if err != nil {
		return err
	}
	st := ex.Status()
	logger.Info("order book ready",
		zap.Stringer("address", cfg.Book.Address),
		zap.Stringer("owner", cfg.Book.Owner),
		zap.String("state", st.State.String()),
		zap.Uint64("seq", st.Seq),
		zap.Int("buy_depth", st.BuyDepth),
		zap.Int("sell_depth", st.SellDepth))

	// ---- App ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Book.ChainID)
	domain.VerifyingContract = cfg.Book.Address

	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "requests.log"))
	if err != nil {
		return err
	}
	defer wal.Close()
	app := stox.NewApp(ex, transaction.NewVerifier(domain), wal, logger.Named("app"))

	// ---- Simulated traders (optional) ----
	if cfg.Simulation.Traders > 0 {
		feedCfg := stox.DefaultFeederConfig()
		feedCfg.NumAccounts = cfg.Simulation.Traders
		feedCfg.Interval = cfg.Simulation.Interval
		gen, err := stox.NewSignedTxGenerator(feedCfg.NumAccounts, domain, feedCfg.MidPrice, feedCfg.Seed)
		if err != nil {
			return err
		}
		if err := stox.FundTraders(ctx, app, gen, cash, security, feedCfg.Funding); err != nil {
			return err
		}
		cancelFeeder := stox.StartTxFeeder(ctx, app, gen, feedCfg, logger.Named("feeder"))
		defer cancelFeeder()
	}

	// ---- API Server ----
	server := api.NewServer(app, hub, m, logger.Named("api"), cfg.Node.CORSOrigins)
	err = server.Start(ctx, cfg.Node.APIAddr)
	logger.Info("node stopped", zap.Uint64("seq", ex.Seq()))
	return err
}

func openLedger(store *storage.PebbleStore, symbol string) (*token.MemoryLedger, error) {
	balances, allowances, err := store.LoadToken(symbol)
	if err != nil {
		return nil, err
	}
	l := token.NewMemoryLedger(symbol).WithJournal(store)
	l.Load(balances, allowances)
	return l, nil
}
