package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/stoxbook/pkg/app/core/exchange"
	"github.com/uhyunpark/stoxbook/pkg/fixed"
)

type Node struct {
	APIAddr     string
	DataDir     string
	LogFile     string
	LogLevel    string
	CORSOrigins []string
}

type Book struct {
	// Address is the book's own account on both token ledgers.
	Address common.Address
	Owner   common.Address
	ChainID int64

	MaxDepth            int
	ExistingOrder       exchange.ExistingOrderPolicy
	PauseBlocksPlace    bool
	PauseBlocksWithdraw bool
}

type Kafka struct {
	Brokers []string // empty disables the publisher
	Topic   string
}

// Allocation is minted at startup when the ledgers are empty.
type Allocation struct {
	Address  common.Address
	Cash     *uint256.Int
	Security *uint256.Int
}

type Simulation struct {
	Traders  int // 0 disables the simulated order flow
	Interval time.Duration
}

type Config struct {
	Node       Node
	Book       Book
	Kafka      Kafka
	Genesis    []Allocation
	Simulation Simulation
}

func Default() Config {
	return Config{
		Node: Node{
			APIAddr:     ":8080",
			DataDir:     "data",
			LogLevel:    "info",
			CORSOrigins: []string{"*"},
		},
		Book: Book{
			Address:          common.HexToAddress("0x0000000000000000000000000000000000000b00"),
			ChainID:          1337,
			ExistingOrder:    exchange.PolicyReject,
			PauseBlocksPlace: true,
		},
		Kafka: Kafka{
			Topic: "stoxbook.events",
		},
		Simulation: Simulation{
			Interval: 100 * time.Millisecond,
		},
	}
}

// ExchangeConfig converts the book settings into the exchange's options.
func (c Config) ExchangeConfig() exchange.Config {
	cfg := exchange.DefaultConfig()
	cfg.MaxDepth = c.Book.MaxDepth
	cfg.ExistingOrders = c.Book.ExistingOrder
	cfg.Pause.BlockPlace = c.Book.PauseBlocksPlace
	cfg.Pause.BlockWithdraw = c.Book.PauseBlocksWithdraw
	return cfg
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitList(origins)
	}

	if v := os.Getenv("OWNER_ADDRESS"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("OWNER_ADDRESS: invalid address %q", v)
		}
		cfg.Book.Owner = common.HexToAddress(v)
	}
	if v := os.Getenv("BOOK_ADDRESS"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("BOOK_ADDRESS: invalid address %q", v)
		}
		cfg.Book.Address = common.HexToAddress(v)
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.Book.ChainID = id
	}
	if v := os.Getenv("MAX_BOOK_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("MAX_BOOK_DEPTH: invalid value %q", v)
		}
		cfg.Book.MaxDepth = n
	}
	if v := os.Getenv("EXISTING_ORDER_POLICY"); v != "" {
		p, err := exchange.ParseExistingOrderPolicy(v)
		if err != nil {
			return cfg, fmt.Errorf("EXISTING_ORDER_POLICY: %w", err)
		}
		cfg.Book.ExistingOrder = p
	}
	if v := os.Getenv("PAUSE_BLOCKS_PLACE"); v != "" {
		cfg.Book.PauseBlocksPlace = v == "true"
	}
	if v := os.Getenv("PAUSE_BLOCKS_WITHDRAW"); v != "" {
		cfg.Book.PauseBlocksWithdraw = v == "true"
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	if v := os.Getenv("GENESIS_ALLOCATIONS"); v != "" {
		allocs, err := ParseAllocations(v)
		if err != nil {
			return cfg, fmt.Errorf("GENESIS_ALLOCATIONS: %w", err)
		}
		cfg.Genesis = allocs
	}

	if v := os.Getenv("SIMULATE_TRADERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Traders = n
		}
	}
	if v := os.Getenv("SIMULATE_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Interval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg, nil
}

// ParseAllocations reads "address:cash:security" entries separated by commas.
// Amounts are in whole units, e.g. "0xabc...:1000:2.5".
func ParseAllocations(s string) ([]Allocation, error) {
	var out []Allocation
	for _, entry := range splitList(s) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("entry %q: want address:cash:security", entry)
		}
		if !common.IsHexAddress(parts[0]) {
			return nil, fmt.Errorf("entry %q: invalid address", entry)
		}
		cash, err := fixed.ParseUnits(parts[1])
		if err != nil {
			return nil, fmt.Errorf("entry %q: cash: %w", entry, err)
		}
		sec, err := fixed.ParseUnits(parts[2])
		if err != nil {
			return nil, fmt.Errorf("entry %q: security: %w", entry, err)
		}
		out = append(out, Allocation{Address: common.HexToAddress(parts[0]), Cash: cash, Security: sec})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
