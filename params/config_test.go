package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/stoxbook/pkg/app/core/exchange"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	ex := cfg.ExchangeConfig()
	assert.Equal(t, exchange.PolicyReject, ex.ExistingOrders)
	assert.Equal(t, 0, ex.MaxDepth)
	assert.True(t, ex.Pause.BlockPlace)
	assert.False(t, ex.Pause.BlockWithdraw)
}

func TestLoadFromEnv(t *testing.T) {
	owner := "0x00000000000000000000000000000000000000Aa"
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("OWNER_ADDRESS", owner)
	t.Setenv("MAX_BOOK_DEPTH", "25")
	t.Setenv("EXISTING_ORDER_POLICY", "Merge")
	t.Setenv("PAUSE_BLOCKS_WITHDRAW", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CORS_ORIGINS", "http://localhost:3000")
	t.Setenv("GENESIS_ALLOCATIONS", owner+":1000:2.5")
	t.Setenv("SIMULATE_TRADERS", "8")
	t.Setenv("SIMULATE_INTERVAL_MS", "250")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Node.APIAddr)
	assert.Equal(t, common.HexToAddress(owner), cfg.Book.Owner)
	assert.Equal(t, 25, cfg.Book.MaxDepth)
	assert.Equal(t, exchange.PolicyMerge, cfg.Book.ExistingOrder)
	assert.True(t, cfg.ExchangeConfig().Pause.BlockWithdraw)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Node.CORSOrigins)
	require.Len(t, cfg.Genesis, 1)
	assert.Equal(t, "1000000000000000000000", cfg.Genesis[0].Cash.Dec())
	assert.Equal(t, "2500000000000000000", cfg.Genesis[0].Security.Dec())
	assert.Equal(t, 8, cfg.Simulation.Traders)
	assert.Equal(t, 250*time.Millisecond, cfg.Simulation.Interval)
}

func TestLoadFromDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("KAFKA_TOPIC=from-file\nCHAIN_ID=31337\n"), 0o644))
	// godotenv does not override variables that are already set
	t.Setenv("CHAIN_ID", "5")
	t.Cleanup(func() { os.Unsetenv("KAFKA_TOPIC") })

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Kafka.Topic)
	assert.Equal(t, int64(5), cfg.Book.ChainID)
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"OWNER_ADDRESS", "nope"},
		{"BOOK_ADDRESS", "0x12"},
		{"CHAIN_ID", "abc"},
		{"MAX_BOOK_DEPTH", "-1"},
		{"EXISTING_ORDER_POLICY", "ignore"},
		{"GENESIS_ALLOCATIONS", "0x00000000000000000000000000000000000000aa:1"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
			assert.Error(t, err)
		})
	}
}

func TestParseAllocations(t *testing.T) {
	a := "0x00000000000000000000000000000000000000aa"
	b := "0x00000000000000000000000000000000000000bb"
	allocs, err := ParseAllocations(a + ":10:0, " + b + ":0:3")
	require.NoError(t, err)
	require.Len(t, allocs, 2)
	assert.True(t, allocs[0].Security.IsZero())
	assert.Equal(t, common.HexToAddress(b), allocs[1].Address)

	_, err = ParseAllocations(a + ":x:1")
	assert.Error(t, err)
	_, err = ParseAllocations("bad:1:1")
	assert.Error(t, err)
}
