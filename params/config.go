package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Venue struct {
	// Name labels the venue in logs and errors.
	Name string
	// URL is the venue REST base, e.g. "http://localhost:8780".
	URL string
	// RequestTimeout bounds each venue HTTP round-trip.
	RequestTimeout time.Duration
}

type Trader struct {
	// WalletKeyHex is the secp256k1 private key used to sign venue requests
	// (64 hex chars, no 0x prefix). Empty generates an ephemeral key.
	WalletKeyHex string
	// EthRPCURL enables on-chain wallet balance polling when set.
	EthRPCURL string
	// Symbols the connector trades, QUOTE_BASE form.
	Symbols []string

	TickInterval        time.Duration
	TickTimeout         time.Duration
	BalancePollInterval time.Duration
	CancelAllTimeout    time.Duration

	// JournalPath enables the pebble event journal when set.
	JournalPath string
	// DemoBuy places one market buy of this base amount once the market is
	// ready. Empty disables the demo order.
	//
	// Example: DEMO_MARKET_BUY=4000 buys 4000 base units of Symbols[0].
	DemoBuy string
}

type Sim struct {
	ListenAddr string
	// SeedBalance credits every account on first touch, so a fresh trader
	// can place orders immediately.
	SeedBalance string
}

type Config struct {
	Venue    Venue
	Trader   Trader
	Sim      Sim
	LogLevel string
	LogFile  string
}

func Default() Config {
	return Config{
		Venue: Venue{
			Name:           "meridex",
			URL:            "http://localhost:8780",
			RequestTimeout: 10 * time.Second,
		},
		Trader: Trader{
			Symbols:             []string{"ETH_FXC"},
			TickInterval:        time.Second,
			TickTimeout:         5 * time.Second,
			BalancePollInterval: 5 * time.Second,
			CancelAllTimeout:    30 * time.Second,
		},
		Sim: Sim{
			ListenAddr:  ":8780",
			SeedBalance: "1000000000",
		},
		LogLevel: "info",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Venue.Name = getEnv("VENUE_NAME", cfg.Venue.Name)
	cfg.Venue.URL = getEnv("VENUE_URL", cfg.Venue.URL)
	cfg.Venue.RequestTimeout = getEnvMS("VENUE_REQUEST_TIMEOUT_MS", cfg.Venue.RequestTimeout)

	cfg.Trader.WalletKeyHex = getEnv("WALLET_KEY", cfg.Trader.WalletKeyHex)
	cfg.Trader.EthRPCURL = getEnv("ETH_RPC_URL", cfg.Trader.EthRPCURL)
	if symbols := os.Getenv("SYMBOLS"); symbols != "" {
		// Example: "ETH_FXC,ETH_CVC"
		cfg.Trader.Symbols = strings.Split(symbols, ",")
	}
	cfg.Trader.TickInterval = getEnvMS("TICK_INTERVAL_MS", cfg.Trader.TickInterval)
	cfg.Trader.TickTimeout = getEnvMS("TICK_TIMEOUT_MS", cfg.Trader.TickTimeout)
	cfg.Trader.BalancePollInterval = getEnvMS("BALANCE_POLL_INTERVAL_MS", cfg.Trader.BalancePollInterval)
	cfg.Trader.CancelAllTimeout = getEnvMS("CANCEL_ALL_TIMEOUT_MS", cfg.Trader.CancelAllTimeout)
	cfg.Trader.JournalPath = getEnv("JOURNAL_PATH", cfg.Trader.JournalPath)
	cfg.Trader.DemoBuy = getEnv("DEMO_MARKET_BUY", cfg.Trader.DemoBuy)

	cfg.Sim.ListenAddr = getEnv("SIM_LISTEN_ADDR", cfg.Sim.ListenAddr)
	cfg.Sim.SeedBalance = getEnv("SIM_SEED_BALANCE", cfg.Sim.SeedBalance)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvMS parses a millisecond integer environment variable into a duration.
func getEnvMS(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
