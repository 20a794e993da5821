package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration (spec §6 Configuration surface).
type Config struct {
	// Server
	Port    int
	DevMode bool

	// Database
	DatabasePath string

	// Endpoints, per protocol; first entry is primary, rest are fallbacks.
	RPCEndpoints   []string
	WSEndpoints    []string
	GRPCEndpoints  []string
	StreamEndpoints []string

	JupiterBaseURL string
	JitoEndpoints  []string

	// WalletPrivateKey is a base58 Solana private key used to build a
	// StaticKeyOracle for local/dev operation. Production keystore
	// encryption is an interface boundary only (signing.Oracle), not
	// implemented here.
	WalletPrivateKey string

	// TrackedMints is the PriceCache's poll list.
	TrackedMints []string

	// Safety (TradeGuard)
	MaxSingleTradeUSD    float64
	MaxDailyVolumeUSD    float64
	RequireConfirmUSD    float64
	MinSlippageBps       int
	MaxSlippageBps       int
	TradeCooldownSeconds int
	SniperMaxAmountSOL   float64
	SniperMaxSlippagePct float64
	TokenBlocklist       []string

	// Cache
	BlockhashRefreshMS int
	CurveCacheTTL      time.Duration

	// Pool health
	FailThreshold  int
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	RecoveryProbes int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnvAsInt("PORT", 8081),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		DatabasePath: getEnv("DATABASE_PATH", "./data/engine.db"),

		RPCEndpoints:    getEnvAsList("RPC_ENDPOINTS", []string{"https://api.mainnet-beta.solana.com"}),
		WSEndpoints:     getEnvAsList("WS_ENDPOINTS", []string{"wss://api.mainnet-beta.solana.com"}),
		GRPCEndpoints:   getEnvAsList("GRPC_ENDPOINTS", nil),
		StreamEndpoints: getEnvAsList("STREAM_ENDPOINTS", nil),

		JupiterBaseURL: getEnv("JUPITER_BASE_URL", "https://quote-api.jup.ag/v6"),
		JitoEndpoints: getEnvAsList("JITO_ENDPOINTS", []string{
			"https://mainnet.block-engine.jito.wtf",
			"https://amsterdam.mainnet.block-engine.jito.wtf",
			"https://frankfurt.mainnet.block-engine.jito.wtf",
			"https://ny.mainnet.block-engine.jito.wtf",
			"https://tokyo.mainnet.block-engine.jito.wtf",
		}),

		WalletPrivateKey: getEnv("WALLET_PRIVATE_KEY", ""),
		TrackedMints:     getEnvAsList("TRACKED_MINTS", nil),

		MaxSingleTradeUSD:    getEnvAsFloat("MAX_SINGLE_TRADE_USD", 1000),
		MaxDailyVolumeUSD:    getEnvAsFloat("MAX_DAILY_VOLUME_USD", 10000),
		RequireConfirmUSD:    getEnvAsFloat("REQUIRE_CONFIRM_USD", 500),
		MinSlippageBps:       getEnvAsInt("MIN_SLIPPAGE_BPS", 10),
		MaxSlippageBps:       getEnvAsInt("MAX_SLIPPAGE_BPS", 500),
		TradeCooldownSeconds: getEnvAsInt("TRADE_COOLDOWN_SECONDS", 30),
		SniperMaxAmountSOL:   getEnvAsFloat("SNIPER_MAX_AMOUNT_SOL", 0.5),
		SniperMaxSlippagePct: getEnvAsFloat("SNIPER_MAX_SLIPPAGE_PCT", 15),
		TokenBlocklist:       getEnvAsList("TOKEN_BLOCKLIST", nil),

		BlockhashRefreshMS: getEnvAsInt("BLOCKHASH_REFRESH_MS", 400),
		CurveCacheTTL:      time.Duration(getEnvAsInt("CURVE_CACHE_TTL_MS", 2000)) * time.Millisecond,

		FailThreshold:  getEnvAsInt("FAIL_THRESHOLD", 2),
		ProbeInterval:  time.Duration(getEnvAsInt("PROBE_INTERVAL_SECONDS", 15)) * time.Second,
		ProbeTimeout:   time.Duration(getEnvAsInt("PROBE_TIMEOUT_SECONDS", 3)) * time.Second,
		RecoveryProbes: getEnvAsInt("RECOVERY_PROBES", 2),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if len(c.RPCEndpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	if c.MinSlippageBps > c.MaxSlippageBps {
		return fmt.Errorf("MIN_SLIPPAGE_BPS cannot exceed MAX_SLIPPAGE_BPS")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
