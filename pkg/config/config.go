package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trader process.
type Config struct {
	Port string

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceBaseURL   string
	RequestsPerSec   float64

	// Execution
	DryRun bool

	// Dry-run simulation
	DryRunInitialQuote float64
	DryRunQuoteAsset   string
	DryRunFeeRate      float64 // decimal (e.g. 0.001 = 10 bps)
	DryRunSlippageBps  float64 // slippage applied on market fills (bps)

	// Database
	DBPath string

	// Traded assets
	AssetsFile      string
	SerializeCycles bool // THREAD_LOCK: one cycle at a time across assets

	// Logging
	LogLevel      string
	LogFormat     string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	// Control panel
	JWTSecret    string // empty disables auth on mutating routes
	APIRateLimit float64
	APIRateBurst int
	CORSOrigins  []string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/trader.db")
	}

	return &Config{
		Port:               getEnv("PORT", "8080"),
		BinanceTestnet:     getEnv("BINANCE_TESTNET", "false") == "true",
		BinanceAPIKey:      os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:   os.Getenv("BINANCE_API_SECRET"),
		BinanceBaseURL:     os.Getenv("BINANCE_BASE_URL"),
		RequestsPerSec:     getEnvFloat("BINANCE_REQUESTS_PER_SEC", 10),
		DryRun:             getEnv("DRY_RUN", "true") == "true",
		DryRunInitialQuote: getEnvFloat("DRY_RUN_INITIAL_QUOTE", 1000.0),
		DryRunQuoteAsset:   strings.ToUpper(getEnv("DRY_RUN_QUOTE_ASSET", "USDT")),
		DryRunFeeRate:      getEnvFloat("DRY_RUN_FEE_RATE", 0.001),
		DryRunSlippageBps:  getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		DBPath:             dbPath,
		AssetsFile:         getEnv("ASSETS_FILE", "./assets.yaml"),
		SerializeCycles:    getEnv("SERIALIZE_CYCLES", "true") == "true",
		LogLevel:           strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:          strings.ToLower(getEnv("LOG_FORMAT", "text")),
		LogFile:            os.Getenv("LOG_FILE"),
		LogMaxSizeMB:       getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:      getEnvInt("LOG_MAX_AGE_DAYS", 14),
		JWTSecret:          os.Getenv("CONTROL_PANEL_JWT_SECRET"),
		APIRateLimit:       getEnvFloat("API_RATE_LIMIT", 10),
		APIRateBurst:       getEnvInt("API_RATE_BURST", 20),
		CORSOrigins:        splitAndTrim(getEnv("CORS_ORIGINS", "*")),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
