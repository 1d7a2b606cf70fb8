package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading engine.
type Config struct {
	Port string

	// Binance
	BinanceAPIKey    string
	BinanceAPISecret string
	BinanceTestnet   bool

	// Scheduling
	RunInterval time.Duration
	RunOnce     bool

	// Execution
	DryRun bool // global override: forces dry-run on every bot

	// Database
	DBPath string

	// Bot definitions
	BotsFile string

	// Venue call budget
	VenueTimeout    time.Duration
	VenueRetries    int
	VenueRetryDelay time.Duration

	// Notifications
	AlertCooldown time.Duration

	// Logging
	LogLevel      string
	LogFormat     string
	LogOutput     string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		BinanceAPIKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret: os.Getenv("BINANCE_API_SECRET"),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		RunInterval:      getEnvDuration("RUN_INTERVAL", 5*time.Minute),
		RunOnce:          getEnv("RUN_ONCE", "false") == "true",
		DryRun:           getEnv("DRY_RUN", "false") == "true",
		DBPath:           getEnv("DB_PATH", "./data/botcore.db"),
		BotsFile:         getEnv("BOTS_FILE", "./configs/bots.yaml"),
		VenueTimeout:     getEnvDuration("VENUE_TIMEOUT", 10*time.Second),
		VenueRetries:     getEnvInt("VENUE_RETRIES", 3),
		VenueRetryDelay:  getEnvDuration("VENUE_RETRY_DELAY", 2*time.Second),
		AlertCooldown:    getEnvDuration("ALERT_COOLDOWN", 15*time.Minute),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "text"),
		LogOutput:        getEnv("LOG_OUTPUT", "stdout"),
		LogMaxSizeMB:     getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxBackups:    getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays:    getEnvInt("LOG_MAX_AGE_DAYS", 14),
	}

	if cfg.VenueRetries < 0 {
		return nil, fmt.Errorf("VENUE_RETRIES must be >= 0, got %d", cfg.VenueRetries)
	}
	return cfg, nil
}

// HasVenueCredentials reports whether live trading is possible at all.
func (c *Config) HasVenueCredentials() bool {
	return c.BinanceAPIKey != "" && c.BinanceAPISecret != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
