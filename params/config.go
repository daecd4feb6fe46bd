package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Venue holds the construction parameters of the trading venue.
type Venue struct {
	Symbols         []string
	QuoteAsset      string
	FundingInterval time.Duration
	// MarkStaleness is how old an oracle snapshot may be before placements
	// and funding reject it.
	MarkStaleness time.Duration
	// DataDir is where the account snapshot store lives.
	DataDir string
}

type Config struct {
	Venue Venue
}

func Default() Config {
	return Config{
		Venue: Venue{
			Symbols:         []string{"BTC-USDT", "ETH-USDT"},
			QuoteAsset:      "USDT",
			FundingInterval: 8 * time.Hour,
			MarkStaleness:   30 * time.Second,
			DataDir:         "data/venue",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if symbols := os.Getenv("VENUE_SYMBOLS"); symbols != "" {
		// Example: "BTC-USDT,ETH-USDT"
		parts := strings.Split(symbols, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			cfg.Venue.Symbols = out
		}
	}

	if quote := os.Getenv("QUOTE_ASSET"); quote != "" {
		cfg.Venue.QuoteAsset = quote
	}

	if interval := os.Getenv("FUNDING_INTERVAL_MIN"); interval != "" {
		if m, err := strconv.Atoi(interval); err == nil && m > 0 {
			cfg.Venue.FundingInterval = time.Duration(m) * time.Minute
		}
	}

	if staleness := os.Getenv("MARK_STALENESS_SEC"); staleness != "" {
		if s, err := strconv.Atoi(staleness); err == nil && s > 0 {
			cfg.Venue.MarkStaleness = time.Duration(s) * time.Second
		}
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Venue.DataDir = dir
	}

	return cfg
}
