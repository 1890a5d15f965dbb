package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Output roots
	DataDir string // predictions/ and derived/ partitions live under here

	// Relief appearance store (sqlite)
	AppearanceDBPath string

	// Model parameter file (yaml); defaults apply when absent
	ModelParamsPath string

	// Feed intake HTTP server
	FeedPort int

	// Fanout WebSocket server for downstream consumers
	FanoutEnabled bool
	FanoutPort    int

	// How long a finished game lingers before cleanup
	FinishedGameTTL time.Duration

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DataDir:          envStr("WINPROB_DATA_DIR", "data"),
		AppearanceDBPath: envStr("WINPROB_APPEARANCE_DB", "data/appearances/relief.db"),
		ModelParamsPath:  envStr("WINPROB_MODEL_PARAMS", "internal/config/model_params.yaml"),

		FeedPort: envInt("WINPROB_FEED_PORT", 8786),

		FanoutEnabled: envStr("WINPROB_FANOUT_ENABLED", "true") == "true",
		FanoutPort:    envInt("WINPROB_FANOUT_PORT", 8787),

		// A final score keeps serving latest.json reads for a while before
		// the in-memory entry is dropped.
		FinishedGameTTL: time.Duration(envInt("WINPROB_FINISHED_TTL_SEC", 300)) * time.Second,

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
