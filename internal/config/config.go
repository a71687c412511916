// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process-level settings. Per-user feed settings live in the store.
type Config struct {
	Addr           string
	DatabaseURL    string
	SQLitePath     string
	DataDir        string
	YouTubeBaseURL string
	UserAgent      string
	FetchRPS       float64
	FetchBurst     int
	LogLevel       string
	LogFormat      string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Addr:           ":8080",
		DataDir:        "data",
		YouTubeBaseURL: "https://www.youtube.com",
		FetchRPS:       10,
		FetchBurst:     20,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

// Load reads an optional .env file from envFile (skipped when empty or
// missing) and overlays environment variables on the defaults. Variables
// already present in the environment win over the file.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Default()
	cfg.Addr = envOr("ADDR", cfg.Addr)
	cfg.DatabaseURL = envOr("DATABASE_URL", cfg.DatabaseURL)
	cfg.SQLitePath = envOr("SQLITE_PATH", cfg.SQLitePath)
	cfg.DataDir = envOr("DATA_DIR", cfg.DataDir)
	cfg.YouTubeBaseURL = envOr("YOUTUBE_BASE_URL", cfg.YouTubeBaseURL)
	cfg.UserAgent = envOr("USER_AGENT", cfg.UserAgent)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("LOG_FORMAT", cfg.LogFormat)

	if v := os.Getenv("FETCH_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return Config{}, fmt.Errorf("invalid FETCH_RPS %q", v)
		}
		cfg.FetchRPS = rps
	}
	if v := os.Getenv("FETCH_BURST"); v != "" {
		burst, err := strconv.Atoi(v)
		if err != nil || burst < 1 {
			return Config{}, fmt.Errorf("invalid FETCH_BURST %q", v)
		}
		cfg.FetchBurst = burst
	}
	return cfg, nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c Config) Logger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
