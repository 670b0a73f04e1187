// Package config loads client settings from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dazzany/chatui/pkg/api"
)

const defaultServerURL = "http://localhost:8000"

// Config holds everything the client needs to talk to one backend.
type Config struct {
	ServerURL string
	AuthToken string
	LogFile   string
	LogLevel  slog.Level
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present; real environment variables win.
func Load() (*Config, error) {
	// Ignore a missing .env, it is a convenience, not a requirement.
	_ = godotenv.Load(".env")

	cfg := &Config{
		ServerURL: defaultServerURL,
		AuthToken: os.Getenv("CHATUI_AUTH_TOKEN"),
		LogFile:   os.Getenv("CHATUI_LOG_FILE"),
		LogLevel:  slog.LevelInfo,
	}
	if url := os.Getenv("CHATUI_SERVER_URL"); url != "" {
		cfg.ServerURL = strings.TrimRight(url, "/")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("CHATUI_AUTH_TOKEN is not set")
	}
	if lv := os.Getenv("CHATUI_LOG_LEVEL"); lv != "" {
		level, err := ParseLogLevel(lv)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	}
	return cfg, nil
}

// ParseLogLevel maps a level name to its slog level, including the custom
// trace level used for HTTP dumps.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "trace":
		return api.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
