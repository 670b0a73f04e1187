package config_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dazzany/chatui/pkg/api"
	"github.com/dazzany/chatui/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CHATUI_AUTH_TOKEN", "tok")
	t.Setenv("CHATUI_SERVER_URL", "")
	t.Setenv("CHATUI_LOG_LEVEL", "")
	t.Setenv("CHATUI_LOG_FILE", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000", cfg.ServerURL)
	assert.Equal(t, "tok", cfg.AuthToken)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CHATUI_AUTH_TOKEN", "")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadTrimsServerURL(t *testing.T) {
	t.Setenv("CHATUI_AUTH_TOKEN", "tok")
	t.Setenv("CHATUI_SERVER_URL", "https://chat.example.com/")
	t.Setenv("CHATUI_LOG_LEVEL", "trace")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.ServerURL)
	assert.Equal(t, api.LevelTrace, cfg.LogLevel)
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"trace":   api.LevelTrace,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := config.ParseLogLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := config.ParseLogLevel("verbose")
	assert.Error(t, err)
}
