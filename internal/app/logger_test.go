package app

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := NewLogger(&Config{LogFormat: "json", LogLevel: "warn"})
	require.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	require.True(t, logger.Enabled(context.Background(), slog.LevelWarn))

	logger = NewLogger(&Config{LogLevel: "debug"})
	require.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	// Unknown levels and a nil config fall back to info.
	logger = NewLogger(&Config{LogLevel: "loud"})
	require.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))

	logger = NewLogger(nil)
	require.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
}
