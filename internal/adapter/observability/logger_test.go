package observability_test

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikev9/text-processing/internal/adapter/observability"
	"github.com/mikev9/text-processing/internal/config"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, observability.ParseLevel("debug"))
	require.Equal(t, slog.LevelWarn, observability.ParseLevel("WARNING"))
	require.Equal(t, slog.LevelError, observability.ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, observability.ParseLevel(""))
	require.Equal(t, slog.LevelInfo, observability.ParseLevel("bogus"))
}

func TestSetupLoggerFlavors(t *testing.T) {
	for _, fmt := range []string{"json", "text", ""} {
		cfg := config.Config{AppName: "web_api", LogLevel: "info", LogFmt: fmt, LogRecordMaxLen: 100}
		require.NotNil(t, observability.SetupLogger(cfg))
	}
}

func TestSetupLoggerAcceptsOversizedRecords(t *testing.T) {
	cfg := config.Config{AppName: "web_api", LogLevel: "debug", LogFmt: "json", LogRecordMaxLen: 16}
	lg := observability.SetupLogger(cfg)
	lg.Info(strings.Repeat("x", 1000))
}
