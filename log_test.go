package uscope

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uscope.log")
	log, closer, err := NewLogger(LogConfig{Level: "warn", Filename: path, MaxSize: 1})
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("visible", "channel", 1)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "hidden")
	require.Contains(t, string(data), "msg=visible")
	require.Contains(t, string(data), "channel=1")
}

func TestNewLoggerBadLevel(t *testing.T) {
	_, _, err := NewLogger(LogConfig{Level: "chatty"})
	require.Error(t, err)
}
