package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWithOptionsEmitsStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendingd", "test", Options{Output: &buf})
	logger.Info("rates computed", slog.String("reserve", "usdc"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "rates computed", line["message"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "usdc", line["reserve"])
	require.Contains(t, line, "timestamp")
}

func TestSetupWithOptionsMasksSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendingd", "", Options{Output: &buf})
	logger.Info("auth", slog.String("api_token", "abc123"), slog.String("history_dsn", "postgres://u:p@h/db"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, RedactedValue, line["api_token"])
	require.Equal(t, RedactedValue, line["history_dsn"])
	require.NotContains(t, line, "env")
}

func TestSetupWithOptionsHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendingd", "", Options{Output: &buf, Level: "warn"})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestSetupWithOptionsWritesRotatedFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "lendingd.log")
	logger := SetupWithOptions("lendingd", "", Options{Output: &buf, File: path, MaxSizeMB: 1})
	logger.Info("to file")
	require.FileExists(t, path)
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, "[REDACTED]", MaskField("jwt_secret", "s3cr3t").Value.String())
	require.Equal(t, "boom", MaskField("error", "boom").Value.String())
	require.Equal(t, "", MaskField("token", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "service")
}
