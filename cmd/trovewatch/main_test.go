package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunPrintConfigRedactsSecrets(t *testing.T) {
	t.Setenv("TROVEWATCH_SERVER_API_KEY", "topsecret")
	var stdout, stderr bytes.Buffer

	code := run([]string{"-config", "", "-print-config", "-mode", "scan"}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), `mode = "scan"`)
	assert.Contains(t, stdout.String(), `api_key = "***"`)
	assert.NotContains(t, stdout.String(), "topsecret")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"-config", "", "-mode", "trade"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "invalid configuration")
}

func TestRunMissingConfigFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run([]string{"-config", "/nonexistent/trovewatch.toml"}, &stdout, &stderr))
	assert.Equal(t, 2, run([]string{"-bogus"}, &stdout, &stderr))
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	assert.True(t, newLogger(&buf, "debug").Enabled(context.Background(), slog.LevelDebug))
	assert.False(t, newLogger(&buf, "warn").Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, newLogger(&buf, "nonsense").Enabled(context.Background(), slog.LevelInfo))
}
