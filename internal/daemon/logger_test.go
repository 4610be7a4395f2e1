package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_File(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "poco.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", File: file, MaxSizeMB: 1, MaxFiles: 1})
	require.NoError(t, err)

	log.Named("engine").Debug("orders matched", zap.String("deal", "0x01"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"msg":"orders matched"`), line)
	assert.True(t, strings.Contains(line, `"logger":"engine"`), line)
}

func TestNewLogger_LevelFilters(t *testing.T) {
	file := filepath.Join(t.TempDir(), "poco.log")
	log, err := NewLogger(LoggingConfig{Level: "warn", File: file})
	require.NoError(t, err)
	log.Info("hidden")
	log.Warn("shown")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNewLogger_BadLevel(t *testing.T) {
	_, err := NewLogger(LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLogger_NoSinks(t *testing.T) {
	log, err := NewLogger(LoggingConfig{})
	require.NoError(t, err)
	assert.NotNil(t, log)
}
