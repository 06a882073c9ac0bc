package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridwatch/internal/config"
)

func TestNewLogger_WritesLevelFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l := NewLogger(&config.Config{LogDirectory: dir})

	l.Info("device %d on", 1)
	l.Warning("device %d slow", 2)
	l.Error("device %d unreachable", 3)

	info, err := os.ReadFile(filepath.Join(dir, "info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "device 1 on")

	warning, err := os.ReadFile(filepath.Join(dir, "warning.log"))
	require.NoError(t, err)
	assert.Contains(t, string(warning), "device 2 slow")

	errorLog, err := os.ReadFile(filepath.Join(dir, "error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errorLog), "device 3 unreachable")
	assert.NotContains(t, string(errorLog), "device 1 on")
}

func TestCleanLogs(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(&config.Config{LogDirectory: dir})

	l.Warning("to be removed")
	require.NoError(t, l.CleanLogs("warning.log"))

	content, err := os.ReadFile(filepath.Join(dir, "warning.log"))
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestNewWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	l.Info("hello")
	l.Error("boom: %v", "timeout")

	assert.Contains(t, buf.String(), "INFO    ")
	assert.Contains(t, buf.String(), "ERROR   ")
	assert.Contains(t, buf.String(), "boom: timeout")
	assert.NoError(t, l.CleanLogs("info.log"))
	assert.Empty(t, l.Directory())
}
