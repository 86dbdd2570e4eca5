package logger

import (
	"bytes"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetOutput(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log := Logger("test")
	log.Info("test message", "key", "value")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "subsystem=test")
}

func TestSetOutput_ExistingLogger(t *testing.T) {
	log := Logger("test2")

	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	// 切换之前创建的 logger 同样写入新目标
	log.Info("after switch", "key", "value")

	assert.Contains(t, buf.String(), "after switch")
}

func TestSetEnabled(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	SetEnabled(false)
	assert.False(t, Enabled())
	Logger("test3").Info("hidden")
	assert.Empty(t, buf.String())

	SetEnabled(true)
	assert.True(t, Enabled())
	Logger("test3").Info("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestSetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log := Logger("test4")
	SetLevel("test4", slog.LevelError)
	log.Info("dropped")
	assert.Empty(t, buf.String())

	SetLevel("test4", slog.LevelDebug)
	log.Debug("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestParseConfig(t *testing.T) {
	env := map[string]string{
		"ENSYNC_LOG_LEVEL":      "core/connection=debug,warn",
		"ENSYNC_LOG_FORMAT":     "json",
		"ENSYNC_LOG_ADD_SOURCE": "1",
	}
	cfg := parseConfig(func(k string) string { return env[k] })

	assert.Equal(t, slog.LevelWarn, cfg.DefaultLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LevelForSubsystem("core/connection"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelForSubsystem("other"))
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.True(t, cfg.AddSource)
}
