package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/leakwatch/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
leakwatch:
  log:
    level: debug
    appenders:
      - type: console
  inspector:
    workers: 4
  capture:
    enabled: true
    dir: /tmp/captures
    installation_id: 7f1c
  location:
    enabled: true
    latitude: 33.6789
    longitude: -117.84
  attribution:
    mode: static
    static:
      "40000": com.example.weather
    cache_ttl: 1m
  leak_log:
    partitions: 2
    sinks: [log, kafka]
    kafka:
      brokers: ["localhost:9092"]
      topic: leaks
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	require.Len(t, cfg.Log.Appenders, 1)
	assert.Equal(t, "console", cfg.Log.Appenders[0].Type)
	assert.Equal(t, 4, cfg.Inspector.Workers)
	assert.True(t, cfg.Inspector.Enabled)
	assert.Equal(t, 16384, cfg.Inspector.MaxPacketSize)
	assert.Equal(t, "/tmp/captures", cfg.Capture.Dir)
	assert.Equal(t, "STREAM_", cfg.Capture.ActivePrefix)
	assert.Equal(t, "COMPLETED_", cfg.Capture.CompletedPrefix)
	assert.Equal(t, "DefaultPacketLogger", cfg.Capture.IfFilter)
	assert.Equal(t, uint8(3), cfg.Capture.TSResolution)
	assert.InDelta(t, 33.6789, cfg.Location.Latitude, 1e-9)
	assert.Equal(t, "com.example.weather", cfg.Attribution.Static["40000"])
	assert.Equal(t, time.Minute, cfg.Attribution.CacheTTL)
	assert.Equal(t, []string{"log", "kafka"}, cfg.LeakLog.Sinks)
	assert.Equal(t, 100*time.Millisecond, cfg.LeakLog.Kafka.BatchTimeout)
	assert.Equal(t, "0.0.0.0:9090", cfg.Metrics.Listen)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Capture.Enabled)
	assert.Equal(t, []string{"log"}, cfg.LeakLog.Sinks)
	assert.Equal(t, 30*time.Second, cfg.Attribution.CacheTTL)
	assert.True(t, cfg.Replay.BPFEligibility)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LEAKWATCH_LOG_LEVEL", "warn")
	t.Setenv("LEAKWATCH_INSPECTOR_WORKERS", "8")

	cfg, err := Load(writeConfig(t, "leakwatch:\n  log:\n    level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 8, cfg.Inspector.Workers)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad log level", "leakwatch:\n  log:\n    level: loud\n"},
		{"negative workers", "leakwatch:\n  inspector:\n    workers: -1\n"},
		{"latitude out of range", "leakwatch:\n  location:\n    enabled: true\n    latitude: 91\n"},
		{"unknown attribution mode", "leakwatch:\n  attribution:\n    mode: dns\n"},
		{"kafka without brokers", "leakwatch:\n  leak_log:\n    sinks: [kafka]\n"},
		{"unknown sink", "leakwatch:\n  leak_log:\n    sinks: [syslog]\n"},
		{"same prefixes", "leakwatch:\n  capture:\n    active_prefix: X_\n    completed_prefix: X_\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrConfigInvalid), "got %v", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}
