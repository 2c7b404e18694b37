package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jingo-vpn/tiercache/cache"
	"github.com/jingo-vpn/tiercache/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, cache.DefaultMaxMemoryBytes, cfg.MaxMemory.Bytes)
	assert.Equal(t, cache.DefaultMaxDiskBytes, cfg.MaxDisk.Bytes)
	assert.True(t, cfg.DiskEnabled)
	assert.Equal(t, 5*time.Minute, cfg.CleanupInterval.Duration)
	assert.Equal(t, 5, cfg.Breaker.MaxFailures)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
directory: /var/cache/tiercache
max_memory: 512Ki
max_disk: 1Gi
disk_enabled: false
cleanup_interval: 1d
log_level: debug
breaker:
  max_failures: 3
  cooldown: 45s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/cache/tiercache", cfg.Directory)
	assert.Equal(t, int64(512*1024), cfg.MaxMemory.Bytes)
	assert.Equal(t, int64(1<<30), cfg.MaxDisk.Bytes)
	assert.False(t, cfg.DiskEnabled)
	assert.Equal(t, 24*time.Hour, cfg.CleanupInterval.Duration)
	assert.Equal(t, logger.LevelDebug, cfg.Level())
	assert.Equal(t, 3, cfg.Breaker.MaxFailures)
	assert.Equal(t, 45*time.Second, cfg.Breaker.Cooldown.Duration)
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "max_memory: 1048576\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), cfg.MaxMemory.Bytes)
	assert.Equal(t, cache.DefaultMaxDiskBytes, cfg.MaxDisk.Bytes)
	assert.True(t, cfg.DiskEnabled)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "max_memory: 1Mi\ncleanup_interval: 1m\n")
	t.Setenv("TIERCACHE_MAX_MEMORY", "2Mi")
	t.Setenv("TIERCACHE_DISK_ENABLED", "false")
	t.Setenv("TIERCACHE_CLEANUP_INTERVAL", "off")
	t.Setenv("TIERCACHE_BREAKER_MAX_FAILURES", "0")
	t.Setenv("TIERCACHE_DIR", "/tmp/elsewhere")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2<<20), cfg.MaxMemory.Bytes)
	assert.False(t, cfg.DiskEnabled)
	assert.Zero(t, cfg.CleanupInterval.Duration)
	assert.Zero(t, cfg.Breaker.MaxFailures)
	assert.Equal(t, "/tmp/elsewhere", cfg.Directory)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"negative size", "max_memory: -1Mi\n"},
		{"bad size", "max_disk: lots\n"},
		{"bad duration", "cleanup_interval: soon\n"},
		{"unknown field", "max_memroy: 1Mi\n"},
		{"bad log level", "log_level: loud\n"},
		{"size as map", "max_memory:\n  bytes: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSizeUnlimited(t *testing.T) {
	var s Size
	require.NoError(t, s.UnmarshalText([]byte("unlimited")))
	assert.Zero(t, s.Bytes)
	require.NoError(t, s.UnmarshalText([]byte("0")))
	assert.Zero(t, s.Bytes)
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Directory = "/data/cache"
	cfg.MaxMemory = Size{0}

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))
	assert.Contains(t, buf.String(), "max_memory: unlimited")
	assert.Contains(t, buf.String(), "max_disk: 100Mi")

	var back Config
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, *cfg, back)
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.Directory = t.TempDir()
	cfg.CleanupInterval = Duration{0}
	cfg.MaxMemory = Size{1 << 10}

	m := cache.New(t.Context(), cfg.Options()...)
	defer m.Close()

	s := m.Stats()
	assert.Equal(t, int64(1<<10), s.MaxMemoryBytes)
	assert.Equal(t, cfg.Directory, s.Directory)
	assert.Zero(t, s.CleanupInterval)
	assert.True(t, s.DiskEnabled)
}
