package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, GetDefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
network:
  keepalive_timeout: 20s
dbserver:
  posing_as: 3
  max_message_size: 2MiB
finders:
  cache_capacity: 250
  passive: true
  enabled: [metadata, artwork]
archives:
  directory: /srv/archives
  sources:
    - type: zip
      slot: 2-usb
      path: /srv/usb2.zip
    - type: sql
      sql:
        type: sqlite
        sqlite_path: /srv/archive.db
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 20*time.Second, cfg.Network.KeepaliveTimeout)
	assert.Equal(t, 4*time.Second, cfg.Network.SweepInterval, "sweep follows the keepalive timeout")
	assert.Equal(t, 50000, cfg.Network.AnnouncePort)
	assert.Equal(t, 3, cfg.DBServer.PosingAs)
	assert.Equal(t, ByteSize(2<<20), cfg.DBServer.MaxMessageSize)
	assert.Equal(t, 250, cfg.Finders.CacheCapacity)
	assert.Equal(t, 100, cfg.Finders.QueueSize)
	assert.True(t, cfg.Finders.Passive)
	assert.True(t, cfg.Finders.IsEnabled(FinderArtwork))
	assert.False(t, cfg.Finders.IsEnabled(FinderWaveform))

	require.Len(t, cfg.Archives.Sources, 2)
	assert.Equal(t, "2-usb", cfg.Archives.Sources[0].Slot)
	assert.Equal(t, "default", cfg.Archives.Sources[1].SQL.Scope)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: INFO\n")
	t.Setenv("DECKWATCH_LOGGING_LEVEL", "WARN")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.Logging.Level)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "finders:\n  cache_capacity: -1\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CacheCapacity")
}

func TestSaveConfigRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.API.JWTSecret = "0123456789abcdef0123456789abcdef"
	cfg.DBServer.MaxMessageSize = 512 << 10

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "max_message_size: 512 KiB")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestMustLoadExplainsMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := MustLoad(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deckwatch config init --config "+path)
}

func TestDefaultConfigPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, filepath.Join(dir, "deckwatch", "config.yaml"), DefaultConfigPath())
	assert.False(t, DefaultConfigExists())
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"logging", "network", "dbserver", "finders", "archives", "api"} {
		assert.Contains(t, props, key)
	}
}
