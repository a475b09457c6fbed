package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/deckwatch/pkg/config"
)

// run executes the config command tree under a root carrying --config.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := &cobra.Command{Use: "deckwatch", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(Cmd)
	t.Cleanup(func() { root.RemoveCommand(Cmd) })

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckwatch.yaml")

	out, err := run(t, "config", "init", "--yes", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.GetDefaultConfig().Network, cfg.Network)
	assert.Equal(t, config.AllFinders, cfg.Finders.Enabled)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = run(t, "config", "init", "--yes", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = run(t, "config", "init", "--yes", "--force", "--config", path)
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckwatch.yaml")
	cfg := config.GetDefaultConfig()
	cfg.API.Enabled = true
	cfg.Finders.Passive = true
	require.NoError(t, config.SaveConfig(cfg, path))

	out, err := run(t, "config", "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Validation: OK")
	assert.Contains(t, out, "api.jwt_secret not set")
	assert.Contains(t, out, "nothing can be resolved")
	assert.Contains(t, out, "50002")
}

func TestValidateRejectsMissingFile(t *testing.T) {
	_, err := run(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "not found")
}

func TestShowJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deckwatch.yaml")
	require.NoError(t, config.SaveConfig(config.GetDefaultConfig(), path))

	out, err := run(t, "config", "show", "--config", path, "--output", "json")
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Contains(t, decoded, "Network")
}

func TestSchemaToFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "schema.json")
	out, err := run(t, "config", "schema", "--output", dest)
	require.NoError(t, err)
	assert.Contains(t, out, dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
}

func TestWarnings(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Network.Interface = "eth0"
	cfg.Archives.Directory = "/var/lib/deckwatch/archives"
	assert.Empty(t, warnings(cfg))

	cfg.Finders.Enabled = []string{}
	assert.Len(t, warnings(cfg), 1)
}
