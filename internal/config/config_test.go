package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:3000", cfg.Addr())
	assert.Equal(t, ".tusk", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join(".tusk", "db"), cfg.DBPath())
	assert.Equal(t, filepath.Join(".tusk", "objects"), cfg.ObjectsPath())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tusk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"server:\n  host: 127.0.0.1\n  port: 8080\ndata_dir: /var/lib/tusk\nlog_level: debug\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8080", cfg.Addr())
	assert.Equal(t, "/var/lib/tusk", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TUSK_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
