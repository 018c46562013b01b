package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "algoprep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Engine.Mode)
	assert.Equal(t, "python3", cfg.Engine.Python)
	assert.Equal(t, 60*time.Second, cfg.Remote.SyncInterval)
	assert.Equal(t, "algoprep", cfg.Remote.Namespace)
	assert.False(t, cfg.Remote.Enabled())
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ALGOPREP_TOKEN_FOR_TEST", "s3cret")
	path := writeConfig(t, `
server:
  port: 9090
engine:
  mode: docker
  image: python:3.13-slim
  startup_timeout: 5s
remote:
  base_url: http://localhost:9000
  token: ${ALGOPREP_TOKEN_FOR_TEST}
  sync_interval: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "docker", cfg.Engine.Mode)
	assert.Equal(t, "python:3.13-slim", cfg.Engine.Image)
	assert.Equal(t, 5*time.Second, cfg.Engine.StartupTimeout)
	assert.Equal(t, "s3cret", cfg.Remote.Token)
	assert.Equal(t, 2*time.Minute, cfg.Remote.SyncInterval)
	assert.True(t, cfg.Remote.Enabled())
}

func TestEnvOverridesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ALGOPREP_SERVER_PORT", "7070")
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestLoadRejectsUnknownMode(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "engine:\n  mode: wasm\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SOME_TOKEN", "abc")
	assert.Equal(t, "abc", expandEnv("${SOME_TOKEN}"))
	assert.Equal(t, "plain", expandEnv("plain"))
}

func TestLoadExpandsHomeInDBPath(t *testing.T) {
	t.Chdir(t.TempDir())
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfig(t, "storage:\n  db_path: ~/data/state.db\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "data", "state.db"), cfg.Storage.DBPath)
}
