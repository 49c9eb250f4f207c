package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/repo-tracker/config"
	"github.com/wesm/repo-tracker/internal/tokens"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_InitAddList(t *testing.T) {
	t.Setenv(config.EnvGithubTokens, "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")

	_, err := execute(t, "--config", configPath, "init")
	require.NoError(t, err)
	require.FileExists(t, configPath)

	out, err := execute(t, "--config", configPath, "add", "golang/go")
	require.NoError(t, err)
	assert.Contains(t, out, "Tracking https://github.com/golang/go")

	// Adding twice keeps a single entry
	_, err = execute(t, "--config", configPath, "add", "https://github.com/golang/go.git")
	require.NoError(t, err)

	cfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/golang/go"}, cfg.Repositories)
	assert.FileExists(t, filepath.Join(dir, config.DefaultDatabasePath))

	out, err = execute(t, "--config", configPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "URL")
	assert.Contains(t, out, "https://github.com/golang/go")
	assert.Contains(t, out, "never")
}

func TestCommands_AddInvalidRepository(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, config.CreateDefaultConfig(configPath))

	_, err := execute(t, "--config", configPath, "add", "https://gitlab.com/foo/bar")
	assert.Error(t, err)
}

func TestCommands_TrackWithoutTokens(t *testing.T) {
	t.Setenv(config.EnvGithubTokens, "")
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, config.CreateDefaultConfig(configPath))

	_, err := execute(t, "--config", configPath, "track")
	require.ErrorIs(t, err, tokens.ErrNoTokens)

	// Nothing is started without tokens
	_, statErr := os.Stat(filepath.Join(dir, config.DefaultDatabasePath))
	assert.True(t, os.IsNotExist(statErr))
}
