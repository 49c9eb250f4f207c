package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `{"github_tokens": ["t1", "t2"]}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"t1", "t2"}, cfg.GitHubTokens)
	assert.Equal(t, filepath.Join(filepath.Dir(path), DefaultDatabasePath), cfg.DatabasePath)
	assert.Equal(t, DefaultConcurrency, cfg.Tracker.Concurrency)
	assert.Equal(t, DefaultTimeout, cfg.Tracker.Timeout)
	assert.Equal(t, DefaultInterval, cfg.Tracker.Interval)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoadConfig_Values(t *testing.T) {
	path := writeConfig(t, `{
		"github_tokens": ["t1"],
		"database_path": "/var/lib/tracker.db",
		"repositories": ["https://github.com/wesm/argh"],
		"tracker": {"concurrency": 3, "timeout": "90s", "interval": "30m"},
		"log_level": "debug"
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/tracker.db", cfg.DatabasePath)
	assert.Equal(t, []string{"https://github.com/wesm/argh"}, cfg.Repositories)
	assert.Equal(t, 3, cfg.Tracker.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Tracker.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Tracker.Interval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"github_tokens": ["file-token"], "tracker": {"concurrency": 3}}`)

	t.Setenv(EnvGithubTokens, "env1, env2")
	t.Setenv("REPO_TRACKER_TRACKER_CONCURRENCY", "7")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"env1", "env2"}, cfg.GitHubTokens)
	assert.Equal(t, 7, cfg.Tracker.Concurrency)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "zero concurrency", content: `{"tracker": {"concurrency": 0}}`},
		{name: "negative timeout", content: `{"tracker": {"timeout": "-1s"}}`},
		{name: "malformed json", content: `{"tracker": `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestCreateDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	require.NoError(t, CreateDefaultConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.GitHubTokens)
	assert.Empty(t, cfg.Repositories)
	assert.Equal(t, DefaultTimeout, cfg.Tracker.Timeout)

	// An existing file is never overwritten
	cfg.Repositories = []string{"https://github.com/wesm/argh"}
	require.NoError(t, SaveConfig(cfg, path))
	require.NoError(t, CreateDefaultConfig(path))

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Repositories, reloaded.Repositories)
	assert.Equal(t, cfg.DatabasePath, reloaded.DatabasePath)
}

func TestAddRepository(t *testing.T) {
	t.Setenv(EnvGithubTokens, "from-env")
	path := writeConfig(t, `{"github_tokens": ["t1"], "tracker": {"concurrency": 4}}`)

	added, err := AddRepository(path, "https://github.com/golang/go")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = AddRepository(path, "https://github.com/golang/go")
	require.NoError(t, err)
	assert.False(t, added)

	os.Unsetenv(EnvGithubTokens)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://github.com/golang/go"}, cfg.Repositories)
	assert.Equal(t, []string{"t1"}, cfg.GitHubTokens)
	assert.Equal(t, 4, cfg.Tracker.Concurrency)
}
