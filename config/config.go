package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix of the environment variables overriding the
	// configuration file, e.g. REPO_TRACKER_GITHUB_TOKENS
	EnvPrefix = "REPO_TRACKER"

	// EnvGithubTokens is the environment variable holding a comma separated
	// list of GitHub tokens
	EnvGithubTokens = EnvPrefix + "_GITHUB_TOKENS"

	DefaultDatabasePath = "repo_tracker.db"
	DefaultConcurrency  = 10
	DefaultTimeout      = 300 * time.Second
	DefaultInterval     = time.Hour
	DefaultLogLevel     = "info"
)

// Config represents the application configuration
type Config struct {
	// GitHub API tokens, used concurrently by the tracker
	GitHubTokens []string

	// Path to the SQLite database file
	DatabasePath string

	// Repositories to track, as GitHub URLs
	Repositories []string

	Tracker TrackerConfig

	LogLevel string
}

// TrackerConfig holds the tracker's tuning knobs
type TrackerConfig struct {
	// Maximum number of repositories tracked at the same time
	Concurrency int
	// Maximum time tracking a single repository can take
	Timeout time.Duration
	// Minimum time between two trackings of the same repository
	Interval time.Duration
}

// fileConfig is the on-disk JSON layout
type fileConfig struct {
	GitHubTokens []string          `json:"github_tokens"`
	DatabasePath string            `json:"database_path"`
	Repositories []string          `json:"repositories"`
	Tracker      fileTrackerConfig `json:"tracker"`
	LogLevel     string            `json:"log_level,omitempty"`
}

type fileTrackerConfig struct {
	Concurrency int    `json:"concurrency"`
	Timeout     string `json:"timeout"`
	Interval    string `json:"interval"`
}

// LoadConfig loads the configuration from a JSON file, applying defaults and
// environment overrides
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("tracker.concurrency", DefaultConcurrency)
	v.SetDefault("tracker.timeout", DefaultTimeout)
	v.SetDefault("tracker.interval", DefaultInterval)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{
		GitHubTokens: splitTokens(v.GetStringSlice("github_tokens")),
		DatabasePath: v.GetString("database_path"),
		Repositories: v.GetStringSlice("repositories"),
		Tracker: TrackerConfig{
			Concurrency: v.GetInt("tracker.concurrency"),
			Timeout:     v.GetDuration("tracker.timeout"),
			Interval:    v.GetDuration("tracker.interval"),
		},
		LogLevel: v.GetString("log_level"),
	}

	// Make database path absolute if it's relative
	if !filepath.IsAbs(config.DatabasePath) {
		configDir := filepath.Dir(path)
		config.DatabasePath = filepath.Join(configDir, config.DatabasePath)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// splitTokens accepts tokens given either as a list or as a single comma
// separated value (the environment variable form)
func splitTokens(values []string) []string {
	var tokens []string
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

// Validate checks the tracker settings. Tokens are validated when the
// tracker starts, as other commands don't need them.
func (c *Config) Validate() error {
	var errs []string
	if c.Tracker.Concurrency <= 0 {
		errs = append(errs, fmt.Sprintf("tracker.concurrency must be positive, got %d", c.Tracker.Concurrency))
	}
	if c.Tracker.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("tracker.timeout must be positive, got %s", c.Tracker.Timeout))
	}
	if c.Tracker.Interval < 0 {
		errs = append(errs, fmt.Sprintf("tracker.interval must not be negative, got %s", c.Tracker.Interval))
	}
	if len(errs) > 0 {
		return errors.New("invalid configuration: " + strings.Join(errs, "; "))
	}
	return nil
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	fc := fileConfig{
		GitHubTokens: config.GitHubTokens,
		DatabasePath: config.DatabasePath,
		Repositories: config.Repositories,
		Tracker: fileTrackerConfig{
			Concurrency: config.Tracker.Concurrency,
			Timeout:     config.Tracker.Timeout.String(),
			Interval:    config.Tracker.Interval.String(),
		},
		LogLevel: config.LogLevel,
	}
	if fc.GitHubTokens == nil {
		fc.GitHubTokens = []string{}
	}
	if fc.Repositories == nil {
		fc.Repositories = []string{}
	}

	// Keep the database path relative to the config file when possible
	if filepath.IsAbs(fc.DatabasePath) {
		if rel, err := filepath.Rel(filepath.Dir(path), fc.DatabasePath); err == nil && !strings.HasPrefix(rel, "..") {
			fc.DatabasePath = rel
		}
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := &Config{
		GitHubTokens: []string{},
		DatabasePath: DefaultDatabasePath,
		Repositories: []string{},
		Tracker: TrackerConfig{
			Concurrency: DefaultConcurrency,
			Timeout:     DefaultTimeout,
			Interval:    DefaultInterval,
		},
		LogLevel: DefaultLogLevel,
	}

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(config, path)
}

// AddRepository appends a repository to the configuration file, leaving the
// rest of the file untouched so environment overrides are never persisted.
// It reports whether the repository was added.
func AddRepository(path, repoURL string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("failed to parse config file: %w", err)
	}

	var repos []any
	if existing, ok := raw["repositories"].([]any); ok {
		repos = existing
	}
	for _, repo := range repos {
		if repo == repoURL {
			return false, nil
		}
	}
	raw["repositories"] = append(repos, repoURL)

	data, err = json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}
