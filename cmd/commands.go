package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesm/repo-tracker/config"
	"github.com/wesm/repo-tracker/internal/api"
	"github.com/wesm/repo-tracker/internal/db"
	"github.com/wesm/repo-tracker/internal/logging"
	"github.com/wesm/repo-tracker/internal/tokens"
	"github.com/wesm/repo-tracker/internal/tracker"
)

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "repo-tracker",
		Short: "Track GitHub repositories and their open issues",
		Long: `repo-tracker keeps a local SQLite database of GitHub repositories up to date:
their topics, languages and stars, along with their open issues.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to configuration file")

	rootCmd.AddCommand(
		newInitCmd(&configPath),
		newAddCmd(&configPath),
		newListCmd(&configPath),
		newTrackCmd(&configPath),
	)
	return rootCmd
}

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file if it doesn't exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.CreateDefaultConfig(*configPath); err != nil {
				return fmt.Errorf("failed to create default configuration: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration available at %s\n", *configPath)
			fmt.Fprintf(cmd.OutOrStdout(), "GitHub tokens can be provided via the %s environment variable\n", config.EnvGithubTokens)
			return nil
		},
	}
}

func newAddCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "add <owner/name | url>",
		Short: "Add a repository to track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoURL, err := api.NormalizeRepositoryURL(args[0])
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if _, err := config.AddRepository(*configPath, repoURL); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			repo, err := database.AddRepository(cmd.Context(), repoURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s (%s)\n", repo.URL, repo.ID)
			return nil
		},
	}
}

func newListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tracked repositories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			database, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			repos, err := database.ListRepositories(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "URL\tSTARS\tISSUES\tDIGEST\tTRACKED")
			for _, repo := range repos {
				issues, err := database.CountRepositoryIssues(cmd.Context(), repo.ID)
				if err != nil {
					return err
				}
				stars, digest, tracked := "-", "-", "never"
				if repo.Stars != nil {
					stars = fmt.Sprint(*repo.Stars)
				}
				if len(repo.Digest) >= 12 {
					digest = repo.Digest[:12]
				}
				if repo.TrackedAt != nil {
					tracked = repo.TrackedAt.Local().Format(time.DateTime)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", repo.URL, stars, issues, digest, tracked)
			}
			return w.Flush()
		},
	}
}

func newTrackCmd(configPath *string) *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Track the repositories due for tracking",
		Long: `Track the repositories not tracked within the configured interval, updating
their GitHub data and open issues. With --every, tracking runs repeatedly until
interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrack(cmd.Context(), *configPath, every)
		},
	}
	cmd.Flags().DurationVar(&every, "every", 0, "Run tracking repeatedly with this period")
	return cmd
}

func runTrack(ctx context.Context, configPath string, every time.Duration) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	// Setup GitHub tokens pool
	pool, err := tokens.NewPool(cfg.GitHubTokens)
	if err != nil {
		return fmt.Errorf("%w: set github_tokens in %s or %s", err, configPath, config.EnvGithubTokens)
	}
	for i, token := range pool.Tokens() {
		logger.Debug("github token", zap.Int("token", i), zap.String("value", logging.MaskToken(token)))
	}

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	// Register repositories listed in the configuration
	for _, repo := range cfg.Repositories {
		repoURL, err := api.NormalizeRepositoryURL(repo)
		if err != nil {
			logger.Warn("skipping invalid repository", zap.String("repository", repo), zap.Error(err))
			continue
		}
		if _, err := database.AddRepository(ctx, repoURL); err != nil {
			return err
		}
	}

	t, err := tracker.New(tracker.Config{
		Concurrency: cfg.Tracker.Concurrency,
		Timeout:     cfg.Tracker.Timeout,
	}, database, api.NewGitHubClient(), pool, logger)
	if err != nil {
		return err
	}

	if every <= 0 {
		return t.Run(ctx)
	}

	// Signals stop the loop between runs, never an in-flight run
	stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		if err := t.Run(context.WithoutCancel(ctx)); err != nil {
			logger.Error("tracking run failed", zap.Error(err))
		}

		select {
		case <-stopCtx.Done():
			logger.Info("tracker stopped")
			return nil
		case <-time.After(every):
		}
	}
}

func openDB(cfg *config.Config) (*db.DB, error) {
	database, err := db.New(cfg.DatabasePath, cfg.Tracker.Interval)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}
