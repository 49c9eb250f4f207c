// Package tracker keeps the repositories stored in the database in sync with
// their current state in GitHub.
//
// Each run gets the repositories due for tracking and tracks them
// concurrently, every repository using one of the GitHub tokens available
// for the duration of its tracking. Repositories failing to be tracked don't
// affect the others; their errors are combined into the run's error.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/repo-tracker/internal/models"
	"github.com/wesm/repo-tracker/internal/tokens"
)

var (
	// ErrFetchFailed is returned when the repository couldn't be fetched
	// from GitHub
	ErrFetchFailed = errors.New("failed to fetch repository from github")

	// ErrTimeout is returned when tracking a repository takes longer than
	// the configured timeout
	ErrTimeout = errors.New("repository tracking timed out")

	// ErrDatastoreWrite is returned when tracking results couldn't be saved
	ErrDatastoreWrite = errors.New("failed to write to database")
)

// DB is the database used by the tracker
type DB interface {
	GetRepositoriesToTrack(ctx context.Context) ([]*models.Repository, error)
	UpdateRepositoryMetadata(ctx context.Context, repo *models.Repository) error
	UpdateRepositoryLastTrackTS(ctx context.Context, repositoryID uuid.UUID) error
	GetRepositoryIssues(ctx context.Context, repositoryID uuid.UUID) ([]*models.Issue, error)
	UpsertIssue(ctx context.Context, repositoryID uuid.UUID, issue *models.Issue) error
	DeleteIssue(ctx context.Context, issueID int64) error
}

// GitHub is the GitHub API client used by the tracker
type GitHub interface {
	FetchRepository(ctx context.Context, token, repoURL string) (*models.RemoteRepository, error)
	RateLimit(ctx context.Context, token string) (*models.RateLimit, error)
}

// Config holds the tracker's settings
type Config struct {
	// Maximum number of repositories tracked at the same time
	Concurrency int
	// Maximum time tracking a single repository can take
	Timeout time.Duration
}

// Phase is the stage a tracking run is in
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetchingDueList
	PhaseDispatching
	PhaseDraining
	PhaseReporting
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFetchingDueList:
		return "fetching-due-list"
	case PhaseDispatching:
		return "dispatching"
	case PhaseDraining:
		return "draining"
	case PhaseReporting:
		return "reporting"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Tracker tracks repositories
type Tracker struct {
	cfg    Config
	db     DB
	gh     GitHub
	pool   *tokens.Pool
	logger *zap.Logger

	phase atomic.Int32
}

// New creates a new tracker
func New(cfg Config, db DB, gh GitHub, pool *tokens.Pool, logger *zap.Logger) (*Tracker, error) {
	if pool == nil {
		return nil, tokens.ErrNoTokens
	}
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be positive, got %d", cfg.Concurrency)
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Tracker{
		cfg:    cfg,
		db:     db,
		gh:     gh,
		pool:   pool,
		logger: logger,
	}, nil
}

// Phase returns the phase of the current or last run
func (t *Tracker) Phase() Phase {
	return Phase(t.phase.Load())
}

func (t *Tracker) setPhase(p Phase) {
	t.phase.Store(int32(p))
	t.logger.Debug("tracker phase", zap.Stringer("phase", p))
}

// Run tracks all the repositories due for tracking. The returned error, if
// any, combines the errors of all the repositories that failed; the changes
// made for the rest are kept.
func (t *Tracker) Run(ctx context.Context) error {
	start := time.Now()
	defer t.setPhase(PhaseDone)

	// Get repositories to track
	t.setPhase(PhaseFetchingDueList)
	repos, err := t.db.GetRepositoriesToTrack(ctx)
	if err != nil {
		return fmt.Errorf("failed to get repositories to track: %w", err)
	}
	if len(repos) == 0 {
		t.logger.Info("no repositories to track")
		return nil
	}

	// Track repositories
	t.setPhase(PhaseDispatching)
	t.logger.Info("tracking repositories",
		zap.Int("repositories", len(repos)),
		zap.Int("concurrency", t.cfg.Concurrency),
		zap.Int("tokens", t.pool.Size()),
	)

	errs := make([]error, len(repos))
	var g errgroup.Group
	g.SetLimit(t.cfg.Concurrency)
	for i, repo := range repos {
		g.Go(func() error {
			errs[i] = t.runUnit(ctx, repo)
			return nil
		})
	}

	t.setPhase(PhaseDraining)
	_ = g.Wait()

	var result error
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			result = multierr.Append(result, fmt.Errorf("error tracking repository %s: %w", repos[i].URL, err))
		}
	}

	// Check GitHub API rate limit status for each token
	t.setPhase(PhaseReporting)
	t.reportRateLimits(ctx)

	t.logger.Info("tracker finished",
		zap.Int("tracked", len(repos)-failed),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

// runUnit tracks a repository holding a token from the pool, giving up once
// the tracking timeout expires. A repository abandoned on timeout keeps the
// changes already written.
func (t *Tracker) runUnit(ctx context.Context, repo *models.Repository) error {
	lease, err := t.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get github token: %w", err)
	}
	defer lease.Release()

	unitCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.trackRepository(unitCtx, lease.Token(), repo)
	}()

	select {
	case err := <-done:
		if err != nil && errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrTimeout, t.cfg.Timeout, err)
		}
		return err
	case <-unitCtx.Done():
		if errors.Is(unitCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s", ErrTimeout, t.cfg.Timeout)
		}
		return unitCtx.Err()
	}
}

// reportRateLimits logs the rate limit status of each token. Errors are
// logged only.
func (t *Tracker) reportRateLimits(ctx context.Context) {
	for i, token := range t.pool.Tokens() {
		reqCtx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
		limits, err := t.gh.RateLimit(reqCtx, token)
		cancel()
		if err != nil {
			t.logger.Warn("error getting github rate limit", zap.Int("token", i), zap.Error(err))
			continue
		}
		t.logger.Info("github rate limit",
			zap.Int("token", i),
			zap.Int("core_limit", limits.Core.Limit),
			zap.Int("core_remaining", limits.Core.Remaining),
			zap.Time("core_reset", limits.Core.Reset),
			zap.Int("graphql_limit", limits.GraphQL.Limit),
			zap.Int("graphql_remaining", limits.GraphQL.Remaining),
			zap.Time("graphql_reset", limits.GraphQL.Reset),
		)
	}
}
