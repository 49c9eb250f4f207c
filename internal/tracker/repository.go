package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesm/repo-tracker/internal/models"
)

// trackRepository syncs a repository's GitHub data and open issues with the
// database and records it as tracked.
func (t *Tracker) trackRepository(ctx context.Context, token string, stored *models.Repository) error {
	start := time.Now()
	repo := *stored
	logger := t.logger.With(zap.String("url", repo.URL))
	logger.Debug("started")

	// Fetch repository data from GitHub
	remote, err := t.gh.FetchRepository(ctx, token, repo.URL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	// Update repository's GitHub data in db if needed
	changed, err := repo.UpdateGitHubData(remote)
	if err != nil {
		return fmt.Errorf("error computing repository digest: %w", err)
	}
	if changed {
		if err := t.db.UpdateRepositoryMetadata(ctx, &repo); err != nil {
			return fmt.Errorf("%w: %w", ErrDatastoreWrite, err)
		}
		logger.Debug("github data updated in database")
	}

	// Sync issues in GitHub with database
	if err := t.syncIssues(ctx, logger, repo.ID, remote.Issues); err != nil {
		return err
	}

	// Update repository's last track timestamp in db
	if err := t.db.UpdateRepositoryLastTrackTS(ctx, repo.ID); err != nil {
		return fmt.Errorf("%w: %w", ErrDatastoreWrite, err)
	}

	logger.Debug("completed", zap.Duration("duration", time.Since(start)))
	return nil
}

// syncIssues applies the changes needed for the issues stored for the
// repository to match the open issues in GitHub.
func (t *Tracker) syncIssues(
	ctx context.Context,
	logger *zap.Logger,
	repositoryID uuid.UUID,
	issuesInGH []*models.Issue,
) error {
	issuesInDB, err := t.db.GetRepositoryIssues(ctx, repositoryID)
	if err != nil {
		return fmt.Errorf("error getting repository issues: %w", err)
	}

	changes, err := ReconcileIssues(issuesInGH, issuesInDB)
	if err != nil {
		return err
	}

	// Register/update new or outdated issues
	for _, issue := range changes.Upsert {
		if err := t.db.UpsertIssue(ctx, repositoryID, issue); err != nil {
			return fmt.Errorf("%w: issue #%d: %w", ErrDatastoreWrite, issue.Number, err)
		}
		logger.Debug("registering issue", zap.Int("number", issue.Number))
	}

	// Unregister issues no longer open in GitHub
	for _, issue := range changes.Delete {
		if err := t.db.DeleteIssue(ctx, issue.ID); err != nil {
			return fmt.Errorf("%w: issue #%d: %w", ErrDatastoreWrite, issue.Number, err)
		}
		logger.Debug("unregistering issue", zap.Int("number", issue.Number))
	}

	return nil
}
