package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wesm/repo-tracker/internal/models"
)

// ErrNotFound is returned when updating a repository that doesn't exist
var ErrNotFound = errors.New("repository not found")

// DB represents the database connection
type DB struct {
	*sql.DB
	// repositories not tracked within this interval are due for tracking
	trackInterval time.Duration
	now           func() time.Time
}

// New creates a new database connection
func New(dbPath string, trackInterval time.Duration) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows a single writer, so trackers share one connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, trackInterval: trackInterval, now: time.Now}, nil
}

// Initialize creates the database schema if it doesn't exist
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		repository_id TEXT PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		topics TEXT,
		languages TEXT,
		stars INTEGER,
		digest TEXT,
		tracked_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issues (
		issue_id INTEGER PRIMARY KEY,
		repository_id TEXT NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		number INTEGER NOT NULL,
		labels TEXT NOT NULL,
		published_at TIMESTAMP NOT NULL,
		digest TEXT,
		FOREIGN KEY (repository_id) REFERENCES repositories(repository_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS issues_repository_id_idx ON issues (repository_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// AddRepository registers a repository to be tracked. Adding an already
// registered URL returns the existing repository.
func (db *DB) AddRepository(ctx context.Context, url string) (*models.Repository, error) {
	query := `
	INSERT INTO repositories (repository_id, url, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(url) DO NOTHING
	`

	if _, err := db.ExecContext(ctx, query, uuid.New().String(), url, db.now().UTC()); err != nil {
		return nil, fmt.Errorf("failed to add repository: %w", err)
	}

	return db.GetRepositoryByURL(ctx, url)
}

const repositoryColumns = `repository_id, url, topics, languages, stars, digest, tracked_at`

// GetRepositoriesToTrack returns the repositories never tracked or not
// tracked within the tracking interval, least recently tracked first
func (db *DB) GetRepositoriesToTrack(ctx context.Context) ([]*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories
	WHERE tracked_at IS NULL OR tracked_at < ?
	ORDER BY tracked_at IS NOT NULL, tracked_at`

	threshold := db.now().Add(-db.trackInterval).UTC()
	return db.queryRepositories(ctx, query, threshold)
}

// ListRepositories returns all registered repositories ordered by URL
func (db *DB) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories ORDER BY url`
	return db.queryRepositories(ctx, query)
}

// GetRepositoryByURL gets a repository by its URL
func (db *DB) GetRepositoryByURL(ctx context.Context, url string) (*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE url = ?`

	repos, err := db.queryRepositories(ctx, query, url)
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, nil
	}
	return repos[0], nil
}

func (db *DB) queryRepositories(ctx context.Context, query string, args ...any) ([]*models.Repository, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query repositories: %w", err)
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		var (
			repo      models.Repository
			id        string
			topics    sql.NullString
			languages sql.NullString
			stars     sql.NullInt64
			digest    sql.NullString
			trackedAt sql.NullTime
		)
		if err := rows.Scan(&id, &repo.URL, &topics, &languages, &stars, &digest, &trackedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}

		if repo.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid repository id %q: %w", id, err)
		}
		if repo.Topics, err = decodeStrings(topics); err != nil {
			return nil, fmt.Errorf("invalid topics for %s: %w", repo.URL, err)
		}
		if repo.Languages, err = decodeStrings(languages); err != nil {
			return nil, fmt.Errorf("invalid languages for %s: %w", repo.URL, err)
		}
		if stars.Valid {
			v := int(stars.Int64)
			repo.Stars = &v
		}
		repo.Digest = digest.String
		if trackedAt.Valid {
			t := trackedAt.Time
			repo.TrackedAt = &t
		}

		repos = append(repos, &repo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate repositories: %w", err)
	}

	return repos, nil
}

// UpdateRepositoryMetadata saves the repository's GitHub data and digest
func (db *DB) UpdateRepositoryMetadata(ctx context.Context, repo *models.Repository) error {
	query := `
	UPDATE repositories SET
		topics = ?,
		languages = ?,
		stars = ?,
		digest = ?
	WHERE repository_id = ?
	`

	topics, err := encodeStrings(repo.Topics)
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}
	languages, err := encodeStrings(repo.Languages)
	if err != nil {
		return fmt.Errorf("failed to encode languages: %w", err)
	}
	var stars sql.NullInt64
	if repo.Stars != nil {
		stars = sql.NullInt64{Int64: int64(*repo.Stars), Valid: true}
	}
	digest := sql.NullString{String: repo.Digest, Valid: repo.Digest != ""}

	res, err := db.ExecContext(ctx, query, topics, languages, stars, digest, repo.ID.String())
	if err != nil {
		return fmt.Errorf("failed to update repository metadata: %w", err)
	}
	return expectOneRow(res, repo.ID)
}

// UpdateRepositoryLastTrackTS sets the repository's last tracking time to now
func (db *DB) UpdateRepositoryLastTrackTS(ctx context.Context, repositoryID uuid.UUID) error {
	query := `UPDATE repositories SET tracked_at = ? WHERE repository_id = ?`

	res, err := db.ExecContext(ctx, query, db.now().UTC(), repositoryID.String())
	if err != nil {
		return fmt.Errorf("failed to update last track time: %w", err)
	}
	return expectOneRow(res, repositoryID)
}

func expectOneRow(res sql.Result, repositoryID uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, repositoryID)
	}
	return nil
}

// GetRepositoryIssues returns the open issues stored for a repository
func (db *DB) GetRepositoryIssues(ctx context.Context, repositoryID uuid.UUID) ([]*models.Issue, error) {
	query := `
	SELECT issue_id, title, url, number, labels, published_at, digest
	FROM issues
	WHERE repository_id = ?
	ORDER BY number
	`

	rows, err := db.QueryContext(ctx, query, repositoryID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []*models.Issue
	for rows.Next() {
		var (
			issue  models.Issue
			labels sql.NullString
			digest sql.NullString
		)
		if err := rows.Scan(&issue.ID, &issue.Title, &issue.URL, &issue.Number, &labels, &issue.PublishedAt, &digest); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		if issue.Labels, err = decodeStrings(labels); err != nil {
			return nil, fmt.Errorf("invalid labels for issue #%d: %w", issue.Number, err)
		}
		issue.Digest = digest.String
		issues = append(issues, &issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate issues: %w", err)
	}

	return issues, nil
}

// CountRepositoryIssues returns the number of open issues stored for a repository
func (db *DB) CountRepositoryIssues(ctx context.Context, repositoryID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM issues WHERE repository_id = ?`
	if err := db.QueryRowContext(ctx, query, repositoryID.String()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return count, nil
}

// UpsertIssue saves an issue of a repository, replacing the stored one if any
func (db *DB) UpsertIssue(ctx context.Context, repositoryID uuid.UUID, issue *models.Issue) error {
	query := `
	INSERT INTO issues (issue_id, repository_id, title, url, number, labels, published_at, digest)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(issue_id) DO UPDATE SET
		repository_id = excluded.repository_id,
		title = excluded.title,
		url = excluded.url,
		number = excluded.number,
		labels = excluded.labels,
		published_at = excluded.published_at,
		digest = excluded.digest
	`

	labels := issue.Labels
	if labels == nil {
		labels = []string{}
	}
	encodedLabels, err := encodeStrings(labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}
	digest := sql.NullString{String: issue.Digest, Valid: issue.Digest != ""}

	_, err = db.ExecContext(
		ctx,
		query,
		issue.ID,
		repositoryID.String(),
		issue.Title,
		issue.URL,
		issue.Number,
		encodedLabels,
		issue.PublishedAt.UTC(),
		digest,
	)
	if err != nil {
		return fmt.Errorf("failed to save issue: %w", err)
	}

	return nil
}

// DeleteIssue removes an issue
func (db *DB) DeleteIssue(ctx context.Context, issueID int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM issues WHERE issue_id = ?`, issueID); err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// encodeStrings stores a list as JSON; a nil list is stored as NULL so it
// can be told apart from an empty one
func encodeStrings(values []string) (sql.NullString, error) {
	if values == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeStrings(value sql.NullString) ([]string, error) {
	if !value.Valid {
		return nil, nil
	}
	values := []string{}
	if err := json.Unmarshal([]byte(value.String), &values); err != nil {
		return nil, err
	}
	return values, nil
}
