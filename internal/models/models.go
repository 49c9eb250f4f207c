package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/wesm/repo-tracker/internal/digest"
)

// Repository represents a tracked GitHub repository
type Repository struct {
	ID        uuid.UUID
	URL       string
	Topics    []string
	Languages []string
	Stars     *int
	// Digest is empty until the first successful fetch
	Digest    string
	TrackedAt *time.Time
}

// UpdateGitHubData overwrites the repository's GitHub data with the fetched
// state and recomputes its digest. It reports whether the digest changed.
func (r *Repository) UpdateGitHubData(remote *RemoteRepository) (bool, error) {
	r.Topics = remote.Topics
	r.Languages = remote.Languages
	stars := remote.Stars
	r.Stars = &stars

	prevDigest := r.Digest
	if err := r.UpdateDigest(); err != nil {
		return false, err
	}
	return r.Digest != prevDigest, nil
}

// UpdateDigest recomputes the repository's digest from its topics, languages
// and stars.
func (r *Repository) UpdateDigest() error {
	d, err := digest.Repository(r.Topics, r.Languages, r.Stars)
	if err != nil {
		return err
	}
	r.Digest = d
	return nil
}

// Issue represents an open GitHub issue
type Issue struct {
	ID          int64
	Title       string
	URL         string
	Number      int
	Labels      []string
	PublishedAt time.Time
	Digest      string
}

// UpdateDigest recomputes the issue's digest from its title and labels. The
// previous digest is kept if it cannot be computed.
func (i *Issue) UpdateDigest() {
	d, err := digest.Issue(i.Title, i.Labels)
	if err != nil {
		return
	}
	i.Digest = d
}

// RemoteRepository is the repository state as fetched from GitHub
type RemoteRepository struct {
	Topics    []string
	Languages []string
	Stars     int
	Issues    []*Issue
}

// Rate is the quota of a single GitHub API rate limit bucket
type Rate struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// RateLimit holds the rate limit status of a GitHub token
type RateLimit struct {
	Core    Rate
	GraphQL Rate
}
