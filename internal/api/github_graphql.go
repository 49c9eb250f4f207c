package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/shurcooL/githubv4"

	"github.com/wesm/repo-tracker/internal/models"
)

const issuesPerPage = 100

// repositoryView is the repository data tracked, along with a page of its
// open issues
type repositoryView struct {
	Repository *struct {
		StargazerCount   int
		RepositoryTopics struct {
			Nodes []struct {
				Topic struct {
					Name string
				}
			}
		} `graphql:"repositoryTopics(first: 20)"`
		Languages struct {
			Nodes []struct {
				Name string
			}
		} `graphql:"languages(first: 10, orderBy: {field: SIZE, direction: DESC})"`
		Issues struct {
			Nodes    []Issue
			PageInfo struct {
				EndCursor   githubv4.String
				HasNextPage bool
			}
		} `graphql:"issues(first: $issuesPerPage, after: $issuesCursor, states: OPEN, orderBy: {field: CREATED_AT, direction: ASC})"`
	} `graphql:"repository(owner: $owner, name: $name)"`
}

// Issue represents a GitHub issue in GraphQL
type Issue struct {
	DatabaseID  int64
	Title       string
	URL         string
	Number      int
	CreatedAt   githubv4.DateTime
	PublishedAt *githubv4.DateTime
	Labels      struct {
		Nodes []struct {
			Name string
		}
	} `graphql:"labels(first: 20)"`
}

// FetchRepository gets the repository's topics, languages, stars and all its
// open issues, using the token provided
func (c *GitHubClient) FetchRepository(ctx context.Context, token, repoURL string) (*models.RemoteRepository, error) {
	owner, name, err := ParseRepositoryURL(repoURL)
	if err != nil {
		return nil, err
	}
	tc, err := c.clientFor(token)
	if err != nil {
		return nil, err
	}

	variables := map[string]interface{}{
		"owner":         githubv4.String(owner),
		"name":          githubv4.String(name),
		"issuesPerPage": githubv4.Int(issuesPerPage),
		"issuesCursor":  (*githubv4.String)(nil),
	}

	var remote *models.RemoteRepository
	for {
		query, err := backoff.Retry(ctx, func() (*repositoryView, error) {
			var query repositoryView
			if err := tc.graphql.Query(ctx, &query, variables); err != nil {
				if isNotFound(err) {
					return nil, backoff.Permanent(fmt.Errorf("%w: %s/%s", ErrNotFound, owner, name))
				}
				return nil, err
			}
			return &query, nil
		}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to query repository: %w", err)
		}
		if query.Repository == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, owner, name)
		}
		repo := query.Repository

		// Repository data is taken from the first page only
		if remote == nil {
			remote = &models.RemoteRepository{
				Topics:    make([]string, 0, len(repo.RepositoryTopics.Nodes)),
				Languages: make([]string, 0, len(repo.Languages.Nodes)),
				Stars:     repo.StargazerCount,
				Issues:    make([]*models.Issue, 0, len(repo.Issues.Nodes)),
			}
			for _, node := range repo.RepositoryTopics.Nodes {
				remote.Topics = append(remote.Topics, node.Topic.Name)
			}
			for _, node := range repo.Languages.Nodes {
				remote.Languages = append(remote.Languages, node.Name)
			}
		}

		for _, issue := range repo.Issues.Nodes {
			remote.Issues = append(remote.Issues, convertIssue(issue))
		}

		if !repo.Issues.PageInfo.HasNextPage {
			break
		}
		cursor := repo.Issues.PageInfo.EndCursor
		variables["issuesCursor"] = &cursor
	}

	return remote, nil
}

// convertIssue converts a GraphQL issue to our model, computing its digest
func convertIssue(issue Issue) *models.Issue {
	labels := make([]string, 0, len(issue.Labels.Nodes))
	for _, label := range issue.Labels.Nodes {
		labels = append(labels, label.Name)
	}

	publishedAt := issue.CreatedAt.Time
	if issue.PublishedAt != nil && !issue.PublishedAt.IsZero() {
		publishedAt = issue.PublishedAt.Time
	}

	modelIssue := &models.Issue{
		ID:          issue.DatabaseID,
		Title:       issue.Title,
		URL:         issue.URL,
		Number:      issue.Number,
		Labels:      labels,
		PublishedAt: publishedAt,
	}
	modelIssue.UpdateDigest()
	return modelIssue
}

// isNotFound reports whether a GraphQL error is GitHub's missing repository
// error
func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "Could not resolve to a Repository")
}
