package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-github/v57/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/wesm/repo-tracker/internal/models"
)

const (
	defaultRESTURL    = "https://api.github.com/"
	defaultGraphQLURL = "https://api.github.com/graphql"

	defaultMaxTries      = 3
	defaultRetryInterval = time.Second
)

var (
	// ErrNotFound is returned when a repository doesn't exist or isn't
	// visible with the token used
	ErrNotFound = errors.New("repository not found")

	// ErrInvalidURL is returned for URLs not pointing to a GitHub repository
	ErrInvalidURL = errors.New("invalid github repository url")
)

// GitHubClient is a client for the GitHub APIs that keeps one authenticated
// HTTP client per token
type GitHubClient struct {
	restURL    string
	graphqlURL string

	// Queries failing for reasons other than a missing repository are
	// retried with exponential backoff
	maxTries      uint
	retryInterval time.Duration

	mu      sync.Mutex
	clients map[string]*tokenClient
}

type tokenClient struct {
	rest    *github.Client
	graphql *githubv4.Client
}

// Option configures a GitHubClient
type Option func(*GitHubClient)

// WithBaseURLs points the client at a different GitHub API, like a GitHub
// Enterprise server or a test server
func WithBaseURLs(restURL, graphqlURL string) Option {
	return func(c *GitHubClient) {
		if !strings.HasSuffix(restURL, "/") {
			restURL += "/"
		}
		c.restURL = restURL
		c.graphqlURL = graphqlURL
	}
}

// WithRetry sets how many times a query is tried, and the wait before the
// first retry
func WithRetry(maxTries uint, initialInterval time.Duration) Option {
	return func(c *GitHubClient) {
		c.maxTries = max(maxTries, 1)
		c.retryInterval = initialInterval
	}
}

// NewGitHubClient creates a new GitHub API client
func NewGitHubClient(opts ...Option) *GitHubClient {
	c := &GitHubClient{
		restURL:       defaultRESTURL,
		graphqlURL:    defaultGraphQLURL,
		maxTries:      defaultMaxTries,
		retryInterval: defaultRetryInterval,
		clients:       make(map[string]*tokenClient),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// clientFor returns the clients authenticated with the token provided,
// creating them on first use
func (c *GitHubClient) clientFor(token string) (*tokenClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tc, ok := c.clients[token]; ok {
		return tc, nil
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	rest := github.NewClient(httpClient)
	baseURL, err := url.Parse(c.restURL)
	if err != nil {
		return nil, fmt.Errorf("invalid rest api url: %w", err)
	}
	rest.BaseURL = baseURL

	tc := &tokenClient{
		rest:    rest,
		graphql: githubv4.NewEnterpriseClient(c.graphqlURL, httpClient),
	}
	c.clients[token] = tc
	return tc, nil
}

func (c *GitHubClient) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	return b
}

// RateLimit gets the current rate limit status of the token provided
func (c *GitHubClient) RateLimit(ctx context.Context, token string) (*models.RateLimit, error) {
	tc, err := c.clientFor(token)
	if err != nil {
		return nil, err
	}

	limits, _, err := tc.rest.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limit: %w", err)
	}

	return &models.RateLimit{
		Core:    convertRate(limits.GetCore()),
		GraphQL: convertRate(limits.GetGraphQL()),
	}, nil
}

// convertRate converts a GitHub rate to our model
func convertRate(rate *github.Rate) models.Rate {
	if rate == nil {
		return models.Rate{}
	}
	return models.Rate{
		Limit:     rate.Limit,
		Remaining: rate.Remaining,
		Reset:     rate.Reset.Time,
	}
}

// ParseRepositoryURL extracts the owner and name of a repository from its
// GitHub URL
func ParseRepositoryURL(repoURL string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, repoURL)
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, repoURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidURL, repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// NormalizeRepositoryURL accepts a repository as "owner/name" or as a GitHub
// URL and returns its canonical URL
func NormalizeRepositoryURL(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	if !strings.Contains(repo, "://") {
		repo = "https://github.com/" + strings.Trim(repo, "/")
	}
	owner, name, err := ParseRepositoryURL(repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://github.com/%s/%s", owner, name), nil
}
