package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/wesm/repo-tracker/internal/models"
)

type (
	MockDB struct {
		mock.Mock
	}

	MockGitHub struct {
		mock.Mock
	}
)

func (m *MockDB) GetRepositoriesToTrack(ctx context.Context) ([]*models.Repository, error) {
	args := m.Called(ctx)
	repos, _ := args.Get(0).([]*models.Repository)
	return repos, args.Error(1)
}

func (m *MockDB) UpdateRepositoryMetadata(ctx context.Context, repo *models.Repository) error {
	args := m.Called(ctx, repo)
	return args.Error(0)
}

func (m *MockDB) UpdateRepositoryLastTrackTS(ctx context.Context, repositoryID uuid.UUID) error {
	args := m.Called(ctx, repositoryID)
	return args.Error(0)
}

func (m *MockDB) GetRepositoryIssues(ctx context.Context, repositoryID uuid.UUID) ([]*models.Issue, error) {
	args := m.Called(ctx, repositoryID)
	issues, _ := args.Get(0).([]*models.Issue)
	return issues, args.Error(1)
}

func (m *MockDB) UpsertIssue(ctx context.Context, repositoryID uuid.UUID, issue *models.Issue) error {
	args := m.Called(ctx, repositoryID, issue)
	return args.Error(0)
}

func (m *MockDB) DeleteIssue(ctx context.Context, issueID int64) error {
	args := m.Called(ctx, issueID)
	return args.Error(0)
}

func (m *MockGitHub) FetchRepository(ctx context.Context, token, repoURL string) (*models.RemoteRepository, error) {
	args := m.Called(ctx, token, repoURL)
	remote, _ := args.Get(0).(*models.RemoteRepository)
	return remote, args.Error(1)
}

func (m *MockGitHub) RateLimit(ctx context.Context, token string) (*models.RateLimit, error) {
	args := m.Called(ctx, token)
	limits, _ := args.Get(0).(*models.RateLimit)
	return limits, args.Error(1)
}

// fakeDB is an in-memory DB counting the writes made
type fakeDB struct {
	mu      sync.Mutex
	repos   map[uuid.UUID]*models.Repository
	issues  map[uuid.UUID]map[int64]*models.Issue
	tracked map[uuid.UUID]int

	metadataWrites int
	issueWrites    int
	issueDeletes   int
}

func newFakeDB(repos ...*models.Repository) *fakeDB {
	db := &fakeDB{
		repos:   make(map[uuid.UUID]*models.Repository),
		issues:  make(map[uuid.UUID]map[int64]*models.Issue),
		tracked: make(map[uuid.UUID]int),
	}
	for _, repo := range repos {
		r := *repo
		db.repos[repo.ID] = &r
		db.issues[repo.ID] = make(map[int64]*models.Issue)
	}
	return db
}

func (db *fakeDB) GetRepositoriesToTrack(context.Context) ([]*models.Repository, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	repos := make([]*models.Repository, 0, len(db.repos))
	for _, repo := range db.repos {
		r := *repo
		repos = append(repos, &r)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].URL < repos[j].URL })
	return repos, nil
}

func (db *fakeDB) UpdateRepositoryMetadata(_ context.Context, repo *models.Repository) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	r := *repo
	db.repos[repo.ID] = &r
	db.metadataWrites++
	return nil
}

func (db *fakeDB) UpdateRepositoryLastTrackTS(_ context.Context, repositoryID uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	db.repos[repositoryID].TrackedAt = &now
	db.tracked[repositoryID]++
	return nil
}

func (db *fakeDB) GetRepositoryIssues(_ context.Context, repositoryID uuid.UUID) ([]*models.Issue, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	issues := make([]*models.Issue, 0, len(db.issues[repositoryID]))
	for _, issue := range db.issues[repositoryID] {
		i := *issue
		issues = append(issues, &i)
	}
	return issues, nil
}

func (db *fakeDB) UpsertIssue(_ context.Context, repositoryID uuid.UUID, issue *models.Issue) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	i := *issue
	db.issues[repositoryID][issue.ID] = &i
	db.issueWrites++
	return nil
}

func (db *fakeDB) DeleteIssue(_ context.Context, issueID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, issues := range db.issues {
		delete(issues, issueID)
	}
	db.issueDeletes++
	return nil
}

func (db *fakeDB) timesTracked(repositoryID uuid.UUID) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.tracked[repositoryID]
}

// fakeGitHub serves canned repositories, recording how many fetches run at
// the same time
type fakeGitHub struct {
	mu     sync.Mutex
	repos  map[string]*models.RemoteRepository
	errs   map[string]error
	hang   map[string]chan struct{}
	delay  time.Duration
	tokens map[string]bool

	inFlight     int
	peak         int
	sharedToken  bool
	rateLimitErr error
	rateLimited  []string
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{
		repos:  make(map[string]*models.RemoteRepository),
		errs:   make(map[string]error),
		hang:   make(map[string]chan struct{}),
		tokens: make(map[string]bool),
	}
}

func (gh *fakeGitHub) FetchRepository(ctx context.Context, token, repoURL string) (*models.RemoteRepository, error) {
	gh.mu.Lock()
	gh.inFlight++
	if gh.inFlight > gh.peak {
		gh.peak = gh.inFlight
	}
	if gh.tokens[token] {
		gh.sharedToken = true
	}
	gh.tokens[token] = true
	hang := gh.hang[repoURL]
	gh.mu.Unlock()

	// Hanging fetches ignore the context on purpose
	if hang != nil {
		<-hang
	}
	time.Sleep(gh.delay)

	gh.mu.Lock()
	defer gh.mu.Unlock()
	gh.inFlight--
	delete(gh.tokens, token)

	if hang != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := gh.errs[repoURL]; err != nil {
		return nil, err
	}
	remote := gh.repos[repoURL]
	if remote == nil {
		remote = &models.RemoteRepository{Topics: []string{}, Languages: []string{}}
	}
	return remote, nil
}

func (gh *fakeGitHub) RateLimit(_ context.Context, token string) (*models.RateLimit, error) {
	gh.mu.Lock()
	defer gh.mu.Unlock()

	gh.rateLimited = append(gh.rateLimited, token)
	if gh.rateLimitErr != nil {
		return nil, gh.rateLimitErr
	}
	return &models.RateLimit{
		Core:    models.Rate{Limit: 5000, Remaining: 4000},
		GraphQL: models.Rate{Limit: 5000, Remaining: 3000},
	}, nil
}

func (gh *fakeGitHub) setRepository(repoURL string, remote *models.RemoteRepository) {
	gh.mu.Lock()
	defer gh.mu.Unlock()
	gh.repos[repoURL] = remote
}
