package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/dbx"
	"github.com/dmitrijs2005/osfrelay/internal/retryx"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
	experimentsrepo "github.com/dmitrijs2005/osfrelay/internal/server/repositories/experiments"
	idempotencyrepo "github.com/dmitrijs2005/osfrelay/internal/server/repositories/idempotency"
	usersrepo "github.com/dmitrijs2005/osfrelay/internal/server/repositories/users"
)

// --- helpers ---

var fastPolicy = retryx.Policy{Attempts: 3, Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// memStore is an in-memory stand-in for the three tables. Writes apply
// immediately; transaction outcome is asserted through sqlmock.
type memStore struct {
	mu sync.Mutex

	users       map[string]*models.User
	experiments map[string]*models.Experiment
	keys        map[[2]string]string

	getUserErr       error
	createExpErr     error
	addExpErr        error
	createKeyErr     error
	setTokenErr      error
	createExpCalls   int
	addExpCalls      int
	afterCreateKeyFn func()
	onCreateExp      func()
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]*models.User{},
		experiments: map[string]*models.Experiment{},
		keys:        map[[2]string]string{},
	}
}

func (m *memStore) addUser(id, sealedToken string, valid bool) {
	m.users[id] = &models.User{ID: id, OSFToken: sealedToken, OSFTokenValid: valid, Experiments: []string{}}
}

type fakeUsers struct{ m *memStore }

func (f fakeUsers) Ensure(ctx context.Context, userID string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if _, ok := f.m.users[userID]; !ok {
		f.m.users[userID] = &models.User{ID: userID, Experiments: []string{}}
	}
	return nil
}

func (f fakeUsers) GetByID(ctx context.Context, userID string) (*models.User, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.m.getUserErr != nil {
		return nil, f.m.getUserErr
	}
	u, ok := f.m.users[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *u
	cp.Experiments = append([]string{}, u.Experiments...)
	return &cp, nil
}

func (f fakeUsers) SetOSFToken(ctx context.Context, userID string, sealed string, valid bool) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.m.setTokenErr != nil {
		return f.m.setTokenErr
	}
	u, ok := f.m.users[userID]
	if !ok {
		return common.ErrorNotFound
	}
	u.OSFToken, u.OSFTokenValid = sealed, valid
	return nil
}

func (f fakeUsers) AddExperiment(ctx context.Context, userID string, experimentID string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.addExpCalls++
	if f.m.addExpErr != nil {
		return f.m.addExpErr
	}
	u := f.m.users[userID]
	if !u.HasExperiment(experimentID) {
		u.Experiments = append(u.Experiments, experimentID)
	}
	return nil
}

type fakeExperiments struct{ m *memStore }

func (f fakeExperiments) Create(ctx context.Context, e *models.Experiment) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.createExpCalls++
	if f.m.onCreateExp != nil {
		f.m.onCreateExp()
	}
	if f.m.createExpErr != nil {
		return f.m.createExpErr
	}
	e.CreatedAt = time.Now()
	cp := *e
	f.m.experiments[e.ID] = &cp
	return nil
}

func (f fakeExperiments) GetByID(ctx context.Context, id string) (*models.Experiment, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	e, ok := f.m.experiments[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *e
	return &cp, nil
}

func (f fakeExperiments) ListByOwner(ctx context.Context, owner string) ([]*models.Experiment, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	out := []*models.Experiment{}
	for _, e := range f.m.experiments {
		if e.Owner == owner {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeKeys struct{ m *memStore }

func (f fakeKeys) Find(ctx context.Context, userID string, key string) (*models.IdempotencyKey, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	id, ok := f.m.keys[[2]string{userID, key}]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &models.IdempotencyKey{UserID: userID, Key: key, ExperimentID: id}, nil
}

func (f fakeKeys) Create(ctx context.Context, userID string, key string, experimentID string) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.m.createKeyErr != nil {
		if f.m.afterCreateKeyFn != nil {
			f.m.afterCreateKeyFn()
		}
		return f.m.createKeyErr
	}
	f.m.keys[[2]string{userID, key}] = experimentID
	return nil
}

type fakeRepoManager struct{ m *memStore }

func (r *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (r *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository      { return fakeUsers{r.m} }
func (r *fakeRepoManager) Experiments(db dbx.DBTX) experimentsrepo.Repository {
	return fakeExperiments{r.m}
}
func (r *fakeRepoManager) IdempotencyKeys(db dbx.DBTX) idempotencyrepo.Repository {
	return fakeKeys{r.m}
}

// plainSealer stores tokens with a visible prefix so tests can read them.
type plainSealer struct{ openErr error }

func (plainSealer) Seal(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return "sealed:" + s, nil
}

func (p plainSealer) Open(s string) (string, error) {
	if p.openErr != nil {
		return "", p.openErr
	}
	if s == "" {
		return "", nil
	}
	return s[len("sealed:"):], nil
}

// safeToRetryErr is recognised by pgconn.SafeToRetry.
type safeToRetryErr struct{}

func (safeToRetryErr) Error() string     { return "connection refused before send" }
func (safeToRetryErr) SafeToRetry() bool { return true }

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

type failingKeys struct{}

func (failingKeys) Find(context.Context, string, string) (*models.IdempotencyKey, error) {
	return nil, errBoom{}
}
func (failingKeys) Create(context.Context, string, string, string) error { return errBoom{} }

type failingKeysManager struct{ fakeRepoManager }

func (r *failingKeysManager) IdempotencyKeys(db dbx.DBTX) idempotencyrepo.Repository {
	return failingKeys{}
}
