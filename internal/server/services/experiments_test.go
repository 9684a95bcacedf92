package services

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/osfrelay/internal/common"
	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
	"github.com/dmitrijs2005/osfrelay/internal/server/osf"
	"github.com/dmitrijs2005/osfrelay/internal/server/osf/osftest"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type provisionFixture struct {
	db    *sql.DB
	mock  sqlmock.Sqlmock
	store *memStore
	osf   *osftest.Server
	svc   *ExperimentService
}

func newProvisionFixture(t *testing.T) *provisionFixture {
	t.Helper()

	db, mock := newSQLMockDB(t)
	t.Cleanup(func() { db.Close() })

	srv := osftest.NewServer("T1")
	t.Cleanup(srv.Close)
	srv.Configure(func(s *osftest.Server) { s.NodeIDs = []string{"xy99z"} })

	client, err := osf.NewClient(srv.BaseURL(), osf.WithRateLimit(0), osf.WithRequestTimeout(2*time.Second))
	require.NoError(t, err)

	store := newMemStore()
	store.addUser("U", "sealed:T1", true)

	svc := NewExperimentService(db, &fakeRepoManager{m: store}, client, plainSealer{}, logging.Nop{}, fastPolicy)
	return &provisionFixture{db: db, mock: mock, store: store, osf: srv, svc: svc}
}

func pilotInput() CreateExperimentInput {
	return CreateExperimentInput{Title: "Pilot Study", OSFProjectReference: "ab12c", OSFComponentName: "data"}
}

func requireProvisionError(t *testing.T, err error, kind error) *ProvisionError {
	t.Helper()
	require.Error(t, err)
	var perr *ProvisionError
	require.True(t, errors.As(err, &perr), "want *ProvisionError, got %T: %v", err, err)
	require.ErrorIs(t, err, kind)
	assert.Equal(t, kind, perr.Kind)
	return perr
}

func TestCreateExperiment_Success(t *testing.T) {
	f := newProvisionFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	exp, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())
	require.NoError(t, err)

	assert.Len(t, exp.ID, common.ExperimentIDLength)
	for _, r := range exp.ID {
		assert.True(t, strings.ContainsRune(common.ExperimentIDAlphabet, r), "unexpected symbol %q", r)
	}
	assert.Equal(t, "Pilot Study", exp.Title)
	assert.Equal(t, "U", exp.Owner)
	assert.Equal(t, "xy99z", exp.OSFRepo)
	assert.Equal(t, "https://osf.io/upload/xy99z", exp.OSFFilesLink)
	assert.False(t, exp.Active)
	assert.True(t, exp.Usable())

	stored, ok := f.store.experiments[exp.ID]
	require.True(t, ok)
	assert.Equal(t, exp.Owner, stored.Owner)
	assert.True(t, f.store.users["U"].HasExperiment(exp.ID))

	created := f.osf.Created()
	require.Len(t, created, 1)
	assert.Equal(t, "ab12c", created[0].Parent)
	assert.Equal(t, "data", created[0].Title)
	assert.Equal(t, osf.CategoryData, created[0].Category)
	assert.Equal(t, osf.Description, created[0].Description)
	assert.Empty(t, f.osf.Deleted())

	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateExperiment_NodeCreationUnauthorized(t *testing.T) {
	f := newProvisionFixture(t)
	f.osf.Configure(func(s *osftest.Server) { s.CreateStatus = http.StatusUnauthorized })

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	perr := requireProvisionError(t, err, common.ErrOSFUnauthorized)
	assert.Empty(t, perr.OrphanNodeID)
	assert.False(t, perr.SafeToRetry())
	assert.Contains(t, err.Error(), "cannot reach OSF: authorization failed")

	assert.Empty(t, f.store.experiments)
	assert.Empty(t, f.store.users["U"].Experiments)
	assert.Zero(t, f.store.createExpCalls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateExperiment_MissingTokenIsSentAndRejected(t *testing.T) {
	f := newProvisionFixture(t)
	f.store.addUser("U", "", false)

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	requireProvisionError(t, err, common.ErrOSFUnauthorized)
	assert.Empty(t, f.osf.Created())
	assert.Empty(t, f.store.experiments)
}

func TestCreateExperiment_UnknownUser(t *testing.T) {
	f := newProvisionFixture(t)

	_, err := f.svc.CreateExperiment(context.Background(), "nobody", pilotInput())

	requireProvisionError(t, err, common.ErrOSFUnauthorized)
	assert.ErrorIs(t, err, common.ErrOSFNotConnected)
	assert.Empty(t, f.osf.Created())
}

func TestCreateExperiment_UnreadableStoredToken(t *testing.T) {
	f := newProvisionFixture(t)
	f.svc.sealer = plainSealer{openErr: errors.New("message authentication failed")}

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	requireProvisionError(t, err, common.ErrOSFUnauthorized)
	assert.Empty(t, f.osf.Created())
}

func TestCreateExperiment_UserLookupFails(t *testing.T) {
	f := newProvisionFixture(t)
	f.store.getUserErr = errBoom{}

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	requireProvisionError(t, err, common.ErrPersistence)
	assert.Empty(t, f.osf.Created())
}

func TestCreateExperiment_Validation(t *testing.T) {
	f := newProvisionFixture(t)

	cases := []CreateExperimentInput{
		{Title: "  ", OSFProjectReference: "ab12c", OSFComponentName: "data"},
		{Title: "t", OSFProjectReference: "", OSFComponentName: "data"},
		{Title: "t", OSFProjectReference: "ab/../12c", OSFComponentName: "data"},
		{Title: "t", OSFProjectReference: "ab12c", OSFComponentName: ""},
	}
	for _, in := range cases {
		_, err := f.svc.CreateExperiment(context.Background(), "U", in)
		requireProvisionError(t, err, common.ErrorValidation)
	}

	_, err := f.svc.CreateExperiment(context.Background(), "", pilotInput())
	requireProvisionError(t, err, common.ErrorValidation)

	assert.Empty(t, f.osf.Created())
}

func TestCreateExperiment_ProjectURLIsAccepted(t *testing.T) {
	f := newProvisionFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	in := pilotInput()
	in.OSFProjectReference = " https://osf.io/ab12c/ "

	_, err := f.svc.CreateExperiment(context.Background(), "U", in)
	require.NoError(t, err)

	require.Len(t, f.osf.Created(), 1)
	assert.Equal(t, "ab12c", f.osf.Created()[0].Parent)
}

func TestCreateExperiment_FilesFetchFailsCompensates(t *testing.T) {
	f := newProvisionFixture(t)
	f.osf.Configure(func(s *osftest.Server) { s.FilesStatus = http.StatusNotFound })

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	perr := requireProvisionError(t, err, common.ErrOSFRequest)
	assert.Equal(t, "xy99z", perr.OrphanNodeID)
	assert.True(t, perr.Compensated)
	assert.True(t, perr.SafeToRetry())
	assert.Equal(t, 1, f.osf.FilesCalls(), "404 is not retried")
	assert.Equal(t, []string{"xy99z"}, f.osf.Deleted())

	assert.Empty(t, f.store.experiments)
	assert.Empty(t, f.store.users["U"].Experiments)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateExperiment_FilesFetchRetriesTransientFailure(t *testing.T) {
	f := newProvisionFixture(t)
	f.osf.Configure(func(s *osftest.Server) { s.FilesFailures = 1 })
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	exp, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())
	require.NoError(t, err)

	assert.Equal(t, "https://osf.io/upload/xy99z", exp.OSFFilesLink)
	assert.Equal(t, 2, f.osf.FilesCalls())
	assert.Len(t, f.osf.Created(), 1, "node creation is never repeated")
}

func TestCreateExperiment_MalformedFilesListing(t *testing.T) {
	tests := []struct {
		name      string
		configure func(s *osftest.Server)
	}{
		{name: "no files link", configure: func(s *osftest.Server) { s.OmitFilesLink = true }},
		{name: "empty provider list", configure: func(s *osftest.Server) { s.EmptyFiles = true }},
		{name: "empty upload link", configure: func(s *osftest.Server) { s.EmptyUpload = true }},
		{name: "files link on another host", configure: func(s *osftest.Server) {
			s.FilesLinkOverride = "https://evil.example/v2/nodes/xy99z/files/"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newProvisionFixture(t)
			f.osf.Configure(tt.configure)

			_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

			perr := requireProvisionError(t, err, common.ErrOSFMalformedResponse)
			assert.Equal(t, "xy99z", perr.OrphanNodeID)
			assert.True(t, perr.Compensated)
			assert.False(t, perr.SafeToRetry())
			assert.Equal(t, []string{"xy99z"}, f.osf.Deleted())
			assert.Empty(t, f.store.experiments)
		})
	}
}

func TestCreateExperiment_PersistenceFailureRollsBackAndCompensates(t *testing.T) {
	f := newProvisionFixture(t)
	f.store.addExpErr = errBoom{}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	perr := requireProvisionError(t, err, common.ErrPersistence)
	assert.ErrorIs(t, err, errBoom{})
	assert.Equal(t, "xy99z", perr.OrphanNodeID)
	assert.True(t, perr.Compensated)
	assert.Equal(t, []string{"xy99z"}, f.osf.Deleted())
	assert.Equal(t, 1, f.store.addExpCalls, "non-retryable errors run the transaction once")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateExperiment_CompensationFailureReportsOrphan(t *testing.T) {
	f := newProvisionFixture(t)
	f.store.createExpErr = errBoom{}
	f.osf.Configure(func(s *osftest.Server) { s.DeleteStatus = http.StatusForbidden })
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	perr := requireProvisionError(t, err, common.ErrPersistence)
	assert.Equal(t, "xy99z", perr.OrphanNodeID)
	assert.False(t, perr.Compensated)
	assert.False(t, perr.SafeToRetry())
	assert.Contains(t, err.Error(), "OSF node xy99z was left behind")
	assert.Empty(t, f.osf.Deleted())
}

func TestCreateExperiment_CompensationRetriesTransientFailure(t *testing.T) {
	f := newProvisionFixture(t)
	f.osf.Configure(func(s *osftest.Server) {
		s.EmptyFiles = true
		s.DeleteFailures = 2
	})

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	perr := requireProvisionError(t, err, common.ErrOSFMalformedResponse)
	assert.True(t, perr.Compensated)
	assert.Equal(t, []string{"xy99z"}, f.osf.Deleted())
}

func TestCreateExperiment_CompensatesAfterCallerCancels(t *testing.T) {
	f := newProvisionFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.store.createExpErr = context.Canceled
	f.store.onCreateExp = cancel
	f.mock.ExpectBegin()

	_, err := f.svc.CreateExperiment(ctx, "U", pilotInput())

	perr := requireProvisionError(t, err, common.ErrPersistence)
	assert.True(t, perr.Compensated)
	assert.Equal(t, []string{"xy99z"}, f.osf.Deleted())
}

func TestCreateExperiment_RetriesTransactionWhenSafe(t *testing.T) {
	f := newProvisionFixture(t)
	f.store.createExpErr = safeToRetryErr{}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())

	requireProvisionError(t, err, common.ErrPersistence)
	assert.Equal(t, int(fastPolicy.Attempts), f.store.createExpCalls)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateExperiment_IdempotentReplay(t *testing.T) {
	f := newProvisionFixture(t)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	in := pilotInput()
	in.IdempotencyKey = "req-1"

	first, err := f.svc.CreateExperiment(context.Background(), "U", in)
	require.NoError(t, err)

	second, err := f.svc.CreateExperiment(context.Background(), "U", in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.osf.Created(), 1)
	assert.Len(t, f.store.experiments, 1)
	assert.Equal(t, []string{first.ID}, f.store.users["U"].Experiments)
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateExperiment_IdempotencyKeysAreScopedPerUser(t *testing.T) {
	f := newProvisionFixture(t)
	f.store.addUser("V", "sealed:T1", true)
	f.osf.Configure(func(s *osftest.Server) { s.NodeIDs = []string{"xy99z", "zz11a"} })
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	in := pilotInput()
	in.IdempotencyKey = "same"

	a, err := f.svc.CreateExperiment(context.Background(), "U", in)
	require.NoError(t, err)
	b, err := f.svc.CreateExperiment(context.Background(), "V", in)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "zz11a", b.OSFRepo)
}

func TestCreateExperiment_IdempotencyKeyRace(t *testing.T) {
	f := newProvisionFixture(t)
	winner := &models.Experiment{ID: "WINNER000000", Title: "Pilot Study", Owner: "U", OSFRepo: "aaaaa", OSFFilesLink: "https://osf.io/upload/aaaaa"}
	f.store.experiments[winner.ID] = winner
	f.store.createKeyErr = &pgconn.PgError{Code: "23505"}
	f.store.afterCreateKeyFn = func() {
		f.store.keys[[2]string{"U", "req-1"}] = winner.ID
	}
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	in := pilotInput()
	in.IdempotencyKey = "req-1"

	got, err := f.svc.CreateExperiment(context.Background(), "U", in)
	require.NoError(t, err)

	assert.Equal(t, winner.ID, got.ID)
	assert.Equal(t, []string{"xy99z"}, f.osf.Deleted(), "the losing node is removed")
	require.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateExperiment_IdempotencyLookupFails(t *testing.T) {
	f := newProvisionFixture(t)
	f.svc.repomanager = &failingKeysManager{fakeRepoManager{m: f.store}}

	in := pilotInput()
	in.IdempotencyKey = "req-1"

	_, err := f.svc.CreateExperiment(context.Background(), "U", in)
	requireProvisionError(t, err, common.ErrPersistence)
	assert.Empty(t, f.osf.Created())
}

func TestCreateExperiment_IDGenerationFails(t *testing.T) {
	f := newProvisionFixture(t)
	f.svc.newID = func() (string, error) { return "", errBoom{} }

	_, err := f.svc.CreateExperiment(context.Background(), "U", pilotInput())
	requireProvisionError(t, err, common.ErrorInternal)
	assert.Empty(t, f.osf.Created())
}

func TestListAndGetExperiment(t *testing.T) {
	f := newProvisionFixture(t)
	f.store.experiments["AAAAAAAAAAAA"] = &models.Experiment{ID: "AAAAAAAAAAAA", Owner: "U", Title: "mine"}
	f.store.experiments["BBBBBBBBBBBB"] = &models.Experiment{ID: "BBBBBBBBBBBB", Owner: "V", Title: "theirs"}

	list, err := f.svc.ListExperiments(context.Background(), "U")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mine", list[0].Title)

	got, err := f.svc.GetExperiment(context.Background(), "U", "AAAAAAAAAAAA")
	require.NoError(t, err)
	assert.Equal(t, "mine", got.Title)

	_, err = f.svc.GetExperiment(context.Background(), "U", "BBBBBBBBBBBB")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = f.svc.GetExperiment(context.Background(), "U", "CCCCCCCCCCCC")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
