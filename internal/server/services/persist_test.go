package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/osfrelay/internal/logging"
	"github.com/dmitrijs2005/osfrelay/internal/server/models"
	"github.com/dmitrijs2005/osfrelay/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qInsertExperiment = `INSERT INTO experiments \(id, title, owner, osf_repo, osf_files_link, active\)`
	qInsertMembership = `INSERT INTO user_experiments \(user_id, experiment_id\)`
	qInsertKey        = `INSERT INTO idempotency_keys \(user_id, key, experiment_id\)`
)

func newPostgresBackedService(t *testing.T) (*ExperimentService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewExperimentService(db, repomanager.NewPostgresRepositoryManager(), nil, plainSealer{}, logging.Nop{}, fastPolicy)
	return s, mock
}

func testExperiment() *models.Experiment {
	return &models.Experiment{
		ID:           "AbCdEf123456",
		Title:        "T1",
		Owner:        "U",
		OSFRepo:      "xy99z",
		OSFFilesLink: "https://osf.io/upload/xy99z",
	}
}

func TestPersist_WritesAllRowsInOneTransaction(t *testing.T) {
	s, mock := newPostgresBackedService(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	exp := testExperiment()

	mock.ExpectBegin()
	mock.ExpectQuery(qInsertExperiment).
		WithArgs("AbCdEf123456", "T1", "U", "xy99z", "https://osf.io/upload/xy99z", false).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))
	mock.ExpectExec(qInsertMembership).WithArgs("U", "AbCdEf123456").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(qInsertKey).WithArgs("U", "k1", "AbCdEf123456").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.persist(context.Background(), logging.Nop{}, exp, "k1"))
	assert.Equal(t, created, exp.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPersist_MembershipFailureRollsBackExperiment(t *testing.T) {
	s, mock := newPostgresBackedService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(qInsertExperiment).
		WithArgs("AbCdEf123456", "T1", "U", "xy99z", "https://osf.io/upload/xy99z", false).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectExec(qInsertMembership).WithArgs("U", "AbCdEf123456").WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	err := s.persist(context.Background(), logging.Nop{}, testExperiment(), "k1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "error adding experiment to user")

	// no commit and no key insert: the experiment row is discarded with the tx
	require.NoError(t, mock.ExpectationsWereMet())
}
