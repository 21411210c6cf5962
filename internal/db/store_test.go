package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/Katie1225/voicevault/pkg/models"
)

// DBSuite is a test suite for the SQLite side-ledger.
type DBSuite struct {
	suite.Suite
	tempDir string
	store   *Store
}

func (s *DBSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "db-test-*")
	s.Require().NoError(err)

	s.store, err = NewStore(Config{
		Path:     filepath.Join(s.tempDir, "test.db"),
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	s.Require().NoError(err)
}

func (s *DBSuite) TearDownTest() {
	s.store.Close()
	os.RemoveAll(s.tempDir)
}

func TestDBSuite(t *testing.T) {
	suite.Run(t, new(DBSuite))
}

// TestNewStore tests that migrations create the expected tables.
func (s *DBSuite) TestNewStore() {
	s.NoError(s.store.Ping())

	var journalMode string
	s.Require().NoError(s.store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	s.Equal("wal", journalMode)

	for _, table := range []string{"artifact_jobs", "quota_accounts", "ledger_outbox"} {
		s.Truef(s.store.DB.Migrator().HasTable(table), "table %q does not exist", table)
	}
}

// TestJobLedgerTransitions tests pending/done/failed upserts.
func (s *DBSuite) TestJobLedgerTransitions() {
	ctx := context.Background()
	jobs := NewJobStore(s.store)

	job, err := jobs.Get(ctx, "/rec/a.m4a", models.OpTrim)
	s.Require().NoError(err)
	s.Nil(job)

	s.Require().NoError(jobs.MarkPending(ctx, "/rec/a.m4a", models.OpTrim))
	job, err = jobs.Get(ctx, "/rec/a.m4a", models.OpTrim)
	s.Require().NoError(err)
	s.Require().NotNil(job)
	s.Equal(models.JobPending, job.Status)

	s.Require().NoError(jobs.MarkFailed(ctx, "/rec/a.m4a", models.OpTrim, "tool exploded"))
	job, err = jobs.Get(ctx, "/rec/a.m4a", models.OpTrim)
	s.Require().NoError(err)
	s.Equal(models.JobFailed, job.Status)
	s.Equal("tool exploded", job.Diagnostic)

	s.Require().NoError(jobs.MarkDone(ctx, "/rec/a.m4a", models.OpTrim, 1))
	job, err = jobs.Get(ctx, "/rec/a.m4a", models.OpTrim)
	s.Require().NoError(err)
	s.Equal(models.JobDone, job.Status)
	s.Equal(1, job.Segments)

	// Same source, different operation is a distinct row.
	s.Require().NoError(jobs.MarkPending(ctx, "/rec/a.m4a", models.OpSegment))
	job, err = jobs.Get(ctx, "/rec/a.m4a", models.OpSegment)
	s.Require().NoError(err)
	s.Equal(models.JobPending, job.Status)

	s.Require().NoError(jobs.DeleteForSource(ctx, "/rec/a.m4a"))
	job, err = jobs.Get(ctx, "/rec/a.m4a", models.OpTrim)
	s.Require().NoError(err)
	s.Nil(job)
}

// TestQuotaAccountLifecycle tests account creation and persistence.
func (s *DBSuite) TestQuotaAccountLifecycle() {
	ctx := context.Background()
	quota := NewQuotaStore(s.store)

	acct, err := quota.GetOrCreateAccount(ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(int64(0), acct.Coins)
	s.False(acct.Gifted)

	acct.Coins = 42
	acct.Gifted = true
	s.Require().NoError(quota.SaveAccount(ctx, acct))

	again, err := quota.GetOrCreateAccount(ctx, "user-1")
	s.Require().NoError(err)
	s.Equal(int64(42), again.Coins)
	s.True(again.Gifted)
}

// TestOutboxDrainOrder tests FIFO outbox semantics.
func (s *DBSuite) TestOutboxDrainOrder() {
	ctx := context.Background()
	quota := NewQuotaStore(s.store)

	for i, note := range []string{"first", "second", "third"} {
		s.Require().NoError(quota.Enqueue(ctx, models.LedgerTransaction{
			AccountID: "user-1",
			Action:    models.ActionDebit,
			Value:     int64(i + 1),
			Note:      note,
		}))
	}

	pending, err := quota.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 3)
	s.Equal("first", pending[0].Note)

	s.Require().NoError(quota.MarkAttempt(ctx, pending[0].ID))
	s.Require().NoError(quota.MarkSent(ctx, pending[0].ID))

	pending, err = quota.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal("second", pending[0].Note)
}
