package db

import (
	"time"

	"gorm.io/gorm"

	"github.com/Katie1225/voicevault/pkg/models"
)

// ArtifactJob is one row of the derived-artifact status ledger, keyed by
// (source URI, operation). The on-disk existence check remains the cache key
// for "already produced"; this ledger records pending/done/failed so a
// truncated artifact can be told apart from one that was never attempted.
type ArtifactJob struct {
	ID             int64            `gorm:"primaryKey;autoIncrement"`
	SourceURI      string           `gorm:"index;not null;uniqueIndex:idx_artifact_jobs_source_op,priority:1"`
	Operation      models.Operation `gorm:"type:text;not null;uniqueIndex:idx_artifact_jobs_source_op,priority:2;check:operation IN ('trim', 'enhance', 'segment', 'transcribe', 'summarize')"`
	Status         models.JobStatus `gorm:"type:text;not null;check:status IN ('pending', 'done', 'failed');index"`
	Diagnostic     string           `gorm:"type:text"`
	Segments       int              `gorm:"default:0"`
	UpdatedAtEpoch int64            `gorm:"index;not null"`
}

func (ArtifactJob) TableName() string { return "artifact_jobs" }

// BeforeSave hook to keep the update timestamp current.
func (j *ArtifactJob) BeforeSave(tx *gorm.DB) error {
	j.UpdatedAtEpoch = time.Now().UnixMilli()
	return nil
}

// OutboxEntry is one pending ledger transaction awaiting remote report.
// Rows survive process restarts and are drained with retry, so a balance
// committed locally is eventually reported even across a crash.
type OutboxEntry struct {
	ID             int64                    `gorm:"primaryKey;autoIncrement"`
	AccountID      string                   `gorm:"index;not null"`
	Action         models.TransactionAction `gorm:"type:text;not null;check:action IN ('debit', 'gift', 'reconcile')"`
	Value          int64                    `gorm:"not null"`
	Note           string                   `gorm:"type:text"`
	Attempts       int                      `gorm:"default:0"`
	CreatedAtEpoch int64                    `gorm:"index;not null"`
}

func (OutboxEntry) TableName() string { return "ledger_outbox" }

// BeforeCreate hook to ensure timestamps are set.
func (e *OutboxEntry) BeforeCreate(tx *gorm.DB) error {
	if e.CreatedAtEpoch == 0 {
		e.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// Account is the persisted quota account.
type Account struct {
	ID                string `gorm:"primaryKey"`
	Coins             int64  `gorm:"not null;default:0;check:coins >= 0"`
	Gifted            bool   `gorm:"not null;default:false"`
	ReconciledAtEpoch int64  `gorm:"default:0"`
}

func (Account) TableName() string { return "quota_accounts" }
