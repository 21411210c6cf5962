package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Katie1225/voicevault/pkg/models"
)

// JobStore provides artifact-job ledger operations.
type JobStore struct {
	db *gorm.DB
}

// NewJobStore creates a new job store.
func NewJobStore(store *Store) *JobStore {
	return &JobStore{db: store.DB}
}

// MarkPending upserts the (source, operation) row into pending state.
func (s *JobStore) MarkPending(ctx context.Context, sourceURI string, op models.Operation) error {
	job := &ArtifactJob{
		SourceURI: sourceURI,
		Operation: op,
		Status:    models.JobPending,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_uri"}, {Name: "operation"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "diagnostic", "segments", "updated_at_epoch"}),
	}).Create(job).Error
}

// MarkDone upserts the row into done state. segments records how many
// artifacts the call produced (1 for trim/enhance).
func (s *JobStore) MarkDone(ctx context.Context, sourceURI string, op models.Operation, segments int) error {
	job := &ArtifactJob{
		SourceURI: sourceURI,
		Operation: op,
		Status:    models.JobDone,
		Segments:  segments,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_uri"}, {Name: "operation"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "diagnostic", "segments", "updated_at_epoch"}),
	}).Create(job).Error
}

// MarkFailed upserts the row into failed state with the tool diagnostic.
func (s *JobStore) MarkFailed(ctx context.Context, sourceURI string, op models.Operation, diagnostic string) error {
	job := &ArtifactJob{
		SourceURI:  sourceURI,
		Operation:  op,
		Status:     models.JobFailed,
		Diagnostic: diagnostic,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_uri"}, {Name: "operation"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "diagnostic", "segments", "updated_at_epoch"}),
	}).Create(job).Error
}

// Get returns the ledger row for (source, operation), or nil when the pair
// has never been attempted.
func (s *JobStore) Get(ctx context.Context, sourceURI string, op models.Operation) (*ArtifactJob, error) {
	var job ArtifactJob
	err := s.db.WithContext(ctx).
		Where("source_uri = ? AND operation = ?", sourceURI, op).
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteForSource drops all ledger rows for a source URI. Called when the
// recording is removed from the catalog.
func (s *JobStore) DeleteForSource(ctx context.Context, sourceURI string) error {
	return s.db.WithContext(ctx).
		Where("source_uri = ?", sourceURI).
		Delete(&ArtifactJob{}).Error
}
