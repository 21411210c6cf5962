package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/Katie1225/voicevault/pkg/models"
)

// QuotaStore persists the quota account and the ledger outbox.
type QuotaStore struct {
	db *gorm.DB
}

// NewQuotaStore creates a new quota store.
func NewQuotaStore(store *Store) *QuotaStore {
	return &QuotaStore{db: store.DB}
}

// GetOrCreateAccount loads the account row, creating it with a zero balance
// on first use.
func (s *QuotaStore) GetOrCreateAccount(ctx context.Context, id string) (*Account, error) {
	var acct Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		acct = Account{ID: id}
		if err := s.db.WithContext(ctx).Create(&acct).Error; err != nil {
			return nil, err
		}
		return &acct, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// SaveAccount persists the full account row.
func (s *QuotaStore) SaveAccount(ctx context.Context, acct *Account) error {
	return s.db.WithContext(ctx).Save(acct).Error
}

// Enqueue appends a transaction to the outbox.
func (s *QuotaStore) Enqueue(ctx context.Context, txn models.LedgerTransaction) error {
	entry := &OutboxEntry{
		AccountID: txn.AccountID,
		Action:    txn.Action,
		Value:     txn.Value,
		Note:      txn.Note,
	}
	if !txn.At.IsZero() {
		entry.CreatedAtEpoch = txn.At.UnixMilli()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// Pending returns up to limit outbox entries, oldest first.
func (s *QuotaStore) Pending(ctx context.Context, limit int) ([]OutboxEntry, error) {
	var entries []OutboxEntry
	err := s.db.WithContext(ctx).
		Order("created_at_epoch ASC, id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// MarkSent removes a reported entry from the outbox.
func (s *QuotaStore) MarkSent(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Delete(&OutboxEntry{}, id).Error
}

// MarkAttempt bumps the attempt counter after a failed report.
func (s *QuotaStore) MarkAttempt(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).
		Model(&OutboxEntry{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

// TouchReconciled records the time of the last reconciliation.
func (s *QuotaStore) TouchReconciled(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", id).
		UpdateColumn("reconciled_at_epoch", at.UnixMilli()).Error
}
