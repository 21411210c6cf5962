package db

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: artifact job status ledger
		{
			ID: "001_artifact_jobs",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&ArtifactJob{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("artifact_jobs")
			},
		},

		// Migration 002: quota account and ledger outbox
		{
			ID: "002_quota",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Account{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&OutboxEntry{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("quota_accounts", "ledger_outbox")
			},
		},
	})

	return m.Migrate()
}
