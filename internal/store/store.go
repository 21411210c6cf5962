// Package store persists the recording catalog as a whole-catalog JSON blob
// at a primary and a backup location, and repairs one from the other on load.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/Katie1225/voicevault/pkg/models"
)

// snapshotVersion is bumped when the on-disk schema changes shape.
const snapshotVersion = 1

// snapshot is the serialized form of the catalog.
type snapshot struct {
	Version int                     `json:"version"`
	SavedAt time.Time               `json:"saved_at"`
	Items   []*models.RecordingItem `json:"items"`
}

// Store writes the catalog to a primary path and mirrors it to a backup.
// The backup is updated only after a successful primary write, so it is at
// most one write cycle behind and never ahead.
type Store struct {
	primaryPath string
	backupPath  string
}

// New creates a Store for the given primary and backup paths.
func New(primaryPath, backupPath string) *Store {
	return &Store{primaryPath: primaryPath, backupPath: backupPath}
}

// Load reads the catalog, preferring the primary store and falling back to
// the backup. When both are unreadable it returns an empty catalog: first
// launch and total corruption look the same from here.
func (s *Store) Load() ([]*models.RecordingItem, error) {
	items, err := readSnapshot(s.primaryPath)
	if err == nil {
		return items, nil
	}
	if !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", s.primaryPath).Msg("Primary catalog unreadable, trying backup")
	}

	items, berr := readSnapshot(s.backupPath)
	if berr == nil {
		log.Info().Int("items", len(items)).Msg("Catalog restored from backup")
		return items, nil
	}
	if !os.IsNotExist(berr) {
		log.Warn().Err(berr).Str("path", s.backupPath).Msg("Backup catalog unreadable")
	}
	return []*models.RecordingItem{}, nil
}

// Save writes the full catalog to the primary store, then syncs the backup.
// A backup sync failure is logged but does not fail the save: the primary
// write already succeeded.
func (s *Store) Save(items []*models.RecordingItem) error {
	snap := snapshot{
		Version: snapshotVersion,
		SavedAt: time.Now(),
		Items:   items,
	}
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	if err := writeAtomic(s.primaryPath, data); err != nil {
		return fmt.Errorf("write primary catalog: %w", err)
	}

	if err := writeAtomic(s.backupPath, data); err != nil {
		log.Error().Err(err).Str("path", s.backupPath).Msg("Backup catalog sync failed")
	}
	return nil
}

// RemoveFromBackup filters the given URI out of the backup store, outside the
// normal write cycle. Defends against a crash landing between the primary
// write of a deletion and the next backup sync.
func (s *Store) RemoveFromBackup(uri string) error {
	items, err := readSnapshot(s.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read backup: %w", err)
	}

	kept := items[:0]
	for _, it := range items {
		if it.URI != uri {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return nil
	}

	snap := snapshot{Version: snapshotVersion, SavedAt: time.Now(), Items: kept}
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal backup: %w", err)
	}
	if err := writeAtomic(s.backupPath, data); err != nil {
		return fmt.Errorf("patch backup: %w", err)
	}
	return nil
}

// PrimaryPath returns the primary store path (watched for deletion).
func (s *Store) PrimaryPath() string {
	return s.primaryPath
}

func readSnapshot(path string) ([]*models.RecordingItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if snap.Items == nil {
		snap.Items = []*models.RecordingItem{}
	}
	return snap.Items, nil
}

// writeAtomic writes data via a temp file and rename so readers never observe
// a torn catalog.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".catalog-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
