// Package catalog holds the authoritative ordered collection of recordings.
// All mutations are serialized behind the catalog's lock and trigger a full
// re-serialization through the persistence layer.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Katie1225/voicevault/pkg/models"
)

var (
	// ErrNotLoaded gates every mutation until the initial load completes,
	// preventing a write-before-read race from clobbering the persisted
	// catalog with an empty in-memory one.
	ErrNotLoaded = errors.New("catalog not loaded")
	// ErrNotFound is returned for an unknown recording URI.
	ErrNotFound = errors.New("recording not found")
	// ErrDuplicateURI is returned when appending an already-known URI.
	ErrDuplicateURI = errors.New("recording already in catalog")
)

// StarredToken is the filter query that matches only starred recordings.
const StarredToken = "is:starred"

// SortKey selects a catalog ordering.
type SortKey string

const (
	SortNewest       SortKey = "newest"
	SortOldest       SortKey = "oldest"
	SortSizeDesc     SortKey = "size"
	SortNameAsc      SortKey = "name_asc"
	SortNameDesc     SortKey = "name_desc"
	SortStarredFirst SortKey = "starred"
)

// Persister is the catalog's view of the persistence layer.
type Persister interface {
	Load() ([]*models.RecordingItem, error)
	Save(items []*models.RecordingItem) error
	RemoveFromBackup(uri string) error
}

// ArtifactRemover deletes every derived file a recording references, plus
// its job-ledger rows. Implemented by the artifact store.
type ArtifactRemover interface {
	RemoveAll(ctx context.Context, item *models.RecordingItem) error
}

// Patch is a field-scoped update to a recording. Nil fields are untouched,
// so a user edit racing an async job completion merges instead of
// last-write-wins on the whole record.
type Patch struct {
	DisplayName *string
	Notes       *string
	IsStarred   *bool
}

// Catalog is the in-memory catalog service. Create with New, call Load once
// at startup, then treat it as the single source of truth for recordings.
type Catalog struct {
	mu        sync.Mutex
	persist   Persister
	artifacts ArtifactRemover

	items  []*models.RecordingItem
	index  map[string]int
	loaded bool
	dirty  bool
}

// New creates a Catalog backed by the given persistence layer. artifacts may
// be nil in tests that never delete.
func New(persist Persister, artifacts ArtifactRemover) *Catalog {
	return &Catalog{
		persist:   persist,
		artifacts: artifacts,
		index:     make(map[string]int),
	}
}

// Load reads the persisted catalog and opens the mutation gate. Safe to call
// once; subsequent calls are no-ops.
func (c *Catalog) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}
	items, err := c.persist.Load()
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	c.items = items
	c.index = make(map[string]int, len(items))
	for i, it := range items {
		c.index[it.URI] = i
	}
	c.loaded = true
	log.Info().Int("items", len(items)).Msg("Catalog loaded")
	return nil
}

// Loaded reports whether the initial load has completed.
func (c *Catalog) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// Len returns the number of recordings.
func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Get returns a copy of the recording with the given URI.
func (c *Catalog) Get(uri string) (*models.RecordingItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return c.items[i].Clone(), nil
}

// Append adds a new recording to the catalog.
func (c *Catalog) Append(item *models.RecordingItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ErrNotLoaded
	}
	if _, ok := c.index[item.URI]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateURI, item.URI)
	}
	c.items = append(c.items, item.Clone())
	c.index[item.URI] = len(c.items) - 1
	c.save()
	return nil
}

// Update applies a field-scoped patch to a recording.
func (c *Catalog) Update(uri string, patch Patch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ErrNotLoaded
	}
	i, ok := c.index[uri]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	it := c.items[i]
	if patch.DisplayName != nil {
		it.DisplayName = *patch.DisplayName
	}
	if patch.Notes != nil {
		it.Notes = *patch.Notes
	}
	if patch.IsStarred != nil {
		it.IsStarred = *patch.IsStarred
	}
	c.save()
	return nil
}

// SetTranscript records a completed transcription.
func (c *Catalog) SetTranscript(uri, transcript string) error {
	return c.mutate(uri, func(it *models.RecordingItem) {
		it.Transcript = transcript
	})
}

// SetSummary records a completed summary under its mode key.
func (c *Catalog) SetSummary(uri, mode, text string) error {
	return c.mutate(uri, func(it *models.RecordingItem) {
		it.SetSummary(mode, text)
	})
}

// SetDerived records derived files under their variant keys. Entries are
// added or explicitly re-derived, never silently dropped.
func (c *Catalog) SetDerived(uri string, files map[string]models.DerivedFile) error {
	return c.mutate(uri, func(it *models.RecordingItem) {
		for key, df := range files {
			it.SetDerived(key, df)
		}
	})
}

// SetDuration records the measured duration of a recording.
func (c *Catalog) SetDuration(uri string, seconds float64) error {
	return c.mutate(uri, func(it *models.RecordingItem) {
		it.DurationSec = seconds
	})
}

func (c *Catalog) mutate(uri string, fn func(*models.RecordingItem)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ErrNotLoaded
	}
	i, ok := c.index[uri]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	fn(c.items[i])
	c.save()
	return nil
}

// Remove deletes a recording: derived files first (per the artifact store's
// deletion contract), then the catalog entry, then the backup patch.
func (c *Catalog) Remove(ctx context.Context, uri string) error {
	return c.RemoveBatch(ctx, []string{uri})
}

// RemoveBatch deletes several recordings. The in-memory catalog reflects the
// post-delete state atomically; per-item file deletion failures are logged,
// never rolled back. An orphaned file beats an entry users can't interact
// with.
func (c *Catalog) RemoveBatch(ctx context.Context, uris []string) error {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return ErrNotLoaded
	}
	victims := make([]*models.RecordingItem, 0, len(uris))
	for _, uri := range uris {
		i, ok := c.index[uri]
		if !ok {
			c.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		victims = append(victims, c.items[i])
	}

	drop := make(map[string]bool, len(uris))
	for _, uri := range uris {
		drop[uri] = true
	}
	kept := c.items[:0]
	for _, it := range c.items {
		if !drop[it.URI] {
			kept = append(kept, it)
		}
	}
	c.items = kept
	c.index = make(map[string]int, len(kept))
	for i, it := range kept {
		c.index[it.URI] = i
	}
	c.save()
	c.mu.Unlock()

	// File-system cleanup happens outside the lock; the catalog state is
	// already final.
	if c.artifacts != nil {
		g, gctx := errgroup.WithContext(ctx)
		for _, it := range victims {
			it := it
			g.Go(func() error {
				if err := c.artifacts.RemoveAll(gctx, it); err != nil {
					log.Warn().Err(err).Str("uri", it.URI).Msg("Derived-file cleanup incomplete")
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, uri := range uris {
		if err := c.persist.RemoveFromBackup(uri); err != nil {
			log.Warn().Err(err).Str("uri", uri).Msg("Backup patch failed")
		}
	}
	return nil
}

// Flush retries persistence after a failed save. No-op when clean.
func (c *Catalog) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	if err := c.persist.Save(c.snapshotLocked()); err != nil {
		return fmt.Errorf("flush catalog: %w", err)
	}
	c.dirty = false
	return nil
}

// Resave unconditionally rewrites the persisted catalog from memory. Used
// when the on-disk file is found missing.
func (c *Catalog) Resave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		return ErrNotLoaded
	}
	if err := c.persist.Save(c.snapshotLocked()); err != nil {
		c.dirty = true
		return fmt.Errorf("resave catalog: %w", err)
	}
	c.dirty = false
	return nil
}

// save persists the catalog under the held lock. A storage failure is logged
// and leaves the in-memory catalog as the temporary source of truth until
// the next successful write.
func (c *Catalog) save() {
	if err := c.persist.Save(c.snapshotLocked()); err != nil {
		c.dirty = true
		log.Error().Err(err).Msg("Catalog persistence failed, in-memory state is authoritative")
		return
	}
	c.dirty = false
}

func (c *Catalog) snapshotLocked() []*models.RecordingItem {
	out := make([]*models.RecordingItem, len(c.items))
	for i, it := range c.items {
		out[i] = it.Clone()
	}
	return out
}

// FilterSorted returns the recordings matching query, ordered by key.
// Matching is case-insensitive over display name, raw name, notes, and
// transcript; the StarredToken query matches only starred items. Ties keep
// their prior relative order.
func (c *Catalog) FilterSorted(query string, key SortKey) []*models.RecordingItem {
	c.mu.Lock()
	defer c.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]*models.RecordingItem, 0, len(c.items))
	for _, it := range c.items {
		if matches(it, q) {
			out = append(out, it.Clone())
		}
	}

	switch key {
	case SortNewest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	case SortOldest:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	case SortSizeDesc:
		sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	case SortNameAsc:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Label()) < strings.ToLower(out[j].Label())
		})
	case SortNameDesc:
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].Label()) > strings.ToLower(out[j].Label())
		})
	case SortStarredFirst:
		sort.SliceStable(out, func(i, j int) bool { return out[i].IsStarred && !out[j].IsStarred })
	}
	return out
}

func matches(it *models.RecordingItem, q string) bool {
	if q == "" {
		return true
	}
	if q == StarredToken {
		return it.IsStarred
	}
	for _, field := range []string{it.DisplayName, it.Name, it.Notes, it.Transcript} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}
