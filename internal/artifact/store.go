// Package artifact maps source recordings to their derived variants
// (trimmed, enhanced, segments). Production is idempotent: a variant already
// present on disk with non-zero size is returned without invoking the
// external tool.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Katie1225/voicevault/pkg/models"
)

// TransformRequest describes one external-tool invocation.
type TransformRequest struct {
	Op        models.Operation
	SourceURI string
	// TargetURI is the output path; for segment operations it is a pattern
	// containing %d for the segment index.
	TargetURI string
	// IntervalSec is set for segment operations only.
	IntervalSec int
}

// Transformer invokes the external audio transform tool.
type Transformer interface {
	Transform(ctx context.Context, req TransformRequest) error
}

// JobLedger records pending/done/failed per (source, operation). The on-disk
// existence check stays the cache key; the ledger exists so truncated output
// can be told apart from output that was never attempted.
type JobLedger interface {
	MarkPending(ctx context.Context, sourceURI string, op models.Operation) error
	MarkDone(ctx context.Context, sourceURI string, op models.Operation, segments int) error
	MarkFailed(ctx context.Context, sourceURI string, op models.Operation, diagnostic string) error
	DeleteForSource(ctx context.Context, sourceURI string) error
}

// SegmentResult reports a (possibly partial) segmentation.
type SegmentResult struct {
	Produced  []models.DerivedFile
	Requested int
	Cached    bool
}

// Partial reports whether some but not all requested segments were produced.
func (r SegmentResult) Partial() bool {
	return len(r.Produced) > 0 && len(r.Produced) < r.Requested
}

// Store produces and tracks derived audio artifacts under a single directory.
type Store struct {
	dir    string
	tool   Transformer
	ledger JobLedger
}

// New creates a Store writing derived files into dir. ledger may be nil.
func New(dir string, tool Transformer, ledger JobLedger) *Store {
	return &Store{dir: dir, tool: tool, ledger: ledger}
}

// TargetPath returns the deterministic output path for a non-segment variant
// of the given source. Determinism is what makes the existence check an
// at-most-once production guarantee.
func (s *Store) TargetPath(sourceURI string, kind models.DerivedKind) string {
	base, ext := splitName(sourceURI)
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s%s", base, kind, ext))
}

// SegmentPath returns the output path for segment n of the given source.
func (s *Store) SegmentPath(sourceURI string, n int) string {
	base, ext := splitName(sourceURI)
	return filepath.Join(s.dir, fmt.Sprintf("%s_segment_%d%s", base, n, ext))
}

// segmentPattern is the %d-bearing pattern handed to the external tool.
func (s *Store) segmentPattern(sourceURI string) string {
	base, ext := splitName(sourceURI)
	return filepath.Join(s.dir, base+"_segment_%d"+ext)
}

// Ensure produces the trimmed or enhanced variant of source, returning the
// existing artifact on a cache hit. The bool result reports the hit.
func (s *Store) Ensure(ctx context.Context, source *models.RecordingItem, kind models.DerivedKind) (models.DerivedFile, bool, error) {
	op, err := opForKind(kind)
	if err != nil {
		return models.DerivedFile{}, false, err
	}

	target := s.TargetPath(source.URI, kind)
	if present(target) {
		return s.derived(source.URI, target, kind), true, nil
	}

	s.markPending(ctx, source.URI, op)
	terr := s.tool.Transform(ctx, TransformRequest{
		Op:        op,
		SourceURI: source.URI,
		TargetURI: target,
	})
	if terr == nil && !present(target) {
		terr = &models.ExternalError{Op: op, Diagnostic: "tool reported success but produced no output"}
	}
	if terr != nil {
		s.markFailed(ctx, source.URI, op, terr)
		return models.DerivedFile{}, false, terr
	}

	s.markDone(ctx, source.URI, op, 1)
	return s.derived(source.URI, target, kind), false, nil
}

// Segment splits source into intervalSec pieces. An interval at or beyond
// the recording duration means "no split" and produces zero segments. On
// tool failure the successfully produced prefix is still returned alongside
// the error, so callers can register partial output.
func (s *Store) Segment(ctx context.Context, source *models.RecordingItem, intervalSec int) (SegmentResult, error) {
	if intervalSec <= 0 {
		return SegmentResult{}, errors.New("segment interval must be positive")
	}
	if float64(intervalSec) >= source.DurationSec {
		return SegmentResult{}, nil
	}
	requested := int(math.Ceil(source.DurationSec / float64(intervalSec)))

	// Cache hit only when every requested segment is already on disk.
	if files, ok := s.presentSegments(source, requested); ok {
		return SegmentResult{Produced: files, Requested: requested, Cached: true}, nil
	}

	s.markPending(ctx, source.URI, models.OpSegment)
	terr := s.tool.Transform(ctx, TransformRequest{
		Op:          models.OpSegment,
		SourceURI:   source.URI,
		TargetURI:   s.segmentPattern(source.URI),
		IntervalSec: intervalSec,
	})

	// Collect the produced prefix regardless of the tool outcome.
	produced := make([]models.DerivedFile, 0, requested)
	for n := 0; n < requested; n++ {
		path := s.SegmentPath(source.URI, n)
		if !present(path) {
			break
		}
		df := s.derived(source.URI, path, models.DerivedSegment)
		df.DurationSec = segmentDuration(source.DurationSec, intervalSec, n)
		produced = append(produced, df)
	}

	if terr != nil {
		s.markFailed(ctx, source.URI, models.OpSegment, terr)
		return SegmentResult{Produced: produced, Requested: requested}, terr
	}
	s.markDone(ctx, source.URI, models.OpSegment, len(produced))
	return SegmentResult{Produced: produced, Requested: requested}, nil
}

// RemoveAll deletes every derived file the item references and clears its
// job-ledger rows. Per-file failures are logged and the cleanup continues:
// an orphaned file is recoverable, a blocked deletion is not.
func (s *Store) RemoveAll(ctx context.Context, item *models.RecordingItem) error {
	var lastErr error
	for key, df := range item.DerivedFiles {
		if err := os.Remove(df.URI); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("variant", key).Str("path", df.URI).Msg("Derived file removal failed")
			lastErr = err
		}
	}
	if s.ledger != nil {
		if err := s.ledger.DeleteForSource(ctx, item.URI); err != nil {
			log.Warn().Err(err).Str("uri", item.URI).Msg("Job ledger cleanup failed")
		}
	}
	return lastErr
}

func (s *Store) presentSegments(source *models.RecordingItem, requested int) ([]models.DerivedFile, bool) {
	files := make([]models.DerivedFile, 0, requested)
	for n := 0; n < requested; n++ {
		path := s.SegmentPath(source.URI, n)
		if !present(path) {
			return nil, false
		}
		df := s.derived(source.URI, path, models.DerivedSegment)
		files = append(files, df)
	}
	return files, true
}

func (s *Store) derived(sourceURI, target string, kind models.DerivedKind) models.DerivedFile {
	return models.DerivedFile{
		URI:         target,
		Name:        filepath.Base(target),
		OriginalURI: sourceURI,
		Kind:        kind,
	}
}

func (s *Store) markPending(ctx context.Context, uri string, op models.Operation) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkPending(ctx, uri, op); err != nil {
		log.Warn().Err(err).Msg("Job ledger mark pending failed")
	}
}

func (s *Store) markDone(ctx context.Context, uri string, op models.Operation, segments int) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkDone(ctx, uri, op, segments); err != nil {
		log.Warn().Err(err).Msg("Job ledger mark done failed")
	}
}

func (s *Store) markFailed(ctx context.Context, uri string, op models.Operation, terr error) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.MarkFailed(ctx, uri, op, terr.Error()); err != nil {
		log.Warn().Err(err).Msg("Job ledger mark failed failed")
	}
}

func opForKind(kind models.DerivedKind) (models.Operation, error) {
	switch kind {
	case models.DerivedTrimmed:
		return models.OpTrim, nil
	case models.DerivedEnhanced:
		return models.OpEnhance, nil
	default:
		return "", fmt.Errorf("kind %q has no single-file operation", kind)
	}
}

// present implements the cache key: a file counts as produced iff it exists
// with non-zero size. A zero-byte partial write reads as absent and is
// safely regenerated; a non-zero partial file is an accepted edge case.
func present(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func splitName(sourceURI string) (base, ext string) {
	name := filepath.Base(sourceURI)
	ext = filepath.Ext(name)
	return strings.TrimSuffix(name, ext), ext
}

// segmentDuration returns the length of segment n when a recording of total
// seconds is cut every interval seconds; the final segment gets the
// remainder.
func segmentDuration(total float64, interval, n int) float64 {
	start := float64(n * interval)
	remain := total - start
	if remain > float64(interval) {
		return float64(interval)
	}
	if remain < 0 {
		return 0
	}
	return remain
}
