// Package orchestrator routes user-triggered audio operations: it enforces
// at-most-one in-flight operation per (recording, operation) pair, checks the
// coin balance before starting billable work, commits the debit only after the
// work verifiably succeeded, and registers results in the catalog.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Katie1225/voicevault/internal/artifact"
	"github.com/Katie1225/voicevault/internal/catalog"
	"github.com/Katie1225/voicevault/internal/config"
	"github.com/Katie1225/voicevault/internal/transcript"
	"github.com/Katie1225/voicevault/pkg/models"
)

var (
	// ErrAlreadyInProgress is returned when the same operation on the same
	// recording is still running. Distinct recordings, or distinct
	// operations on the same recording, proceed independently.
	ErrAlreadyInProgress = errors.New("operation already in progress")
	// ErrNoTranscript is returned when summarization is requested for a
	// recording that has not been transcribed yet.
	ErrNoTranscript = errors.New("recording has no transcript")
)

// Quota is the orchestrator's view of the quota ledger.
type Quota interface {
	CheckAndReserve(cost int64) error
	Commit(ctx context.Context, delta int64, reason string) error
}

// Remote is the orchestrator's view of the transcription and summarization
// services.
type Remote interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
	Summarize(ctx context.Context, text, modePrompt string) (string, error)
}

// Orchestrator coordinates catalog, artifact store, quota, and the remote
// services for every user-triggered operation.
type Orchestrator struct {
	catalog   *catalog.Catalog
	artifacts *artifact.Store
	quota     Quota
	remote    Remote
	costs     config.Costs
	metrics   *Metrics

	mu       sync.Mutex
	inflight map[string]bool // uri + "/" + op
	busyURIs map[string]int  // any in-flight op per uri, blocks deletion
	deleting map[string]bool // uris mid-removal, block new operations
}

// New creates an Orchestrator.
func New(cat *catalog.Catalog, artifacts *artifact.Store, q Quota, remote Remote, costs config.Costs) *Orchestrator {
	return &Orchestrator{
		catalog:   cat,
		artifacts: artifacts,
		quota:     q,
		remote:    remote,
		costs:     costs,
		metrics:   NewMetrics(),
		inflight:  make(map[string]bool),
		busyURIs:  make(map[string]int),
		deleting:  make(map[string]bool),
	}
}

// Metrics returns the orchestrator's counters.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

func inflightKey(uri string, op models.Operation) string {
	return uri + "/" + string(op)
}

// begin claims the (uri, op) slot. The caller must release via end.
func (o *Orchestrator) begin(uri string, op models.Operation) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.deleting[uri] {
		o.metrics.recordBusy()
		return fmt.Errorf("%w: %s is being deleted", ErrAlreadyInProgress, uri)
	}
	key := inflightKey(uri, op)
	if o.inflight[key] {
		o.metrics.recordBusy()
		return fmt.Errorf("%w: %s on %s", ErrAlreadyInProgress, op, uri)
	}
	o.inflight[key] = true
	o.busyURIs[uri]++
	return nil
}

func (o *Orchestrator) end(uri string, op models.Operation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, inflightKey(uri, op))
	if o.busyURIs[uri]--; o.busyURIs[uri] <= 0 {
		delete(o.busyURIs, uri)
	}
}

// reserve runs the local balance check before any billable work begins.
func (o *Orchestrator) reserve(cost int64) error {
	if err := o.quota.CheckAndReserve(cost); err != nil {
		o.metrics.recordQuotaBlock()
		return err
	}
	return nil
}

// commit debits the coins for delivered work. A commit failure is logged and
// does not fail the operation: the user already has the result.
func (o *Orchestrator) commit(ctx context.Context, cost int64, reason string) {
	if cost <= 0 {
		return
	}
	if err := o.quota.Commit(ctx, cost, reason); err != nil {
		log.Error().Err(err).Str("reason", reason).Msg("Quota commit failed after successful operation")
		return
	}
	o.metrics.recordCoins(cost)
}

// Trim produces the silence-trimmed variant of a recording.
func (o *Orchestrator) Trim(ctx context.Context, uri string) (models.DerivedFile, error) {
	return o.ensureVariant(ctx, uri, models.OpTrim, models.DerivedTrimmed, "trimmed", o.costs.Trim)
}

// Enhance produces the loudness-normalized variant of a recording.
func (o *Orchestrator) Enhance(ctx context.Context, uri string) (models.DerivedFile, error) {
	return o.ensureVariant(ctx, uri, models.OpEnhance, models.DerivedEnhanced, "enhanced", o.costs.Enhance)
}

func (o *Orchestrator) ensureVariant(ctx context.Context, uri string, op models.Operation, kind models.DerivedKind, key string, cost int64) (models.DerivedFile, error) {
	item, err := o.catalog.Get(uri)
	if err != nil {
		return models.DerivedFile{}, err
	}
	if err := o.begin(uri, op); err != nil {
		return models.DerivedFile{}, err
	}
	defer o.end(uri, op)
	o.metrics.recordStart()

	if err := o.reserve(cost); err != nil {
		return models.DerivedFile{}, err
	}

	df, cached, err := o.artifacts.Ensure(ctx, item, kind)
	if err != nil {
		o.metrics.recordFailure()
		return models.DerivedFile{}, err
	}
	if cached {
		o.metrics.recordCacheHit()
	} else {
		o.commit(ctx, cost, fmt.Sprintf("%s %s", op, item.Label()))
	}

	if err := o.catalog.SetDerived(uri, map[string]models.DerivedFile{key: df}); err != nil {
		o.metrics.recordFailure()
		return models.DerivedFile{}, err
	}
	o.metrics.recordSuccess()
	return df, nil
}

// Segment splits a recording at the given interval. On partial failure the
// produced prefix is still registered in the catalog, but nothing is charged
// and the tool error is returned.
func (o *Orchestrator) Segment(ctx context.Context, uri string, intervalSec int) (artifact.SegmentResult, error) {
	item, err := o.catalog.Get(uri)
	if err != nil {
		return artifact.SegmentResult{}, err
	}
	if err := o.begin(uri, models.OpSegment); err != nil {
		return artifact.SegmentResult{}, err
	}
	defer o.end(uri, models.OpSegment)
	o.metrics.recordStart()

	if err := o.reserve(o.costs.Segment); err != nil {
		return artifact.SegmentResult{}, err
	}

	res, serr := o.artifacts.Segment(ctx, item, intervalSec)
	if len(res.Produced) > 0 {
		files := make(map[string]models.DerivedFile, len(res.Produced))
		for n, df := range res.Produced {
			files[models.SegmentKey(n)] = df
		}
		if err := o.catalog.SetDerived(uri, files); err != nil {
			o.metrics.recordFailure()
			return res, err
		}
	}
	if serr != nil {
		o.metrics.recordFailure()
		return res, serr
	}
	if res.Cached {
		o.metrics.recordCacheHit()
	} else if len(res.Produced) > 0 {
		o.commit(ctx, o.costs.Segment, fmt.Sprintf("segment %s", item.Label()))
	}
	o.metrics.recordSuccess()
	return res, nil
}

// Transcribe sends the recording to the transcription service and stores the
// transcript. Cost is per started minute of audio. A recording that already
// has a transcript returns it without any remote call or charge.
func (o *Orchestrator) Transcribe(ctx context.Context, uri string) (string, error) {
	item, err := o.catalog.Get(uri)
	if err != nil {
		return "", err
	}
	if item.Transcript != "" {
		o.metrics.recordCacheHit()
		return item.Transcript, nil
	}
	if err := o.begin(uri, models.OpTranscribe); err != nil {
		return "", err
	}
	defer o.end(uri, models.OpTranscribe)
	o.metrics.recordStart()

	cost := int64(item.DurationMinutesCeil()) * o.costs.TranscribePerMinute
	if err := o.reserve(cost); err != nil {
		return "", err
	}

	raw, err := o.remote.Transcribe(ctx, item.URI)
	if err != nil {
		o.metrics.recordFailure()
		return "", err
	}
	text := transcript.Clean(raw)
	o.commit(ctx, cost, fmt.Sprintf("transcribe %s", item.Label()))

	if err := o.catalog.SetTranscript(uri, text); err != nil {
		o.metrics.recordFailure()
		return "", err
	}
	o.metrics.recordSuccess()
	return text, nil
}

// Summarize produces a summary of the transcript under the given mode. The
// recording must already be transcribed. An existing summary for the same
// mode is returned without a remote call or charge.
func (o *Orchestrator) Summarize(ctx context.Context, uri, mode, modePrompt string) (string, error) {
	item, err := o.catalog.Get(uri)
	if err != nil {
		return "", err
	}
	if item.Transcript == "" {
		return "", fmt.Errorf("%w: %s", ErrNoTranscript, uri)
	}
	if existing, ok := item.Summaries[mode]; ok && existing != "" {
		o.metrics.recordCacheHit()
		return existing, nil
	}
	if err := o.begin(uri, models.OpSummarize); err != nil {
		return "", err
	}
	defer o.end(uri, models.OpSummarize)
	o.metrics.recordStart()

	if err := o.reserve(o.costs.Summarize); err != nil {
		return "", err
	}

	summary, err := o.remote.Summarize(ctx, item.Transcript, modePrompt)
	if err != nil {
		o.metrics.recordFailure()
		return "", err
	}
	o.commit(ctx, o.costs.Summarize, fmt.Sprintf("summarize %s (%s)", item.Label(), mode))

	if err := o.catalog.SetSummary(uri, mode, summary); err != nil {
		o.metrics.recordFailure()
		return "", err
	}
	o.metrics.recordSuccess()
	return summary, nil
}

// Delete removes one recording with full cleanup. Blocked while any
// operation on the recording is in flight.
func (o *Orchestrator) Delete(ctx context.Context, uri string) error {
	return o.DeleteBatch(ctx, []string{uri})
}

// DeleteBatch removes several recordings with full cleanup.
func (o *Orchestrator) DeleteBatch(ctx context.Context, uris []string) error {
	o.mu.Lock()
	for _, uri := range uris {
		if o.busyURIs[uri] > 0 {
			o.mu.Unlock()
			o.metrics.recordBusy()
			return fmt.Errorf("%w: %s is busy", ErrAlreadyInProgress, uri)
		}
	}
	// The removal mark closes the window between this busy check and the
	// catalog update; begin rejects marked uris.
	for _, uri := range uris {
		o.deleting[uri] = true
	}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		for _, uri := range uris {
			delete(o.deleting, uri)
		}
		o.mu.Unlock()
	}()
	return o.catalog.RemoveBatch(ctx, uris)
}
