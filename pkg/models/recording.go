// Package models contains domain models for voicevault.
package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DerivedKind identifies the transformation that produced a derived file.
type DerivedKind string

const (
	DerivedTrimmed  DerivedKind = "trimmed"
	DerivedEnhanced DerivedKind = "enhanced"
	DerivedSegment  DerivedKind = "segment"
)

// segmentKeyPrefix prefixes the variant key of every segment artifact.
const segmentKeyPrefix = "segment_"

// VariantKey returns the catalog key a derived file of this kind is stored
// under. Segments carry an index and must use SegmentKey instead.
func (k DerivedKind) VariantKey() string {
	return string(k)
}

// SegmentKey returns the variant key for the nth segment of a recording.
func SegmentKey(n int) string {
	return segmentKeyPrefix + strconv.Itoa(n)
}

// ParseSegmentKey extracts the segment index from a variant key.
// The second return value is false when the key is not a segment key.
func ParseSegmentKey(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, segmentKeyPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// DerivedFile is an audio artifact produced by transforming a source
// recording. OriginalURI is a back-reference only; ownership of the mapping
// lives on the catalog entry.
type DerivedFile struct {
	URI         string      `json:"uri"`
	Name        string      `json:"name"`
	OriginalURI string      `json:"original_uri"`
	Kind        DerivedKind `json:"kind"`
	DurationSec float64     `json:"duration_sec,omitempty"`
}

// RecordingItem is one physical capture and its full derived state.
// URI is the primary key and never changes after creation.
type RecordingItem struct {
	URI          string                 `json:"uri"`
	Name         string                 `json:"name"`
	DisplayName  string                 `json:"display_name"`
	Date         time.Time              `json:"date"`
	Size         int64                  `json:"size"`
	DurationSec  float64                `json:"duration_sec"`
	IsStarred    bool                   `json:"is_starred"`
	Notes        string                 `json:"notes,omitempty"`
	Transcript   string                 `json:"transcript,omitempty"`
	Summaries    map[string]string      `json:"summaries,omitempty"`
	DerivedFiles map[string]DerivedFile `json:"derived_files,omitempty"`
}

// Clone returns a deep copy of the item. The catalog hands out clones so
// callers can never mutate catalog state behind its back.
func (r *RecordingItem) Clone() *RecordingItem {
	cp := *r
	if r.Summaries != nil {
		cp.Summaries = make(map[string]string, len(r.Summaries))
		for k, v := range r.Summaries {
			cp.Summaries[k] = v
		}
	}
	if r.DerivedFiles != nil {
		cp.DerivedFiles = make(map[string]DerivedFile, len(r.DerivedFiles))
		for k, v := range r.DerivedFiles {
			cp.DerivedFiles[k] = v
		}
	}
	return &cp
}

// SetDerived records a derived file under its variant key.
func (r *RecordingItem) SetDerived(key string, df DerivedFile) {
	if r.DerivedFiles == nil {
		r.DerivedFiles = make(map[string]DerivedFile)
	}
	r.DerivedFiles[key] = df
}

// SetSummary records a summary produced under the given mode key.
func (r *RecordingItem) SetSummary(mode, text string) {
	if r.Summaries == nil {
		r.Summaries = make(map[string]string)
	}
	r.Summaries[mode] = text
}

// Label returns the user-facing name, falling back to the raw name.
func (r *RecordingItem) Label() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Name
}

// DurationMinutesCeil returns the recording length in whole minutes, rounded
// up. Billing for transcription is per started minute.
func (r *RecordingItem) DurationMinutesCeil() int {
	if r.DurationSec <= 0 {
		return 0
	}
	m := int(r.DurationSec) / 60
	if r.DurationSec > float64(m*60) {
		m++
	}
	return m
}

func (r *RecordingItem) String() string {
	return fmt.Sprintf("recording %s (%s, %.0fs)", r.Label(), r.URI, r.DurationSec)
}
