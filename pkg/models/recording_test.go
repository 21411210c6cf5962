// Package models contains domain models for voicevault.
package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// RecordingSuite is a test suite for RecordingItem operations.
type RecordingSuite struct {
	suite.Suite
}

func TestRecordingSuite(t *testing.T) {
	suite.Run(t, new(RecordingSuite))
}

// TestSegmentKeyRoundTrip tests segment variant key construction and parsing.
func (s *RecordingSuite) TestSegmentKeyRoundTrip() {
	s.Equal("segment_0", SegmentKey(0))
	s.Equal("segment_12", SegmentKey(12))

	n, ok := ParseSegmentKey("segment_3")
	s.True(ok)
	s.Equal(3, n)

	_, ok = ParseSegmentKey("trimmed")
	s.False(ok)
	_, ok = ParseSegmentKey("segment_-1")
	s.False(ok)
	_, ok = ParseSegmentKey("segment_x")
	s.False(ok)
}

// TestClone tests that clones are independent of the original.
func (s *RecordingSuite) TestClone() {
	item := &RecordingItem{
		URI:         "/rec/a.m4a",
		Name:        "a.m4a",
		DisplayName: "Standup notes",
		Date:        time.Now(),
		Summaries:   map[string]string{"short": "brief"},
	}
	item.SetDerived(DerivedTrimmed.VariantKey(), DerivedFile{
		URI:         "/rec/derived/a_trimmed.m4a",
		OriginalURI: item.URI,
		Kind:        DerivedTrimmed,
	})

	cp := item.Clone()
	cp.Summaries["short"] = "changed"
	cp.SetDerived(SegmentKey(0), DerivedFile{URI: "/rec/derived/a_segment_0.m4a"})
	cp.DisplayName = "renamed"

	s.Equal("brief", item.Summaries["short"])
	s.Len(item.DerivedFiles, 1)
	s.Equal("Standup notes", item.DisplayName)
}

// TestLabel tests display name fallback.
func (s *RecordingSuite) TestLabel() {
	item := &RecordingItem{Name: "rec_001.m4a"}
	s.Equal("rec_001.m4a", item.Label())
	item.DisplayName = "Interview"
	s.Equal("Interview", item.Label())
}

// TestDurationMinutesCeil tests per-started-minute rounding.
func (s *RecordingSuite) TestDurationMinutesCeil() {
	cases := []struct {
		sec  float64
		want int
	}{
		{0, 0},
		{1, 1},
		{59.2, 1},
		{60, 1},
		{60.5, 2},
		{600, 10},
		{601, 11},
	}
	for _, tc := range cases {
		item := &RecordingItem{DurationSec: tc.sec}
		s.Equalf(tc.want, item.DurationMinutesCeil(), "duration %.1fs", tc.sec)
	}
}
