// Package transcript normalizes raw transcription-service output before it
// is stored or shipped to summarization.
package transcript

import (
	"regexp"
	"strings"
)

var (
	// noiseTagRegex matches service annotations like [inaudible], [music],
	// [crosstalk 00:12].
	noiseTagRegex = regexp.MustCompile(`\[[^\]\n]{1,40}\]`)

	// spaceRegex collapses runs of whitespace left behind by tag removal.
	spaceRegex = regexp.MustCompile(`[ \t]{2,}`)

	// longDigitRegex matches 12+ digit runs (optionally space or dash
	// separated), the shape of dictated card and account numbers.
	longDigitRegex = regexp.MustCompile(`\d(?:[ -]?\d){11,}`)
)

// StripNoiseTags removes bracketed service annotations from text.
func StripNoiseTags(text string) string {
	return noiseTagRegex.ReplaceAllString(text, "")
}

// RedactNumbers masks long digit runs so dictated card or account numbers
// never land in the catalog verbatim.
func RedactNumbers(text string) string {
	return longDigitRegex.ReplaceAllString(text, "[number redacted]")
}

// IsEmpty reports whether the text carries no speech once annotations are
// stripped.
func IsEmpty(text string) bool {
	return strings.TrimSpace(StripNoiseTags(text)) == ""
}

// Clean is the full normalization applied to every incoming transcript.
func Clean(text string) string {
	text = StripNoiseTags(text)
	text = RedactNumbers(text)
	text = spaceRegex.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
