package models

import "fmt"

// Operation is a user-triggered audio operation routed through the
// orchestrator.
type Operation string

const (
	OpTrim       Operation = "trim"
	OpEnhance    Operation = "enhance"
	OpSegment    Operation = "segment"
	OpTranscribe Operation = "transcribe"
	OpSummarize  Operation = "summarize"
)

// Valid reports whether op names a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpTrim, OpEnhance, OpSegment, OpTranscribe, OpSummarize:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a derived-artifact job in the status
// ledger. The on-disk existence check stays the primary cache key; the ledger
// is the durable record used to spot truncated or stale artifacts.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// ExternalError is a failed external call (transform tool, transcription or
// summarization service). Diagnostic carries the tool's own message and is
// surfaced to the user verbatim; there is no automatic retry.
type ExternalError struct {
	Op         Operation
	Diagnostic string
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Diagnostic)
}
