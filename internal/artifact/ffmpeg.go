package artifact

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Katie1225/voicevault/pkg/models"
)

// Filter parameters are external-tool configuration, not pipeline logic;
// they mirror the recorder's defaults.
const (
	silenceRemoveFilter = "silenceremove=start_periods=1:start_threshold=-50dB:stop_periods=-1:stop_threshold=-50dB:stop_duration=1"
	loudnormFilter      = "loudnorm=I=-16:TP=-1.5:LRA=11"
)

// FFmpegTool runs trim/enhance/segment through an ffmpeg binary.
type FFmpegTool struct {
	Bin string
}

// NewFFmpegTool creates a tool using the given binary (default "ffmpeg").
func NewFFmpegTool(bin string) *FFmpegTool {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegTool{Bin: bin}
}

// Transform invokes ffmpeg for one request. A non-zero exit surfaces as an
// ExternalError carrying the tail of stderr as the diagnostic.
func (t *FFmpegTool) Transform(ctx context.Context, req TransformRequest) error {
	var args []string
	switch req.Op {
	case models.OpTrim:
		args = []string{"-y", "-i", req.SourceURI, "-af", silenceRemoveFilter, req.TargetURI}
	case models.OpEnhance:
		args = []string{"-y", "-i", req.SourceURI, "-af", loudnormFilter, req.TargetURI}
	case models.OpSegment:
		args = []string{
			"-y", "-i", req.SourceURI,
			"-f", "segment",
			"-segment_time", fmt.Sprintf("%d", req.IntervalSec),
			"-segment_start_number", "0",
			"-c", "copy",
			req.TargetURI,
		}
	default:
		return fmt.Errorf("unsupported transform operation %q", req.Op)
	}

	cmd := exec.CommandContext(ctx, t.Bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &models.ExternalError{Op: req.Op, Diagnostic: diagnosticTail(stderr.String(), err)}
	}
	return nil
}

// diagnosticTail keeps the last few stderr lines, where ffmpeg puts the
// actual failure reason.
func diagnosticTail(stderr string, err error) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	tail := strings.TrimSpace(strings.Join(lines, " "))
	if tail == "" {
		return err.Error()
	}
	return tail
}
