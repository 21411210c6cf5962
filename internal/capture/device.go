package capture

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ExecDevice captures audio by running an external recorder command (ffmpeg,
// arecord, ...) that writes to a target file until interrupted. The command
// template uses {out} as the placeholder for the target path.
type ExecDevice struct {
	Command []string // e.g. ["ffmpeg", "-f", "alsa", "-i", "default", "{out}"]
	OutDir  string

	mu     sync.Mutex
	active map[string]*execCapture
}

type execCapture struct {
	cmd     *exec.Cmd
	started time.Time
}

// NewExecDevice creates a device recording into dir via the given command.
func NewExecDevice(command []string, dir string) *ExecDevice {
	return &ExecDevice{
		Command: command,
		OutDir:  dir,
		active:  make(map[string]*execCapture),
	}
}

// RequestPermission checks that the recorder binary is available. The OS
// microphone permission surfaces as the tool failing to open the device.
func (d *ExecDevice) RequestPermission(ctx context.Context) (bool, error) {
	if len(d.Command) == 0 {
		return false, nil
	}
	if _, err := exec.LookPath(d.Command[0]); err != nil {
		return false, nil
	}
	return true, nil
}

// StartCapture launches the recorder process. The returned handle is the
// target file path.
func (d *ExecDevice) StartCapture(ctx context.Context) (string, error) {
	target := filepath.Join(d.OutDir, "rec_"+uuid.NewString()+".wav")

	args := make([]string, 0, len(d.Command)-1)
	for _, a := range d.Command[1:] {
		if a == "{out}" {
			a = target
		}
		args = append(args, a)
	}
	cmd := exec.Command(d.Command[0], args...)
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start recorder %s: %w", d.Command[0], err)
	}

	d.mu.Lock()
	d.active[target] = &execCapture{cmd: cmd, started: time.Now()}
	d.mu.Unlock()
	return target, nil
}

// StopCapture interrupts the recorder so it finalizes the file, then reports
// the wall-clock capture duration.
func (d *ExecDevice) StopCapture(handle string) (CaptureResult, error) {
	d.mu.Lock()
	cap, ok := d.active[handle]
	delete(d.active, handle)
	d.mu.Unlock()
	if !ok {
		return CaptureResult{}, errors.New("unknown capture handle")
	}

	if err := cap.cmd.Process.Signal(interruptSignal); err != nil {
		log.Warn().Err(err).Msg("Interrupt failed, killing recorder")
		_ = cap.cmd.Process.Kill()
	}
	// The recorder flushes headers on interrupt; a wait error after that is
	// expected and not fatal.
	_ = cap.cmd.Wait()

	return CaptureResult{
		URI:            handle,
		DurationMillis: time.Since(cap.started).Milliseconds(),
	}, nil
}

// ReadLevel is unsupported by the exec device; the session falls back to the
// last known value.
func (d *ExecDevice) ReadLevel() (float64, error) {
	return 0, errors.New("level metering not supported")
}
