// Package capture owns the recording state machine: start/stop, the
// max-duration cap, and level metering. Exactly one session can be active at
// a time, enforced by the Recorder's own guard.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Katie1225/voicevault/pkg/models"
)

var (
	// ErrPermissionDenied is returned when the microphone permission is not
	// granted. Checked before any state transition.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrSessionActive is returned when Start is called while recording.
	ErrSessionActive = errors.New("capture session already active")
)

// State is the capture session state.
type State string

const (
	StateIdle        State = "idle"
	StateRecording   State = "recording"
	StateStopped     State = "stopped"
	StateAutoStopped State = "auto_stopped"
)

// CaptureResult is what the device hands back when a capture is finalized.
type CaptureResult struct {
	URI            string
	DurationMillis int64
}

// Device is the narrow contract over the audio capture hardware.
type Device interface {
	RequestPermission(ctx context.Context) (bool, error)
	StartCapture(ctx context.Context) (handle string, err error)
	StopCapture(handle string) (CaptureResult, error)
	ReadLevel() (float64, error)
}

// Registrar receives the finalized recording. Implemented by the catalog.
type Registrar interface {
	Append(item *models.RecordingItem) error
}

// Options tunes a Recorder.
type Options struct {
	MaxDurationSec   int
	LevelHistorySize int
	LevelFloorDB     float64
	// OnAutoStop is invoked after an auto-stop finalizes, so the caller can
	// tell the user apart from a manual stop. May be nil.
	OnAutoStop func(item *models.RecordingItem)
}

// tickerFactory abstracts time.Ticker so tests can drive ticks by hand.
type tickerFactory func(d time.Duration) (<-chan time.Time, func())

// Recorder is the capture session service.
type Recorder struct {
	device    Device
	registrar Registrar
	opts      Options
	newTicker tickerFactory

	mu        sync.Mutex
	state     State
	starting  bool
	handle    string
	elapsed   int
	levels    []float64
	lastLevel float64
	lastAuto  bool
	stopCh    chan struct{}
}

// New creates an idle Recorder.
func New(device Device, registrar Registrar, opts Options) *Recorder {
	if opts.MaxDurationSec <= 0 {
		opts.MaxDurationSec = 1800
	}
	if opts.LevelHistorySize <= 0 {
		opts.LevelHistorySize = 50
	}
	if opts.LevelFloorDB == 0 {
		opts.LevelFloorDB = -160
	}
	return &Recorder{
		device:    device,
		registrar: registrar,
		opts:      opts,
		state:     StateIdle,
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// Start transitions Idle -> Recording: checks the mic permission, resets the
// elapsed counter and level history, and begins the 1-second metering tick.
func (r *Recorder) Start(ctx context.Context) error {
	// The session is claimed before any device call, so a concurrent Start
	// cannot open a second capture while this one is still setting up.
	r.mu.Lock()
	if r.state == StateRecording || r.starting {
		r.mu.Unlock()
		return ErrSessionActive
	}
	r.starting = true
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		r.starting = false
		r.mu.Unlock()
	}

	granted, err := r.device.RequestPermission(ctx)
	if err != nil {
		release()
		return fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		release()
		return ErrPermissionDenied
	}

	handle, err := r.device.StartCapture(ctx)
	if err != nil {
		release()
		return fmt.Errorf("start capture: %w", err)
	}

	tick, stopTicker := r.newTicker(time.Second)

	r.mu.Lock()
	r.starting = false
	r.state = StateRecording
	r.handle = handle
	r.elapsed = 0
	r.levels = r.levels[:0]
	r.lastLevel = r.opts.LevelFloorDB
	r.lastAuto = false
	r.stopCh = make(chan struct{})
	stopCh := r.stopCh
	r.mu.Unlock()

	go r.meter(tick, stopTicker, stopCh)
	log.Info().Str("handle", handle).Msg("Capture session started")
	return nil
}

// Stop halts the session. Outside Recording it is a silent no-op. The state
// reset to Idle is unconditional: metering stops even when finalization
// fails. A zero-byte or missing capture file is discarded, not registered.
func (r *Recorder) Stop(manual bool) (*models.RecordingItem, error) {
	return r.stop(manual)
}

// State returns the current session state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns the elapsed seconds of the active session.
func (r *Recorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// Levels returns a copy of the bounded decibel history, oldest first.
func (r *Recorder) Levels() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(r.levels))
	copy(out, r.levels)
	return out
}

// LastStopWasAuto reports whether the most recent stop hit the duration cap.
func (r *Recorder) LastStopWasAuto() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastAuto
}

func (r *Recorder) meter(tick <-chan time.Time, stopTicker func(), stopCh chan struct{}) {
	defer stopTicker()
	for {
		select {
		case <-stopCh:
			return
		case <-tick:
			if r.tickOnce() {
				r.autoStop()
				return
			}
		}
	}
}

// tickOnce advances elapsed time and appends one level sample. Returns true
// when the session has reached the duration cap.
func (r *Recorder) tickOnce() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return false
	}
	r.elapsed++

	// Metering is best-effort: a failed read reuses the last known value.
	lvl, err := r.device.ReadLevel()
	if err != nil {
		lvl = r.lastLevel
	}
	if lvl < r.opts.LevelFloorDB {
		lvl = r.opts.LevelFloorDB
	}
	r.lastLevel = lvl
	r.levels = append(r.levels, lvl)
	if len(r.levels) > r.opts.LevelHistorySize {
		r.levels = r.levels[len(r.levels)-r.opts.LevelHistorySize:]
	}

	return r.elapsed >= r.opts.MaxDurationSec
}

func (r *Recorder) autoStop() {
	item, err := r.stop(false)
	if err != nil {
		log.Error().Err(err).Msg("Auto-stop finalization failed")
		return
	}
	if item == nil {
		// A manual stop won the race, or the capture file was discarded.
		return
	}
	log.Info().Int("maxSec", r.opts.MaxDurationSec).Msg("Capture auto-stopped at duration cap")
	if r.opts.OnAutoStop != nil {
		r.opts.OnAutoStop(item)
	}
}

func (r *Recorder) stop(manual bool) (*models.RecordingItem, error) {
	r.mu.Lock()
	if r.state != StateRecording {
		r.mu.Unlock()
		return nil, nil
	}
	if manual {
		r.state = StateStopped
	} else {
		r.state = StateAutoStopped
	}
	r.lastAuto = !manual
	close(r.stopCh)
	handle := r.handle
	elapsed := r.elapsed
	r.elapsed = 0
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state = StateIdle
		r.mu.Unlock()
	}()

	res, err := r.device.StopCapture(handle)
	if err != nil {
		return nil, fmt.Errorf("finalize capture: %w", err)
	}

	info, err := os.Stat(res.URI)
	if err != nil || info.Size() == 0 {
		log.Warn().Str("uri", res.URI).Msg("Discarding empty capture file")
		return nil, nil
	}

	duration := float64(res.DurationMillis) / 1000
	if duration <= 0 {
		duration = float64(elapsed)
	}
	now := time.Now()
	item := &models.RecordingItem{
		URI:         res.URI,
		Name:        filepath.Base(res.URI),
		DisplayName: "Recording " + now.Format("2006-01-02 15:04:05"),
		Date:        now,
		Size:        info.Size(),
		DurationSec: duration,
	}
	if err := r.registrar.Append(item); err != nil {
		return nil, fmt.Errorf("register recording: %w", err)
	}
	return item, nil
}
