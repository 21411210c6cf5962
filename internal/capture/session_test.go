package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Katie1225/voicevault/pkg/models"
)

// fakeDevice scripts the capture hardware.
type fakeDevice struct {
	mu          sync.Mutex
	granted     bool
	file        string
	fileContent []byte
	levels      []float64
	levelErr    error
	levelCalls  int
	startGate   chan struct{}
	startErr    error
	startCalls  int
	stopCalls   int
	durationMs  int64
}

func (d *fakeDevice) RequestPermission(ctx context.Context) (bool, error) {
	return d.granted, nil
}

func (d *fakeDevice) StartCapture(ctx context.Context) (string, error) {
	d.mu.Lock()
	d.startCalls++
	gate := d.startGate
	err := d.startErr
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return d.file, nil
}

func (d *fakeDevice) StopCapture(handle string) (CaptureResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopCalls++
	if d.fileContent != nil {
		if err := os.WriteFile(d.file, d.fileContent, 0o644); err != nil {
			return CaptureResult{}, err
		}
	}
	return CaptureResult{URI: handle, DurationMillis: d.durationMs}, nil
}

func (d *fakeDevice) ReadLevel() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.levelErr != nil {
		return 0, d.levelErr
	}
	lvl := float64(-30)
	if d.levelCalls < len(d.levels) {
		lvl = d.levels[d.levelCalls]
	}
	d.levelCalls++
	return lvl, nil
}

// fakeRegistrar collects finalized recordings.
type fakeRegistrar struct {
	mu    sync.Mutex
	items []*models.RecordingItem
	err   error
}

func (r *fakeRegistrar) Append(item *models.RecordingItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, item)
	return nil
}

func (r *fakeRegistrar) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// manualTick lets tests drive the metering clock.
type manualTick struct {
	ch      chan time.Time
	stopped chan struct{}
}

func newManualTick() *manualTick {
	return &manualTick{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *manualTick) factory(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() { close(m.stopped) }
}

// tick delivers n ticks, waiting for each to be consumed.
func (m *manualTick) tick(n int) {
	for i := 0; i < n; i++ {
		m.ch <- time.Now()
	}
}

func newTestRecorder(t *testing.T, dev *fakeDevice, opts Options) (*Recorder, *fakeRegistrar, *manualTick) {
	t.Helper()
	reg := &fakeRegistrar{}
	r := New(dev, reg, opts)
	mt := newManualTick()
	r.newTicker = mt.factory
	return r, reg, mt
}

func captureFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "rec.wav")
}

// waitElapsed blocks until the metering goroutine has processed enough ticks.
func waitElapsed(t *testing.T, r *Recorder, want int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Elapsed() == want }, time.Second, 5*time.Millisecond)
}

func TestStartDeniedWithoutPermission(t *testing.T) {
	dev := &fakeDevice{granted: false}
	r, reg, _ := newTestRecorder(t, dev, Options{})

	err := r.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, r.State())
	assert.Equal(t, 0, reg.count())
}

func TestStartRejectsSecondSession(t *testing.T) {
	dev := &fakeDevice{granted: true, file: captureFile(t), fileContent: []byte("audio")}
	r, _, _ := newTestRecorder(t, dev, Options{})

	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrSessionActive)
	_, err := r.Stop(true)
	require.NoError(t, err)
}

func TestConcurrentStartAdmitsOneSession(t *testing.T) {
	dev := &fakeDevice{
		granted:     true,
		file:        captureFile(t),
		fileContent: []byte("audio"),
		startGate:   make(chan struct{}),
	}
	r, _, _ := newTestRecorder(t, dev, Options{})

	errs := make(chan error, 2)
	go func() { errs <- r.Start(context.Background()) }()
	go func() { errs <- r.Start(context.Background()) }()

	// One caller is held inside the device call by the gate; the other must
	// be rejected before the device opens a second capture.
	var rejected error
	select {
	case rejected = <-errs:
	case <-time.After(time.Second):
		t.Fatal("neither Start returned while the device was gated")
	}
	assert.ErrorIs(t, rejected, ErrSessionActive)

	close(dev.startGate)
	require.NoError(t, <-errs)
	assert.Equal(t, StateRecording, r.State())

	dev.mu.Lock()
	starts := dev.startCalls
	dev.mu.Unlock()
	assert.Equal(t, 1, starts)

	_, err := r.Stop(true)
	require.NoError(t, err)
}

func TestStartRetriesAfterDeviceFailure(t *testing.T) {
	dev := &fakeDevice{
		granted:     true,
		file:        captureFile(t),
		fileContent: []byte("audio"),
		startErr:    errors.New("device busy"),
	}
	r, _, _ := newTestRecorder(t, dev, Options{})

	require.Error(t, r.Start(context.Background()))
	assert.Equal(t, StateIdle, r.State())

	// The failed attempt released its claim, so a retry can start.
	dev.mu.Lock()
	dev.startErr = nil
	dev.mu.Unlock()
	require.NoError(t, r.Start(context.Background()))
	_, err := r.Stop(true)
	require.NoError(t, err)
}

func TestManualStopRegistersRecording(t *testing.T) {
	dev := &fakeDevice{granted: true, file: captureFile(t), fileContent: []byte("pcm-bytes"), durationMs: 3000}
	r, reg, mt := newTestRecorder(t, dev, Options{})

	require.NoError(t, r.Start(context.Background()))
	mt.tick(3)
	waitElapsed(t, r, 3)

	item, err := r.Stop(true)
	require.NoError(t, err)
	require.NotNil(t, item)

	// Empty catalog + start + 3s + manual stop -> exactly one item, no
	// derived files.
	assert.Equal(t, 1, reg.count())
	assert.Empty(t, item.DerivedFiles)
	assert.Equal(t, dev.file, item.URI)
	assert.Equal(t, float64(3), item.DurationSec)
	assert.Equal(t, int64(len("pcm-bytes")), item.Size)
	assert.Equal(t, StateIdle, r.State())
	assert.False(t, r.LastStopWasAuto())
	assert.Equal(t, 0, r.Elapsed())
}

func TestStopIsNoOpWhenIdle(t *testing.T) {
	dev := &fakeDevice{granted: true, file: captureFile(t)}
	r, reg, _ := newTestRecorder(t, dev, Options{})

	item, err := r.Stop(true)
	assert.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, 0, reg.count())
	assert.Equal(t, 0, dev.stopCalls)
}

func TestEmptyCaptureFileDiscarded(t *testing.T) {
	dev := &fakeDevice{granted: true, file: captureFile(t), fileContent: []byte{}}
	r, reg, _ := newTestRecorder(t, dev, Options{})

	require.NoError(t, r.Start(context.Background()))
	item, err := r.Stop(true)
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, 0, reg.count())
	assert.Equal(t, StateIdle, r.State())
}

func TestStateResetsEvenWhenRegistrationFails(t *testing.T) {
	dev := &fakeDevice{granted: true, file: captureFile(t), fileContent: []byte("audio")}
	reg := &fakeRegistrar{err: errors.New("catalog unavailable")}
	r := New(dev, reg, Options{})
	mt := newManualTick()
	r.newTicker = mt.factory

	require.NoError(t, r.Start(context.Background()))
	_, err := r.Stop(true)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, r.State())
}

func TestAutoStopAtDurationCap(t *testing.T) {
	dev := &fakeDevice{granted: true, file: captureFile(t), fileContent: []byte("audio"), durationMs: 5000}
	autoStopped := make(chan *models.RecordingItem, 1)
	r, reg, mt := newTestRecorder(t, dev, Options{
		MaxDurationSec: 5,
		OnAutoStop:     func(item *models.RecordingItem) { autoStopped <- item },
	})

	require.NoError(t, r.Start(context.Background()))
	mt.tick(5)

	select {
	case item := <-autoStopped:
		require.NotNil(t, item)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-stop never fired")
	}

	assert.Equal(t, 1, reg.count())
	assert.True(t, r.LastStopWasAuto())
	assert.Equal(t, 0, r.Elapsed())
	assert.Equal(t, StateIdle, r.State())
}

func TestLevelHistoryBoundedAndBestEffort(t *testing.T) {
	dev := &fakeDevice{
		granted:     true,
		file:        captureFile(t),
		fileContent: []byte("audio"),
		levels:      []float64{-20, -500, -10},
	}
	r, _, mt := newTestRecorder(t, dev, Options{LevelHistorySize: 2, LevelFloorDB: -160})

	require.NoError(t, r.Start(context.Background()))
	mt.tick(3)
	waitElapsed(t, r, 3)

	// History keeps only the most recent two samples; -500 clamps to floor.
	levels := r.Levels()
	require.Len(t, levels, 2)
	assert.Equal(t, []float64{-160, -10}, levels)

	// A read failure reuses the last known value instead of breaking the tick.
	dev.mu.Lock()
	dev.levelErr = errors.New("device busy")
	dev.mu.Unlock()
	mt.tick(1)
	waitElapsed(t, r, 4)
	levels = r.Levels()
	assert.Equal(t, []float64{-10, -10}, levels)

	_, err := r.Stop(true)
	require.NoError(t, err)
}
