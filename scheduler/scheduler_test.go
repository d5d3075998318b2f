package scheduler

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/source"
)

type fakeDetector struct {
	ready    atomic.Bool
	delay    time.Duration
	block    chan struct{}
	failures atomic.Int32

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newDetector() *fakeDetector {
	d := &fakeDetector{}
	d.ready.Store(true)
	return d
}

func (d *fakeDetector) Ready() bool { return d.ready.Load() }

func (d *fakeDetector) Detect(_ context.Context, _ image.Image) ([]common.Detection, error) {
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxInFlight.Load()
		if n <= m || d.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	d.calls.Add(1)

	if d.block != nil {
		<-d.block
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errors.New("transient inference error")
	}
	return []common.Detection{
		{BBox: common.BoundingBox{X: 2, Y: 2, Width: 8, Height: 8}, Class: "cat", Score: 0.9},
	}, nil
}

type fakeReader struct {
	mu       sync.Mutex
	notReady int
	closeAt  int
	reads    int
}

func (r *fakeReader) ReadFrame() (source.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.notReady > 0 {
		r.notReady--
		return source.Frame{}, source.ErrNotReady
	}
	if r.closeAt > 0 && r.reads >= r.closeAt {
		return source.Frame{}, source.ErrClosed
	}
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	img.Set(0, 0, color.RGBA{B: 255, A: 255})
	return source.Frame{Image: img, Seq: uint64(r.reads)}, nil
}

type reports struct {
	mu  sync.Mutex
	all []Report
}

func (r *reports) add(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, rep)
}

func (r *reports) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func newScheduler(t *testing.T, d Detector, rec *reports) (*Scheduler, *render.Surface) {
	t.Helper()
	renderer, err := render.NewRenderer(render.DefaultOptions())
	require.NoError(t, err)
	surface := render.NewSurface(32, 24)
	s := New(d, renderer, surface, Options{
		TickInterval: time.Millisecond,
		Logger:       zaptest.NewLogger(t).Sugar(),
		OnReport:     rec.add,
	})
	return s, surface
}

func waitDone(t *testing.T, s *Scheduler) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
}

func TestFPSCounterWindow(t *testing.T) {
	mock := clock.NewMock()
	f := NewFPSCounter(mock)

	for i := 0; i < 5; i++ {
		mock.Add(100 * time.Millisecond)
		assert.Equal(t, 0, f.Tick())
	}

	mock.Add(500 * time.Millisecond)
	assert.Equal(t, 6, f.Tick())

	for i := 0; i < 3; i++ {
		mock.Add(200 * time.Millisecond)
		assert.Equal(t, 6, f.Tick(), "value changes only when a window closes")
	}

	mock.Add(400 * time.Millisecond)
	assert.Equal(t, 4, f.Tick())
	assert.Equal(t, 4, f.FPS())

	f.Reset()
	assert.Equal(t, 0, f.FPS())
}

func TestFPSCounterExactBoundary(t *testing.T) {
	mock := clock.NewMock()
	f := NewFPSCounter(mock)
	mock.Add(999 * time.Millisecond)
	assert.Equal(t, 0, f.Tick())
	mock.Add(time.Millisecond)
	assert.Equal(t, 2, f.Tick())
}

func TestStartPreconditions(t *testing.T) {
	d := newDetector()
	s, _ := newScheduler(t, d, &reports{})

	assert.ErrorIs(t, s.Start(context.Background(), nil, source.KindCamera), ErrNoSource)

	d.ready.Store(false)
	assert.ErrorIs(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera), ErrModelNotReady)
	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, s.Done())
}

func TestLoopReportsCycles(t *testing.T) {
	d := newDetector()
	rec := &reports{}
	s, surface := newScheduler(t, d, rec)

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	assert.ErrorIs(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera), ErrAlreadyRunning)
	assert.Equal(t, StateRunning, s.State())

	require.Eventually(t, func() bool { return rec.len() >= 3 }, 2*time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
	waitDone(t, s)

	assert.Equal(t, StateStopped, s.State())
	assert.NoError(t, s.Err())

	rec.mu.Lock()
	first := rec.all[0]
	rec.mu.Unlock()
	assert.Equal(t, uint64(1), first.Cycle)
	assert.Equal(t, source.KindCamera, first.Source)
	assert.Equal(t, image.Pt(32, 24), first.FrameSize)
	require.Len(t, first.Detections, 1)
	assert.Equal(t, "cat", first.Detections[0].Class)

	_, ok := surface.Snapshot()
	assert.True(t, ok)
}

func TestAtMostOneInferenceInFlight(t *testing.T) {
	d := newDetector()
	d.delay = 3 * time.Millisecond
	rec := &reports{}
	s, _ := newScheduler(t, d, rec)

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	require.Eventually(t, func() bool { return rec.len() >= 5 }, 2*time.Second, time.Millisecond)
	s.Stop()
	waitDone(t, s)

	assert.Equal(t, int32(1), d.maxInFlight.Load())
}

func TestNotReadyFramesAreSkipped(t *testing.T) {
	d := newDetector()
	rec := &reports{}
	s, _ := newScheduler(t, d, rec)

	require.NoError(t, s.Start(context.Background(), &fakeReader{notReady: 3}, source.KindCamera))
	require.Eventually(t, func() bool { return rec.len() >= 1 }, 2*time.Second, time.Millisecond)
	s.Stop()
	waitDone(t, s)

	metrics := s.CollectMetrics()
	assert.GreaterOrEqual(t, metrics["scheduler.skipped_ticks"], 3.0)
	assert.GreaterOrEqual(t, metrics["scheduler.cycles"], 1.0)
}

func TestClosedSourceStopsLoop(t *testing.T) {
	d := newDetector()
	rec := &reports{}
	s, _ := newScheduler(t, d, rec)

	require.NoError(t, s.Start(context.Background(), &fakeReader{closeAt: 3}, source.KindCamera))
	waitDone(t, s)

	assert.ErrorIs(t, s.Err(), source.ErrClosed)
	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 2, rec.len())

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	assert.NoError(t, s.Err())
	s.Stop()
	waitDone(t, s)
}

func TestDetectErrorDoesNotStopLoop(t *testing.T) {
	d := newDetector()
	d.failures.Store(2)
	rec := &reports{}
	s, _ := newScheduler(t, d, rec)

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	require.Eventually(t, func() bool { return rec.len() >= 2 }, 2*time.Second, time.Millisecond)
	s.Stop()
	waitDone(t, s)

	assert.Equal(t, 2.0, s.CollectMetrics()["scheduler.detect_errors"])
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	d := newDetector()
	d.block = make(chan struct{})
	rec := &reports{}
	s, _ := newScheduler(t, d, rec)

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	s.Stop()
	assert.Equal(t, StateRunning, s.State(), "the pending call still holds the loop")

	restarted := make(chan error, 1)
	go func() {
		restarted <- s.Start(context.Background(), &fakeReader{}, source.KindCamera)
	}()

	close(d.block)
	require.NoError(t, <-restarted)
	s.Stop()
	waitDone(t, s)

	assert.Equal(t, int32(1), d.maxInFlight.Load())
}

func TestStopWhilePendingReachesStopped(t *testing.T) {
	d := newDetector()
	d.block = make(chan struct{})
	rec := &reports{}
	s, _ := newScheduler(t, d, rec)

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, 2*time.Second, time.Millisecond)

	s.Stop()
	close(d.block)
	waitDone(t, s)

	assert.Equal(t, StateStopped, s.State())
	assert.Equal(t, 0, rec.len())
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestNoReportAfterStopReturns(t *testing.T) {
	for i := 0; i < 20; i++ {
		rec := &reports{}
		s, _ := newScheduler(t, newDetector(), rec)

		require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
		require.Eventually(t, func() bool { return rec.len() >= 1+i%3 }, 2*time.Second, time.Millisecond)

		s.Stop()
		atStop := rec.len()
		waitDone(t, s)

		assert.Equal(t, atStop, rec.len(), "iteration %d", i)
	}
}

func TestStartWaitForDrainHonoursContext(t *testing.T) {
	d := newDetector()
	d.block = make(chan struct{})
	s, _ := newScheduler(t, d, &reports{})

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	require.Eventually(t, func() bool { return d.calls.Load() == 1 }, 2*time.Second, time.Millisecond)
	s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Start(ctx, &fakeReader{}, source.KindCamera), context.DeadlineExceeded)

	close(d.block)
	waitDone(t, s)
}

func TestRunOnce(t *testing.T) {
	d := newDetector()
	rec := &reports{}
	s, surface := newScheduler(t, d, rec)

	frame := image.NewRGBA(image.Rect(0, 0, 32, 24))
	report, err := s.RunOnce(context.Background(), frame)
	require.NoError(t, err)

	assert.Equal(t, 0, report.FPS)
	assert.Equal(t, source.KindStaticImage, report.Source)
	assert.Len(t, report.Detections, 1)
	assert.Equal(t, 1, rec.len())

	_, ok := surface.Snapshot()
	assert.True(t, ok)

	_, err = s.RunOnce(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestRunOnceRefusedWhileRunning(t *testing.T) {
	d := newDetector()
	s, _ := newScheduler(t, d, &reports{})

	require.NoError(t, s.Start(context.Background(), &fakeReader{}, source.KindCamera))
	_, err := s.RunOnce(context.Background(), image.NewRGBA(image.Rect(0, 0, 4, 4)))
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	s.Stop()
	waitDone(t, s)
}

func TestRunOnceDetectError(t *testing.T) {
	d := newDetector()
	d.failures.Store(1)
	rec := &reports{}
	s, surface := newScheduler(t, d, rec)

	_, err := s.RunOnce(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 24)))
	assert.Error(t, err)
	assert.Equal(t, 0, rec.len())

	_, ok := surface.Snapshot()
	assert.True(t, ok, "the raw frame is still presented")
}

func TestProfilerIntegration(t *testing.T) {
	rp := profiler.NewRuntimeProfiler(profiler.ProfilingOptions{})
	renderer, err := render.NewRenderer(render.DefaultOptions())
	require.NoError(t, err)

	s := New(newDetector(), renderer, render.NewSurface(32, 24), Options{Profiler: rp})
	_, err = s.RunOnce(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 24)))
	require.NoError(t, err)

	names := []string{}
	for _, op := range rp.GetCurrentStats().Operations {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"scheduler.detect", "scheduler.render"}, names)
}
