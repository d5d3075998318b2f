package studio

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/capture"
	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/inference"
	"github.com/nvr-ai/live-detect/publish"
	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/source"
)

type fakeDevice struct {
	lost   atomic.Bool
	closed atomic.Bool
}

func (d *fakeDevice) Latest() (image.Image, error) {
	if d.lost.Load() {
		return nil, source.ErrClosed
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (d *fakeDevice) Size() image.Point { return image.Pt(64, 48) }

func (d *fakeDevice) Close() error {
	d.closed.Store(true)
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []publish.Event
	closed bool
}

func (r *recorder) Publish(_ context.Context, ev publish.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) count(typ publish.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	studio  *Studio
	device  *fakeDevice
	pub     *recorder
	openErr error
}

func scenario(context.Context, image.Image) ([]common.Detection, error) {
	return []common.Detection{
		{BBox: common.BoundingBox{X: 1, Y: 1, Width: 10, Height: 10}, Class: "cat", Score: 0.82},
		{BBox: common.BoundingBox{X: 5, Y: 5, Width: 10, Height: 10}, Class: "cat", Score: 0.55},
		{BBox: common.BoundingBox{X: 20, Y: 20, Width: 10, Height: 10}, Class: "dog", Score: 0.91},
	}, nil
}

// blockingPublisher holds every event until release is closed.
type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) Publish(ctx context.Context, _ publish.Event) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *blockingPublisher) Close() error { return nil }

func newHarness(t *testing.T, loader inference.Loader) *harness {
	t.Helper()
	return newHarnessWith(t, loader, nil)
}

// newHarnessWith builds a studio publishing to pub, or to the harness
// recorder when pub is nil.
func newHarnessWith(t *testing.T, loader inference.Loader, pub publish.Publisher) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()

	h := &harness{device: &fakeDevice{}, pub: &recorder{}}
	if pub == nil {
		pub = h.pub
	}
	opener := func(context.Context, source.Constraints) (source.Device, error) {
		if h.openErr != nil {
			return nil, h.openErr
		}
		return h.device, nil
	}

	renderer, err := render.NewRenderer(render.DefaultOptions())
	require.NoError(t, err)

	h.studio = New(Deps{
		Gateway:   inference.NewGateway(loader, logger),
		Sources:   source.NewManager(opener, nil, logger),
		Renderer:  renderer,
		Surface:   render.NewSurface(1, 1),
		Captures:  capture.NewBuffer(capture.Options{Stagger: time.Millisecond}),
		Publisher: pub,
	}, Options{
		Camera:       source.DefaultConstraints(),
		TickInterval: time.Millisecond,
		Logger:       logger,
	})
	t.Cleanup(func() { _ = h.studio.Close() })
	return h
}

func readyLoader(context.Context) (inference.Model, error) {
	return inference.ModelFunc(scenario), nil
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	h.studio.Start(context.Background())
	select {
	case <-h.studio.ModelReady():
	case <-time.After(2 * time.Second):
		t.Fatal("model did not settle")
	}
}

func pngBytes(t *testing.T, w, hgt int) []byte {
	t.Helper()
	img, err := images.EncodePNG(image.NewRGBA(image.Rect(0, 0, w, hgt)))
	require.NoError(t, err)
	return img.Data
}

func TestToggleBeforeModelReady(t *testing.T) {
	h := newHarness(t, readyLoader)

	run, err := h.studio.Toggle(context.Background())
	assert.ErrorIs(t, err, inference.ErrNotReady)
	assert.Equal(t, RunIdle, run)
	assert.False(t, h.device.closed.Load())
	assert.Equal(t, source.KindNone, h.studio.Status().Source)
}

func TestToggleAfterFailedLoad(t *testing.T) {
	h := newHarness(t, func(context.Context) (inference.Model, error) {
		return nil, errors.New("weights not found")
	})
	h.start(t)

	_, err := h.studio.Toggle(context.Background())
	assert.ErrorIs(t, err, inference.ErrLoadFailed)

	st := h.studio.Status()
	assert.Equal(t, inference.StateFailed, st.Model)
	assert.Contains(t, st.ModelError, "weights not found")
	assert.Equal(t, RunIdle, st.Run)
}

func TestToggleRunsDetectionLoop(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	run, err := h.studio.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunActive, run)

	require.Eventually(t, func() bool {
		return h.studio.Status().Stats.Total == 3
	}, 2*time.Second, time.Millisecond)

	st := h.studio.Status()
	assert.Equal(t, source.KindCamera, st.Source)
	assert.Equal(t, uint(2), st.Stats.UniqueClasses)
	require.Len(t, st.Stats.Rows, 2)
	assert.Equal(t, "cat", st.Stats.Rows[0].Class)
	assert.Equal(t, uint(2), st.Stats.Rows[0].Count)
	require.Eventually(t, func() bool {
		return h.pub.count(publish.EventDetections) > 0
	}, 2*time.Second, time.Millisecond)

	frame, ok := h.studio.Frame()
	require.True(t, ok)
	assert.Equal(t, image.Pt(64, 48), frame.Bounds().Size())

	run, err = h.studio.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunIdle, run)
	assert.True(t, h.device.closed.Load())
	assert.Equal(t, source.KindNone, h.studio.Status().Source)
}

func TestCameraFailureLeavesIdle(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.openErr = errors.New("permission denied")
	h.start(t)

	run, err := h.studio.Toggle(context.Background())
	assert.Error(t, err)
	assert.Equal(t, RunIdle, run)

	st := h.studio.Status()
	assert.Contains(t, st.Error, "failed to access webcam")
	assert.Equal(t, RunIdle, st.Run)

	h.openErr = nil
	run, err = h.studio.Toggle(context.Background())
	require.NoError(t, err, "the user retries by toggling again")
	assert.Equal(t, RunActive, run)
	assert.Empty(t, h.studio.Status().Error)
}

func TestCameraLostReturnsToIdle(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	_, err := h.studio.Toggle(context.Background())
	require.NoError(t, err)
	h.device.lost.Store(true)

	require.Eventually(t, func() bool {
		return h.studio.Status().Run == RunIdle
	}, 2*time.Second, time.Millisecond)

	st := h.studio.Status()
	assert.Contains(t, st.Error, ErrCameraLost.Error())
	assert.True(t, h.device.closed.Load())
}

func TestUploadRunsSinglePass(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	report, err := h.studio.Upload(context.Background(), pngBytes(t, 80, 60))
	require.NoError(t, err)
	assert.Equal(t, 0, report.FPS)
	assert.Equal(t, source.KindStaticImage, report.Source)
	assert.Len(t, report.Detections, 3)

	st := h.studio.Status()
	assert.Equal(t, source.KindStaticImage, st.Source)
	assert.Equal(t, uint(3), st.Stats.Total)

	entry, err := h.studio.Capture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), entry.Index)
	assert.Equal(t, 80, entry.Image.Width)

	infos := h.studio.CaptureInfos()
	require.Len(t, infos, 1)
	assert.Equal(t, entry.FileName(), infos[0].FileName)
	require.Eventually(t, func() bool {
		return h.pub.count(publish.EventCaptures) == 1
	}, 2*time.Second, time.Millisecond)

	got, err := h.studio.Download(0)
	require.NoError(t, err)
	assert.Equal(t, entry.Index, got.Index)
	_, err = h.studio.Download(1)
	assert.ErrorIs(t, err, capture.ErrIndexOutOfRange)
}

func TestUploadAfterCameraReportsZeroFPS(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	_, err := h.studio.Toggle(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return h.studio.Status().FPS > 0
	}, 3*time.Second, time.Millisecond, "the loop publishes a rate after one window")

	report, err := h.studio.Upload(context.Background(), pngBytes(t, 40, 30))
	require.NoError(t, err)
	assert.Equal(t, 0, report.FPS)

	st := h.studio.Status()
	assert.Equal(t, 0, st.FPS)
	assert.Equal(t, source.KindStaticImage, st.Source)
}

func TestToggleOnClearsPreviousResults(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	_, err := h.studio.Upload(context.Background(), pngBytes(t, 40, 30))
	require.NoError(t, err)
	require.Equal(t, uint(3), h.studio.Status().Stats.Total)

	// The camera opens but never delivers a frame.
	h.device.lost.Store(true)
	_, err = h.studio.Toggle(context.Background())
	require.NoError(t, err)

	st := h.studio.Status()
	assert.Zero(t, st.Stats.Total)
	assert.Empty(t, st.Stats.Rows)
	assert.Empty(t, st.Detections)
	assert.Equal(t, 0, st.FPS)
}

func TestSlowPublisherDoesNotThrottleLoop(t *testing.T) {
	pub := &blockingPublisher{release: make(chan struct{})}
	h := newHarnessWith(t, readyLoader, pub)
	h.start(t)
	defer close(pub.release)

	_, err := h.studio.Toggle(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.studio.DroppedEvents() > 0
	}, 3*time.Second, time.Millisecond, "cycles outrun the blocked publisher")
	assert.Equal(t, uint(3), h.studio.Status().Stats.Total)
}

func TestUploadStopsCamera(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	_, err := h.studio.Toggle(context.Background())
	require.NoError(t, err)

	_, err = h.studio.Upload(context.Background(), pngBytes(t, 32, 32))
	require.NoError(t, err)

	assert.True(t, h.device.closed.Load())
	st := h.studio.Status()
	assert.Equal(t, RunIdle, st.Run)
	assert.Equal(t, source.KindStaticImage, st.Source)
}

func TestUploadBeforeModelReady(t *testing.T) {
	h := newHarness(t, readyLoader)

	_, err := h.studio.Upload(context.Background(), pngBytes(t, 16, 16))
	assert.ErrorIs(t, err, inference.ErrNotReady)

	frame, ok := h.studio.Frame()
	require.True(t, ok, "the image is shown even without detections")
	assert.Equal(t, image.Pt(16, 16), frame.Bounds().Size())
}

func TestUploadInvalidImage(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	_, err := h.studio.Upload(context.Background(), []byte("not an image"))
	assert.ErrorIs(t, err, images.ErrUnsupportedFormat)
	assert.NotEmpty(t, h.studio.Status().Error)
}

func TestCaptureBeforeRender(t *testing.T) {
	h := newHarness(t, readyLoader)
	_, err := h.studio.Capture(context.Background())
	assert.ErrorIs(t, err, capture.ErrNothingRendered)
}

func TestStatusEventsPublished(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	require.Eventually(t, func() bool {
		return h.pub.count(publish.EventStatus) >= 2
	}, 2*time.Second, time.Millisecond)

	h.pub.mu.Lock()
	defer h.pub.mu.Unlock()
	for _, ev := range h.pub.events {
		assert.Equal(t, h.studio.Session(), ev.Session)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t, readyLoader)
	h.start(t)

	_, err := h.studio.Toggle(context.Background())
	require.NoError(t, err)

	require.NoError(t, h.studio.Close())
	assert.True(t, h.device.closed.Load())
	h.pub.mu.Lock()
	assert.True(t, h.pub.closed)
	assert.Positive(t, len(h.pub.events), "queued events are flushed before the publisher closes")
	h.pub.mu.Unlock()
	assert.Equal(t, RunIdle, h.studio.Status().Run)
}
