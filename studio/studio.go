// Package studio - Composes the model, frame source, scheduler, renderer and
// capture buffer behind the operations a UI triggers.
package studio

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/capture"
	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/inference"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/publish"
	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/scheduler"
	"github.com/nvr-ai/live-detect/source"
	"github.com/nvr-ai/live-detect/stats"
)

// ErrCameraLost is reported when the camera stops delivering frames while active.
var ErrCameraLost = errors.New("camera stream ended")

// eventBacklog is how many events may wait for the publisher.
const eventBacklog = 64

// RunState is whether continuous detection was requested.
type RunState int

const (
	// RunIdle means no continuous detection.
	RunIdle RunState = iota
	// RunActive means the camera loop is running.
	RunActive
)

func (r RunState) String() string {
	if r == RunActive {
		return "active"
	}
	return "idle"
}

// MarshalText encodes the run state by name.
func (r RunState) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Status is everything a UI shows besides the rendered surface.
type Status struct {
	Session    string               `json:"session"`
	Model      inference.ModelState `json:"model"`
	ModelError string               `json:"model_error,omitempty"`
	LoadTime   time.Duration        `json:"load_time"`
	Run        RunState             `json:"run"`
	Scheduler  scheduler.State      `json:"scheduler"`
	Source     source.Kind          `json:"source"`
	FPS        int                  `json:"fps"`
	Error      string               `json:"error,omitempty"`
	Captures   int                  `json:"captures"`
	Detections []common.Detection   `json:"detections"`
	Stats      stats.Summary        `json:"stats"`
}

// CaptureInfo describes a capture without its image bytes.
type CaptureInfo struct {
	Position   int       `json:"position"`
	Index      uint64    `json:"index"`
	CapturedAt time.Time `json:"captured_at"`
	FileName   string    `json:"file_name"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Bytes      int       `json:"bytes"`
}

// DetectionsPayload is published after every completed cycle.
type DetectionsPayload struct {
	Report scheduler.Report `json:"report"`
	Stats  stats.Summary    `json:"stats"`
}

// Deps are the components a Studio composes. All are required except Publisher.
type Deps struct {
	Gateway   *inference.Gateway
	Sources   *source.Manager
	Renderer  *render.Renderer
	Surface   *render.Surface
	Captures  *capture.Buffer
	Publisher publish.Publisher
}

// Options tunes a Studio.
type Options struct {
	// Camera are the constraints used when toggling on.
	Camera source.Constraints
	// TickInterval paces the detection loop.
	TickInterval time.Duration
	// Profiler, when set, receives scheduler timings.
	Profiler *profiler.RuntimeProfiler
	// PublishTimeout bounds each event publication and how long status
	// events wait for room in the queue, 2s when zero.
	PublishTimeout time.Duration
	Clock          clock.Clock
	Logger         *zap.SugaredLogger
}

// Studio is the composition root. UI events are serialised.
type Studio struct {
	gateway   *inference.Gateway
	sources   *source.Manager
	renderer  *render.Renderer
	surface   *render.Surface
	captures  *capture.Buffer
	scheduler *scheduler.Scheduler
	publisher publish.Publisher

	camera         source.Constraints
	publishTimeout time.Duration
	clock          clock.Clock
	logger         *zap.SugaredLogger
	session        string

	mu      sync.Mutex
	run     RunState
	gen     uint64
	lastErr error

	resultMu sync.RWMutex
	last     scheduler.Report
	summary  stats.Summary

	events    chan publish.Event
	quit      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// New wires a studio. The scheduler is created here so that its reports
// flow back into the studio.
func New(deps Deps, opts Options) *Studio {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	if deps.Publisher == nil {
		deps.Publisher = publish.Nop{}
	}

	s := &Studio{
		gateway:        deps.Gateway,
		sources:        deps.Sources,
		renderer:       deps.Renderer,
		surface:        deps.Surface,
		captures:       deps.Captures,
		publisher:      deps.Publisher,
		camera:         opts.Camera,
		publishTimeout: opts.PublishTimeout,
		clock:          opts.Clock,
		logger:         opts.Logger,
		session:        uuid.NewString(),
		summary:        stats.Aggregate(nil),
		events:         make(chan publish.Event, eventBacklog),
		quit:           make(chan struct{}),
		pumpDone:       make(chan struct{}),
	}
	s.scheduler = scheduler.New(deps.Gateway, deps.Renderer, deps.Surface, scheduler.Options{
		TickInterval: opts.TickInterval,
		Clock:        opts.Clock,
		Logger:       opts.Logger.Named("scheduler"),
		Profiler:     opts.Profiler,
		OnReport:     s.onReport,
	})
	go s.pump()
	return s
}

// Session identifies this studio on published events.
func (s *Studio) Session() string { return s.session }

// Start loads the model in the background. The outcome is published as a
// status event; ModelReady is closed when the load settles.
func (s *Studio) Start(ctx context.Context) {
	s.publishStatus()
	go func() {
		if err := s.gateway.Load(ctx); err != nil {
			s.logger.Errorw("model load failed, detection disabled", "error", err)
		} else {
			s.logger.Infow("model ready", "load_time", s.gateway.LoadTime())
		}
		s.publishStatus()
	}()
}

// ModelReady is closed once the model load has settled.
func (s *Studio) ModelReady() <-chan struct{} {
	return s.gateway.Done()
}

// Toggle switches between Idle and Active. Turning on requires a ready model
// and opens the camera; a camera failure leaves the studio Idle with the
// error in Status. Turning off stops the loop and releases the camera.
func (s *Studio) Toggle(ctx context.Context) (RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishStatusLocked()

	if s.run == RunActive {
		s.stopLocked()
		return s.run, nil
	}

	if !s.gateway.Ready() {
		_, loadErr := s.gateway.State()
		if loadErr != nil {
			return s.run, loadErr
		}
		return s.run, inference.ErrNotReady
	}

	cam, err := s.sources.ActivateCamera(ctx, s.camera)
	if err != nil {
		s.lastErr = err
		return s.run, err
	}

	size := cam.Size()
	s.surface.Resize(size.X, size.Y)
	s.setResult(scheduler.Report{Source: source.KindCamera})

	if err := s.scheduler.Start(ctx, cam, source.KindCamera); err != nil {
		s.lastErr = err
		if derr := s.sources.DeactivateCamera(); derr != nil {
			s.logger.Warnw("failed to release camera", "error", derr)
		}
		return s.run, err
	}

	s.run = RunActive
	s.lastErr = nil
	s.gen++
	go s.watch(s.gen, s.scheduler.Done())

	s.logger.Infow("detection started", "device", s.camera.ResolveDevice(), "size", size)
	return s.run, nil
}

func (s *Studio) stopLocked() {
	s.scheduler.Stop()
	if err := s.sources.DeactivateCamera(); err != nil {
		s.logger.Warnw("failed to release camera", "error", err)
	}
	s.run = RunIdle
	s.gen++
	s.logger.Infow("detection stopped")
}

// watch returns the studio to Idle when the loop of generation gen ends on
// its own, e.g. because the camera stopped delivering frames.
func (s *Studio) watch(gen uint64, done <-chan struct{}) {
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.run != RunActive {
		return
	}

	if err := s.scheduler.Err(); err != nil {
		s.lastErr = errors.Wrap(ErrCameraLost, err.Error())
		s.logger.Warnw("camera lost, detection stopped", "error", err)
	}
	if err := s.sources.DeactivateCamera(); err != nil {
		s.logger.Warnw("failed to release camera", "error", err)
	}
	s.run = RunIdle
	s.gen++
	s.publishStatusLocked()
}

// Upload replaces the frame source with a decoded image and runs a single
// detection pass over it. A running loop is stopped first.
func (s *Studio) Upload(ctx context.Context, data []byte) (scheduler.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.publishStatusLocked()

	if s.run == RunActive {
		s.stopLocked()
	}

	img, err := s.sources.LoadStaticImage(data)
	if err != nil {
		s.lastErr = err
		return scheduler.Report{}, err
	}
	s.lastErr = nil

	if done := s.scheduler.Done(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return scheduler.Report{}, ctx.Err()
		}
	}

	size := img.Size()
	s.surface.Resize(size.X, size.Y)
	frame := img.Frame().Image

	if !s.gateway.Ready() {
		s.renderer.Render(s.surface, frame, nil)
		s.setResult(scheduler.Report{Source: source.KindStaticImage})
		return scheduler.Report{}, inference.ErrNotReady
	}

	report, err := s.scheduler.RunOnce(ctx, frame)
	if err != nil {
		s.logger.Warnw("detection on uploaded image failed", "error", err)
		s.setResult(scheduler.Report{Source: source.KindStaticImage})
		return scheduler.Report{}, err
	}
	return report, nil
}

// onReport runs on the detection loop and for single passes. It never waits
// for the publisher.
func (s *Studio) onReport(report scheduler.Report) {
	summary := s.setResult(report)
	s.enqueue(publish.NewEvent(s.session, publish.EventDetections, s.clock.Now(),
		DetectionsPayload{Report: report, Stats: summary}))
}

// setResult replaces the detections, FPS and stats shown in Status.
func (s *Studio) setResult(report scheduler.Report) stats.Summary {
	summary := stats.Aggregate(report.Detections)

	s.resultMu.Lock()
	s.last = report
	s.summary = summary
	s.resultMu.Unlock()
	return summary
}

// Capture snapshots the last completed render into the capture buffer.
func (s *Studio) Capture(_ context.Context) (capture.CapturedImage, error) {
	entry, err := s.captures.Capture(s.surface)
	if err != nil {
		return capture.CapturedImage{}, err
	}
	s.publish(publish.EventCaptures, s.CaptureInfos())
	return entry, nil
}

// Captures returns the buffer contents newest first.
func (s *Studio) Captures() []capture.CapturedImage {
	return s.captures.Entries()
}

// CaptureInfos returns the buffer metadata newest first.
func (s *Studio) CaptureInfos() []CaptureInfo {
	entries := s.captures.Entries()
	infos := make([]CaptureInfo, len(entries))
	for i, e := range entries {
		infos[i] = CaptureInfo{
			Position:   i,
			Index:      e.Index,
			CapturedAt: e.CapturedAt,
			FileName:   e.FileName(),
			Width:      e.Image.Width,
			Height:     e.Image.Height,
			Bytes:      len(e.Image.Data),
		}
	}
	return infos
}

// Download returns the capture at a display position.
func (s *Studio) Download(position int) (capture.CapturedImage, error) {
	return s.captures.Get(position)
}

// Export writes the capture at a display position through the configured exporter.
func (s *Studio) Export(ctx context.Context, position int) (capture.CapturedImage, error) {
	return s.captures.Export(ctx, position)
}

// ExportAll exports every capture, staggered.
func (s *Studio) ExportAll(ctx context.Context) (int, error) {
	return s.captures.ExportAll(ctx)
}

// Frame returns the last completed render.
func (s *Studio) Frame() (image.Image, bool) {
	return s.surface.Snapshot()
}

// Status returns the current state.
func (s *Studio) Status() Status {
	s.mu.Lock()
	run, lastErr := s.run, s.lastErr
	s.mu.Unlock()
	return s.status(run, lastErr)
}

func (s *Studio) status(run RunState, lastErr error) Status {
	model, loadErr := s.gateway.State()

	s.resultMu.RLock()
	detections, fps, summary := s.last.Detections, s.last.FPS, s.summary
	s.resultMu.RUnlock()
	if detections == nil {
		detections = []common.Detection{}
	}

	st := Status{
		Session:    s.session,
		Model:      model,
		LoadTime:   s.gateway.LoadTime(),
		Run:        run,
		Scheduler:  s.scheduler.State(),
		Source:     s.sources.Kind(),
		FPS:        fps,
		Captures:   s.captures.Len(),
		Detections: detections,
		Stats:      summary,
	}
	if loadErr != nil {
		st.ModelError = loadErr.Error()
	}
	if lastErr != nil {
		st.Error = lastErr.Error()
	}
	return st
}

func (s *Studio) publishStatus() {
	s.publish(publish.EventStatus, s.Status())
}

// publishStatusLocked is publishStatus for callers holding mu.
func (s *Studio) publishStatusLocked() {
	s.publish(publish.EventStatus, s.status(s.run, s.lastErr))
}

// publish queues an event, waiting up to the publish timeout for room.
func (s *Studio) publish(typ publish.EventType, payload any) {
	ev := publish.NewEvent(s.session, typ, s.clock.Now(), payload)

	t := s.clock.Timer(s.publishTimeout)
	defer t.Stop()
	select {
	case <-s.quit:
	case s.events <- ev:
	case <-t.C:
		s.dropped.Add(1)
		s.logger.Warnw("event queue full, dropping event", "type", typ)
	}
}

// enqueue queues an event if there is room and drops it otherwise.
func (s *Studio) enqueue(ev publish.Event) {
	select {
	case <-s.quit:
		return
	default:
	}
	select {
	case s.events <- ev:
	default:
		if n := s.dropped.Add(1); n%100 == 1 {
			s.logger.Warnw("event queue full, dropping events", "type", ev.Type, "dropped", n)
		}
	}
}

// pump hands queued events to the publisher in order until Close, then
// flushes what is still queued.
func (s *Studio) pump() {
	defer close(s.pumpDone)
	for {
		select {
		case ev := <-s.events:
			s.deliver(ev)
		case <-s.quit:
			for {
				select {
				case ev := <-s.events:
					s.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *Studio) deliver(ev publish.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warnw("failed to publish event", "type", ev.Type, "error", err)
	}
}

// DroppedEvents returns how many events were discarded because the queue was full.
func (s *Studio) DroppedEvents() uint64 {
	return s.dropped.Load()
}

// Close stops detection, waits for the loop to finish, flushes queued events
// and releases the camera, the model and the publishers.
func (s *Studio) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == RunActive {
		s.scheduler.Stop()
		s.run = RunIdle
		s.gen++
	}
	if done := s.scheduler.Done(); done != nil {
		<-done
	}
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.pumpDone

	return multierr.Combine(
		s.sources.Close(),
		s.gateway.Close(),
		s.publisher.Close(),
	)
}
