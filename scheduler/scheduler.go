// Package scheduler - The detection loop: read a frame, draw it, run exactly
// one inference, draw the results, repeat.
package scheduler

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/source"
)

// DefaultTickInterval paces the loop at the display refresh rate.
const DefaultTickInterval = time.Second / 60

var (
	// ErrAlreadyRunning is returned when starting a loop while one is running.
	ErrAlreadyRunning = errors.New("detection loop already running")
	// ErrModelNotReady is returned when starting before the model has loaded.
	ErrModelNotReady = errors.New("detection model not ready")
	// ErrNoSource is returned when starting without a frame source.
	ErrNoSource = errors.New("no frame source")
)

// FrameReader yields frames from a live source.
type FrameReader interface {
	ReadFrame() (source.Frame, error)
}

// Detector runs the model on a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]common.Detection, error)
	Ready() bool
}

// State of the loop.
type State int

const (
	// StateStopped means no loop goroutine exists.
	StateStopped State = iota
	// StateRunning means a loop goroutine exists, possibly finishing its last cycle.
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "stopped"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Report is the outcome of one completed cycle.
type Report struct {
	Detections  []common.Detection `json:"detections"`
	FPS         int                `json:"fps"`
	Source      source.Kind        `json:"source"`
	Cycle       uint64             `json:"cycle"`
	Latency     time.Duration      `json:"latency"`
	FrameSize   image.Point        `json:"frame_size"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Options configures a Scheduler.
type Options struct {
	// TickInterval is the delay before each cycle, DefaultTickInterval when zero.
	TickInterval time.Duration
	Clock        clock.Clock
	Logger       *zap.SugaredLogger
	// Profiler, when set, records detect and render timings and samples the
	// scheduler's counters.
	Profiler *profiler.RuntimeProfiler
	// OnReport is called on the loop goroutine after every completed cycle.
	// It must not call back into Start, Stop, Done, Err or State.
	OnReport func(Report)
}

// Scheduler drives detection cycles against a surface.
type Scheduler struct {
	detector Detector
	renderer *render.Renderer
	surface  *render.Surface
	tick     time.Duration
	clock    clock.Clock
	logger   *zap.SugaredLogger
	profiler *profiler.RuntimeProfiler
	onReport func(Report)
	fps      *FPSCounter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	// cycleMu keeps loop cycles and single passes from interleaving on the surface.
	cycleMu sync.Mutex

	cycles       atomic.Uint64
	skipped      atomic.Uint64
	detectErrors atomic.Uint64
}

// New creates a stopped scheduler.
func New(detector Detector, renderer *render.Renderer, surface *render.Surface, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.OnReport == nil {
		opts.OnReport = func(Report) {}
	}

	s := &Scheduler{
		detector: detector,
		renderer: renderer,
		surface:  surface,
		tick:     opts.TickInterval,
		clock:    opts.Clock,
		logger:   opts.Logger,
		profiler: opts.Profiler,
		onReport: opts.OnReport,
		fps:      NewFPSCounter(opts.Clock),
	}
	if s.profiler != nil {
		s.profiler.AddMetricsCollector(s)
	}
	return s
}

// Start launches the loop over frames. It waits for a previously stopped loop
// to finish its in-flight cycle, bounded by ctx. The loop itself is not bound
// to ctx; it runs until Stop or until the source reports ErrClosed.
func (s *Scheduler) Start(ctx context.Context, frames FrameReader, kind source.Kind) error {
	if frames == nil {
		return ErrNoSource
	}
	if !s.detector.Ready() {
		return ErrModelNotReady
	}

	for {
		s.mu.Lock()
		if s.cancel != nil {
			s.mu.Unlock()
			return ErrAlreadyRunning
		}
		prev := s.done
		if prev == nil || closed(prev) {
			loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			done := make(chan struct{})
			s.cancel, s.done, s.err = cancel, done, nil
			s.fps.Reset()
			s.mu.Unlock()

			s.logger.Infow("detection loop started", "source", kind, "tick", s.tick)
			go s.run(loopCtx, frames, kind, done)
			return nil
		}
		s.mu.Unlock()

		select {
		case <-prev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop cancels the next tick and returns without waiting for a detect call
// in flight, which completes in the background with its result discarded.
// Calling Stop when nothing runs is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
}

// Done is closed when the current loop goroutine exits. It is nil before the
// first Start.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns why the last loop ended on its own, nil if it was stopped.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State reports whether a loop goroutine exists.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil || closed(s.done) {
		return StateStopped
	}
	return StateRunning
}

// FPS returns the last published frames-per-second value.
func (s *Scheduler) FPS() int {
	return s.fps.FPS()
}

// Cycles returns the number of completed cycles since the scheduler was created.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

func (s *Scheduler) run(ctx context.Context, frames FrameReader, kind source.Kind, done chan struct{}) {
	defer close(done)

	for {
		if !s.wait(ctx) {
			s.logger.Infow("detection loop stopped", "cycles", s.cycles.Load())
			return
		}

		frame, err := frames.ReadFrame()
		switch {
		case errors.Is(err, source.ErrNotReady):
			s.skipped.Add(1)
			continue
		case errors.Is(err, source.ErrClosed):
			s.logger.Warnw("frame source unavailable, stopping detection loop", "error", err)
			s.mu.Lock()
			s.err = err
			if s.cancel != nil {
				s.cancel()
				s.cancel = nil
			}
			s.mu.Unlock()
			return
		case err != nil:
			s.skipped.Add(1)
			s.logger.Warnw("failed to read frame", "error", err)
			continue
		}

		s.cycle(ctx, frame, kind)
	}
}

func (s *Scheduler) wait(ctx context.Context) bool {
	t := s.clock.Timer(s.tick)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Scheduler) cycle(ctx context.Context, frame source.Frame, kind source.Kind) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.renderer.DrawFrame(s.surface, frame.Image)

	start := s.clock.Now()
	detections, err := s.detect(context.WithoutCancel(ctx), frame.Image)
	latency := s.clock.Since(start)

	// Stop takes mu, so once it returns no result of this cycle is drawn or reported.
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil {
		s.logger.Debugw("discarding result of cancelled cycle", "seq", frame.Seq)
		return
	}

	if err != nil {
		s.detectErrors.Add(1)
		s.logger.Warnw("detection failed, continuing", "seq", frame.Seq, "error", err)
		s.surface.Present()
		return
	}

	s.draw(detections)
	s.complete(detections, s.fps.Tick(), kind, latency, frame.Image)
}

// RunOnce performs a single pass over a still frame and reports it with an
// FPS of 0. It refuses while the loop is running.
func (s *Scheduler) RunOnce(ctx context.Context, frame image.Image) (Report, error) {
	if frame == nil {
		return Report{}, ErrNoSource
	}
	if !s.detector.Ready() {
		return Report{}, ErrModelNotReady
	}
	if s.State() == StateRunning {
		return Report{}, ErrAlreadyRunning
	}

	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.renderer.DrawFrame(s.surface, frame)

	start := s.clock.Now()
	detections, err := s.detect(ctx, frame)
	if err != nil {
		s.detectErrors.Add(1)
		s.surface.Present()
		return Report{}, err
	}
	latency := s.clock.Since(start)

	s.draw(detections)
	return s.complete(detections, 0, source.KindStaticImage, latency, frame), nil
}

func (s *Scheduler) detect(ctx context.Context, frame image.Image) ([]common.Detection, error) {
	if s.profiler != nil {
		defer s.profiler.StartOperation("scheduler.detect")()
	}
	return s.detector.Detect(ctx, frame)
}

func (s *Scheduler) draw(detections []common.Detection) {
	if s.profiler != nil {
		defer s.profiler.StartOperation("scheduler.render")()
	}
	s.renderer.DrawDetections(s.surface, detections)
	s.surface.Present()
}

func (s *Scheduler) complete(detections []common.Detection, fps int, kind source.Kind, latency time.Duration, frame image.Image) Report {
	report := Report{
		Detections:  detections,
		FPS:         fps,
		Source:      kind,
		Cycle:       s.cycles.Add(1),
		Latency:     latency,
		FrameSize:   frame.Bounds().Size(),
		CompletedAt: s.clock.Now(),
	}
	s.onReport(report)
	return report
}

// CollectMetrics implements profiler.MetricsCollector.
func (s *Scheduler) CollectMetrics() map[string]float64 {
	return map[string]float64{
		"scheduler.fps":           float64(s.fps.FPS()),
		"scheduler.cycles":        float64(s.cycles.Load()),
		"scheduler.skipped_ticks": float64(s.skipped.Load()),
		"scheduler.detect_errors": float64(s.detectErrors.Load()),
	}
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
