package inference

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/common"
)

var (
	// ErrNotReady is returned by Detect until the model has loaded.
	ErrNotReady = errors.New("model not ready")
	// ErrLoadFailed wraps the cause of a failed model load.
	ErrLoadFailed = errors.New("failed to load detection model")
	// ErrClosed is returned by Detect after Close.
	ErrClosed = errors.New("model gateway closed")
	// ErrNilFrame is returned when Detect is called without a frame.
	ErrNilFrame = errors.New("nil frame")
)

// Gateway owns a detection model handle and its load lifecycle.
//
// The model is loaded at most once. Detect calls are serialised because model
// runtimes generally bind a single set of input and output buffers.
type Gateway struct {
	loader Loader
	logger *zap.SugaredLogger
	clock  clock.Clock

	once sync.Once
	done chan struct{}

	mu       sync.RWMutex
	state    ModelState
	model    Model
	err      error
	loadTime time.Duration
	closed   bool

	detectMu sync.Mutex
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithClock sets the clock used to stamp detections.
func WithClock(c clock.Clock) GatewayOption {
	return func(g *Gateway) { g.clock = c }
}

// NewGateway creates a gateway in the Unloaded state.
//
// Arguments:
//   - loader: Fetches and initialises the model when Load is first called.
//   - logger: The logger for load progress and failures.
//
// Returns:
//   - *Gateway: The gateway.
func NewGateway(loader Loader, logger *zap.SugaredLogger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		loader: loader,
		logger: logger,
		clock:  clock.New(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Load runs the loader once. Concurrent and later calls block until that single
// attempt settles and return its outcome. A failed load is never retried.
func (g *Gateway) Load(ctx context.Context) error {
	g.once.Do(func() {
		defer close(g.done)
		g.load(ctx)
	})

	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.err
}

func (g *Gateway) load(ctx context.Context) {
	g.setState(StateLoading)
	g.logger.Infow("loading detection model")

	start := g.clock.Now()
	model, err := g.loader(ctx)
	if err == nil && model == nil {
		err = errors.New("loader returned no model")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		g.state = StateFailed
		g.err = fmt.Errorf("%w: %w", ErrLoadFailed, err)
		g.logger.Errorw("detection model failed to load", "error", err)
		return
	}

	g.model = model
	g.state = StateReady
	g.loadTime = g.clock.Since(start)
	g.logger.Infow("detection model ready", "elapsed", g.loadTime)
}

func (g *Gateway) setState(s ModelState) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Done is closed once the load attempt has settled.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// State returns the current state and, when Failed, the load error.
func (g *Gateway) State() (ModelState, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state, g.err
}

// Ready reports whether Detect can be served.
func (g *Gateway) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state == StateReady && !g.closed
}

// LoadTime returns how long the successful load took.
func (g *Gateway) LoadTime() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.loadTime
}

// Detect runs the model on a frame and returns a fresh list of detections
// stamped with the time they were produced. A failed call leaves the gateway
// Ready.
func (g *Gateway) Detect(ctx context.Context, frame image.Image) ([]common.Detection, error) {
	if frame == nil {
		return nil, ErrNilFrame
	}

	g.detectMu.Lock()
	defer g.detectMu.Unlock()

	g.mu.RLock()
	state, model, closed := g.state, g.model, g.closed
	g.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if state != StateReady {
		return nil, ErrNotReady
	}

	detections, err := model.Detect(ctx, frame)
	if err != nil {
		return nil, errors.Wrap(err, "detection failed")
	}

	now := g.clock.Now()
	out := make([]common.Detection, len(detections))
	for i, d := range detections {
		if d.CapturedAt.IsZero() {
			d.CapturedAt = now
		}
		out[i] = d
	}
	return out, nil
}

// Close releases the model. Detect returns ErrClosed afterwards.
func (g *Gateway) Close() error {
	g.detectMu.Lock()
	defer g.detectMu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return nil
	}
	g.closed = true
	if g.model == nil {
		return nil
	}
	return errors.Wrap(g.model.Close(), "failed to close model")
}
