package scheduler

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// FPSWindow is the length of the window completed cycles are counted over.
const FPSWindow = time.Second

// FPSCounter counts completed cycles and publishes the count each time a
// window of at least FPSWindow closes. The published value only changes at
// window boundaries.
type FPSCounter struct {
	clock clock.Clock

	mu          sync.Mutex
	count       int
	windowStart time.Time
	fps         int
}

// NewFPSCounter creates a counter whose first window starts now.
func NewFPSCounter(clk clock.Clock) *FPSCounter {
	if clk == nil {
		clk = clock.New()
	}
	return &FPSCounter{clock: clk, windowStart: clk.Now()}
}

// Tick records one completed cycle and returns the published FPS.
func (f *FPSCounter) Tick() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count++
	now := f.clock.Now()
	if now.Sub(f.windowStart) >= FPSWindow {
		f.fps = f.count
		f.count = 0
		f.windowStart = now
	}
	return f.fps
}

// FPS returns the value published by the last closed window.
func (f *FPSCounter) FPS() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fps
}

// Reset zeroes the counter and starts a new window.
func (f *FPSCounter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = 0
	f.fps = 0
	f.windowStart = f.clock.Now()
}
