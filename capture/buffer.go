// Package capture - Bounded history of captured renders and their export.
package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/images"
)

const (
	// DefaultCapacity is the number of captures kept.
	DefaultCapacity = 10
	// DefaultStagger is the delay between consecutive exports in ExportAll.
	DefaultStagger = 100 * time.Millisecond
)

var (
	// ErrNothingRendered is returned when a capture is requested before anything was presented.
	ErrNothingRendered = errors.New("nothing has been rendered yet")
	// ErrIndexOutOfRange is returned for a display position with no capture.
	ErrIndexOutOfRange = errors.New("capture index out of range")
	// ErrNoExporter is returned when exporting without an exporter.
	ErrNoExporter = errors.New("no capture exporter configured")
)

// CapturedImage is one encoded snapshot of the render surface.
type CapturedImage struct {
	// Index is the capture sequence number, starting at 1.
	Index      uint64       `json:"index"`
	CapturedAt time.Time    `json:"captured_at"`
	Image      images.Image `json:"image"`
}

// FileName is the name the capture is exported under.
func (c CapturedImage) FileName() string {
	return fmt.Sprintf("detection_capture_%d_%d%s", c.CapturedAt.UnixMilli(), c.Index, c.Image.Format.Extension())
}

// Snapshotter yields the last completed render.
type Snapshotter interface {
	Snapshot() (image.Image, bool)
}

// Options configures a Buffer.
type Options struct {
	// Capacity bounds the number of captures kept, DefaultCapacity when zero.
	Capacity int
	// Stagger is the delay between exports in ExportAll, DefaultStagger when zero.
	Stagger time.Duration
	// Clock timestamps captures and paces exports.
	Clock clock.Clock
	// Exporter writes captures out. Optional.
	Exporter Exporter
	Logger   *zap.SugaredLogger
}

// Buffer keeps the most recent captures, newest first.
type Buffer struct {
	capacity int
	stagger  time.Duration
	clock    clock.Clock
	exporter Exporter
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	entries []CapturedImage
	next    uint64
}

// NewBuffer creates an empty buffer.
func NewBuffer(opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Stagger <= 0 {
		opts.Stagger = DefaultStagger
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Buffer{
		capacity: opts.Capacity,
		stagger:  opts.Stagger,
		clock:    opts.Clock,
		exporter: opts.Exporter,
		logger:   opts.Logger,
		entries:  make([]CapturedImage, 0, opts.Capacity),
		next:     1,
	}
}

// Capture encodes the last completed render and inserts it at the front,
// evicting the oldest capture when the buffer is full.
func (b *Buffer) Capture(s Snapshotter) (CapturedImage, error) {
	img, ok := s.Snapshot()
	if !ok {
		return CapturedImage{}, ErrNothingRendered
	}

	encoded, err := images.EncodePNG(img)
	if err != nil {
		return CapturedImage{}, errors.Wrap(err, "failed to capture render")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entry := CapturedImage{
		Index:      b.next,
		CapturedAt: b.clock.Now(),
		Image:      encoded,
	}
	b.next++

	b.entries = append([]CapturedImage{entry}, b.entries...)
	if len(b.entries) > b.capacity {
		b.entries = b.entries[:b.capacity]
	}

	b.logger.Debugw("render captured", "index", entry.Index, "bytes", len(encoded.Data))
	return entry, nil
}

// Entries returns the captures newest first.
func (b *Buffer) Entries() []CapturedImage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]CapturedImage, len(b.entries))
	copy(out, b.entries)
	return out
}

// Len returns the number of captures held.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Get returns the capture at a display position, 0 being the newest.
func (b *Buffer) Get(i int) (CapturedImage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i < 0 || i >= len(b.entries) {
		return CapturedImage{}, errors.Wrapf(ErrIndexOutOfRange, "index %d of %d", i, len(b.entries))
	}
	return b.entries[i], nil
}

// Export writes the capture at display position i through the exporter.
func (b *Buffer) Export(ctx context.Context, i int) (CapturedImage, error) {
	if b.exporter == nil {
		return CapturedImage{}, ErrNoExporter
	}
	entry, err := b.Get(i)
	if err != nil {
		return CapturedImage{}, err
	}
	if err := b.exporter.Export(ctx, entry); err != nil {
		return CapturedImage{}, errors.Wrapf(err, "failed to export %s", entry.FileName())
	}
	return entry, nil
}

// ExportAll exports every capture in display order, waiting the stagger
// delay between consecutive exports. It stops at the first error or when ctx
// is done, returning how many were exported.
func (b *Buffer) ExportAll(ctx context.Context) (int, error) {
	if b.exporter == nil {
		return 0, ErrNoExporter
	}

	entries := b.Entries()
	for i, entry := range entries {
		if i > 0 {
			if err := b.wait(ctx); err != nil {
				return i, err
			}
		}
		if err := b.exporter.Export(ctx, entry); err != nil {
			return i, errors.Wrapf(err, "failed to export %s", entry.FileName())
		}
	}

	b.logger.Infow("captures exported", "count", len(entries))
	return len(entries), nil
}

func (b *Buffer) wait(ctx context.Context) error {
	t := b.clock.Timer(b.stagger)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
