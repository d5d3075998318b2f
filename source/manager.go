package source

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Manager keeps exactly one active source and releases the old one on every switch.
type Manager struct {
	opener DeviceOpener
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu     sync.Mutex
	active Source
}

// NewManager creates a manager with no active source.
func NewManager(opener DeviceOpener, clk clock.Clock, logger *zap.SugaredLogger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		opener: opener,
		clock:  clk,
		logger: logger,
	}
}

// ActivateCamera releases the current source and opens a camera. On failure
// there is no active source.
func (m *Manager) ActivateCamera(ctx context.Context, c Constraints) (*Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLocked()

	device, err := m.opener(ctx, c)
	if err != nil {
		m.logger.Warnw("camera activation failed", "device", c.ResolveDevice(), "error", err)
		return nil, errors.Wrap(err, "failed to access webcam")
	}

	cam := newCamera(device, c, m.clock)
	m.active = cam
	return cam, nil
}

// DeactivateCamera releases the camera if it is the active source. It is safe
// to call when nothing, or a static image, is active.
func (m *Manager) DeactivateCamera() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cam, ok := m.active.(*Camera)
	if !ok {
		return nil
	}
	m.active = nil
	return errors.Wrap(cam.Close(), "failed to release webcam")
}

// LoadStaticImage releases the current source and decodes data as the new
// source. On a decode error there is no active source.
func (m *Manager) LoadStaticImage(data []byte) (*StaticImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseLocked()

	img, err := NewStaticImage(data, m.clock.Now())
	if err != nil {
		return nil, errors.Wrap(err, "failed to load image")
	}
	m.active = img
	m.logger.Infow("image loaded", "format", img.Format(), "size", img.Size())
	return img, nil
}

// Active returns the active source, nil if there is none.
func (m *Manager) Active() Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Kind returns the kind of the active source.
func (m *Manager) Kind() Kind {
	if s := m.Active(); s != nil {
		return s.Kind()
	}
	return KindNone
}

// Close releases whatever source is active.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked()
}

func (m *Manager) releaseLocked() error {
	if m.active == nil {
		return nil
	}
	err := m.active.Close()
	if err != nil {
		m.logger.Warnw("failed to release source", "kind", m.active.Kind(), "error", err)
	}
	m.active = nil
	return err
}
