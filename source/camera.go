package source

import (
	"context"
	"image"
	"sync"

	"github.com/benbjohnson/clock"
)

// Facing modes understood by Constraints.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

// Constraints are the hints used to open a camera.
type Constraints struct {
	// DeviceID is the capture device used for the user-facing camera.
	DeviceID int
	// RearDeviceID is the device used when FacingMode is "environment", -1 if there is none.
	RearDeviceID int
	// Width and Height are the preferred capture resolution.
	Width, Height int
	// FacingMode is "user" or "environment".
	FacingMode string
}

// DefaultConstraints asks for a 640x480 user-facing camera.
func DefaultConstraints() Constraints {
	return Constraints{
		DeviceID:     0,
		RearDeviceID: -1,
		Width:        640,
		Height:       480,
		FacingMode:   FacingUser,
	}
}

// ResolveDevice picks the device for the requested facing mode, falling back to DeviceID.
func (c Constraints) ResolveDevice() int {
	if c.FacingMode == FacingEnvironment && c.RearDeviceID >= 0 {
		return c.RearDeviceID
	}
	return c.DeviceID
}

// Device is an opened capture device that keeps decoding frames on its own.
type Device interface {
	// Latest returns the most recent decoded frame, ErrNotReady before the
	// first one, ErrClosed once the device is gone.
	Latest() (image.Image, error)
	// Size is the resolution the device actually delivers.
	Size() image.Point
	// Close stops capture and releases the device.
	Close() error
}

// DeviceOpener opens a capture device honouring the constraints as far as it can.
type DeviceOpener func(ctx context.Context, c Constraints) (Device, error)

// Camera is the live stream variant of Source.
type Camera struct {
	device      Device
	constraints Constraints
	clock       clock.Clock

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func newCamera(device Device, c Constraints, clk clock.Clock) *Camera {
	return &Camera{device: device, constraints: c, clock: clk}
}

// Kind returns KindCamera.
func (c *Camera) Kind() Kind { return KindCamera }

// Size returns the resolution delivered by the device.
func (c *Camera) Size() image.Point { return c.device.Size() }

// Constraints returns the constraints the camera was opened with.
func (c *Camera) Constraints() Constraints { return c.constraints }

// ReadFrame returns the current frame of the stream.
func (c *Camera) ReadFrame() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Frame{}, ErrClosed
	}

	img, err := c.device.Latest()
	if err != nil {
		return Frame{}, err
	}

	c.seq++
	return Frame{Image: img, Seq: c.seq, CapturedAt: c.clock.Now()}, nil
}

// Close releases the device. Calling it again is a no-op.
func (c *Camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.device.Close()
}
