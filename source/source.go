// Package source - Frame sources: a live camera or a single uploaded image.
package source

import (
	"image"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotReady means the camera has no decoded frame yet. Callers skip and retry.
	ErrNotReady = errors.New("frame not ready")
	// ErrClosed means the source has been released or the device stopped delivering frames.
	ErrClosed = errors.New("frame source closed")
)

// Kind tags which variant a Source is.
type Kind int

const (
	// KindNone means no source is active.
	KindNone Kind = iota
	// KindCamera is a live camera stream.
	KindCamera
	// KindStaticImage is a single decoded image.
	KindStaticImage
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindStaticImage:
		return "image"
	default:
		return "none"
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Source is the active producer of frames. Exactly one is active at a time.
type Source interface {
	Kind() Kind
	// Size is the native resolution; the render surface is sized to it.
	Size() image.Point
	Close() error
}

// Frame is one decoded image read from a source.
type Frame struct {
	Image      image.Image
	Seq        uint64
	CapturedAt time.Time
}
