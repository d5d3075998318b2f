package source

import (
	"image"
	"time"

	"github.com/nvr-ai/live-detect/images"
)

// StaticImage is the single-image variant of Source. It never changes after load.
type StaticImage struct {
	img      image.Image
	format   images.ImageFormat
	loadedAt time.Time
}

// NewStaticImage decodes an uploaded image buffer.
func NewStaticImage(data []byte, loadedAt time.Time) (*StaticImage, error) {
	img, format, err := images.Decode(data)
	if err != nil {
		return nil, err
	}
	return &StaticImage{img: img, format: format, loadedAt: loadedAt}, nil
}

// Kind returns KindStaticImage.
func (s *StaticImage) Kind() Kind { return KindStaticImage }

// Size returns the natural size of the image.
func (s *StaticImage) Size() image.Point { return s.img.Bounds().Size() }

// Format returns the format the image was decoded from.
func (s *StaticImage) Format() images.ImageFormat { return s.format }

// Frame returns the image as a frame.
func (s *StaticImage) Frame() Frame {
	return Frame{Image: s.img, Seq: 1, CapturedAt: s.loadedAt}
}

// Close is a no-op.
func (s *StaticImage) Close() error { return nil }
