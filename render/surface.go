// Package render - Draws frames and detection overlays onto a surface.
package render

import (
	"image"
	"image/draw"
	"sync"

	"github.com/fogleman/gg"
)

// Surface is a drawing target with a back buffer that is written during a
// cycle and a front buffer holding the last presented render.
type Surface struct {
	mu        sync.Mutex
	back      *image.RGBA
	dc        *gg.Context
	frameSize image.Point

	frontMu   sync.RWMutex
	front     *image.RGBA
	presented bool
}

// NewSurface creates a surface of the given size.
func NewSurface(width, height int) *Surface {
	s := &Surface{}
	s.Resize(width, height)
	return s
}

// Resize reallocates the surface, discarding anything drawn or presented.
func (s *Surface) Resize(width, height int) {
	width, height = max(width, 1), max(height, 1)

	s.mu.Lock()
	s.back = image.NewRGBA(image.Rect(0, 0, width, height))
	s.dc = gg.NewContextForRGBA(s.back)
	s.frameSize = image.Pt(width, height)
	s.mu.Unlock()

	s.frontMu.Lock()
	s.front = image.NewRGBA(image.Rect(0, 0, width, height))
	s.presented = false
	s.frontMu.Unlock()
}

// Size returns the surface dimensions.
func (s *Surface) Size() image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.back.Bounds().Size()
}

// Present publishes the back buffer as the current render.
func (s *Surface) Present() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presentLocked()
}

func (s *Surface) presentLocked() {
	s.frontMu.Lock()
	defer s.frontMu.Unlock()
	if s.front.Bounds() != s.back.Bounds() {
		s.front = image.NewRGBA(s.back.Bounds())
	}
	draw.Draw(s.front, s.front.Bounds(), s.back, image.Point{}, draw.Src)
	s.presented = true
}

// Snapshot returns a copy of the last presented render, false if nothing has
// been presented since the surface was created or resized.
func (s *Surface) Snapshot() (image.Image, bool) {
	s.frontMu.RLock()
	defer s.frontMu.RUnlock()
	if !s.presented {
		return nil, false
	}
	out := image.NewRGBA(s.front.Bounds())
	copy(out.Pix, s.front.Pix)
	return out, true
}
