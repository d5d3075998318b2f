package render

import (
	"image"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/images"
)

// Options controls overlay geometry.
type Options struct {
	// LineWidth is the box stroke width.
	LineWidth float64
	// LabelHeight is the height of the label background.
	LabelHeight float64
	// LabelPadding is the horizontal text padding inside the label.
	LabelPadding float64
	// FontSize is the label font size in pixels.
	FontSize float64
	// Glow strokes a wider translucent outline under each box.
	Glow bool
}

// DefaultOptions returns the standard overlay geometry.
func DefaultOptions() Options {
	return Options{
		LineWidth:    3,
		LabelHeight:  24,
		LabelPadding: 6,
		FontSize:     14,
		Glow:         true,
	}
}

const glowAlpha = 90

// Renderer draws frames and detection overlays.
type Renderer struct {
	opts Options
	face font.Face
}

// NewRenderer parses the label font.
func NewRenderer(opts Options) (*Renderer, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse label font")
	}
	return &Renderer{
		opts: opts,
		face: truetype.NewFace(f, &truetype.Options{Size: opts.FontSize, DPI: 72}),
	}, nil
}

// DrawFrame clears the surface and draws frame stretched over all of it.
func (r *Renderer) DrawFrame(s *Surface, frame image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.drawFrameLocked(s, frame)
}

func (r *Renderer) drawFrameLocked(s *Surface, frame image.Image) {
	s.dc.SetRGB(0, 0, 0)
	s.dc.Clear()
	if frame == nil {
		s.frameSize = s.back.Bounds().Size()
		return
	}
	images.ScaleInto(s.back, frame)
	s.frameSize = frame.Bounds().Size()
}

// DrawDetections draws a box and label for every detection over what is on
// the surface. Boxes are in the pixel space of the last drawn frame.
func (r *Renderer) DrawDetections(s *Surface, detections []common.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.drawDetectionsLocked(s, detections)
}

func (r *Renderer) drawDetectionsLocked(s *Surface, detections []common.Detection) {
	size := s.back.Bounds().Size()
	sx := float32(size.X) / float32(max(s.frameSize.X, 1))
	sy := float32(size.Y) / float32(max(s.frameSize.Y, 1))

	for _, d := range detections {
		box := common.BoundingBox{
			X:      d.BBox.X * sx,
			Y:      d.BBox.Y * sy,
			Width:  d.BBox.Width * sx,
			Height: d.BBox.Height * sy,
		}
		r.drawDetection(s.dc, box, d)
	}
}

func (r *Renderer) drawDetection(dc *gg.Context, box common.BoundingBox, d common.Detection) {
	c := tierColorful(d.Tier())
	x, y := float64(box.X), float64(box.Y)
	w, h := float64(box.Width), float64(box.Height)

	if r.opts.Glow {
		dc.SetColor(withAlpha(c, glowAlpha))
		dc.SetLineWidth(r.opts.LineWidth + 4)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()
	}

	dc.SetColor(c)
	dc.SetLineWidth(r.opts.LineWidth)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()

	text := d.Label()
	dc.SetFontFace(r.face)
	textW, _ := dc.MeasureString(text)

	label := PlaceLabel(box, textW+2*r.opts.LabelPadding, r.opts.LabelHeight, float64(dc.Width()), float64(dc.Height()))
	dc.SetColor(c)
	dc.DrawRectangle(label.X, label.Y, label.Width, label.Height)
	dc.Fill()

	dc.SetColor(LabelTextColor)
	dc.DrawString(text, label.X+r.opts.LabelPadding, label.Y+label.Height-r.opts.LabelPadding)
}

// Render draws a frame and its detections and presents the result.
func (r *Renderer) Render(s *Surface, frame image.Image, detections []common.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.drawFrameLocked(s, frame)
	r.drawDetectionsLocked(s, detections)
	s.presentLocked()
}
