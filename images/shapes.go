package images

import (
	"image"

	"github.com/chewxy/math32"
)

// Rect is a lightweight corner-form box used by post-processing.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// RectFromCenter builds a Rect from a centre point and a size, the layout most
// detection heads emit.
func RectFromCenter(cx, cy, w, h float32) Rect {
	return Rect{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2}
}

// Width returns the width of the rectangle.
func (r Rect) Width() float32 { return r.X2 - r.X1 }

// Height returns the height of the rectangle.
func (r Rect) Height() float32 { return r.Y2 - r.Y1 }

// Area returns the area of the rectangle, zero when degenerate.
func (r Rect) Area() float32 {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Scale multiplies the x coordinates by sx and the y coordinates by sy.
func (r Rect) Scale(sx, sy float32) Rect {
	return Rect{X1: r.X1 * sx, Y1: r.Y1 * sy, X2: r.X2 * sx, Y2: r.Y2 * sy}
}

// Clip limits the rectangle to [0,w] x [0,h].
func (r Rect) Clip(w, h float32) Rect {
	return Rect{
		X1: math32.Max(0, math32.Min(r.X1, w)),
		Y1: math32.Max(0, math32.Min(r.Y1, h)),
		X2: math32.Max(0, math32.Min(r.X2, w)),
		Y2: math32.Max(0, math32.Min(r.Y2, h)),
	}
}

// ToImageRect converts to an integer image.Rectangle.
func (r Rect) ToImageRect() image.Rectangle {
	return image.Rect(int(r.X1), int(r.Y1), int(r.X2), int(r.Y2)).Canon()
}

// CalculateIoU measures how much two rectangles overlap, as the area of their
// intersection divided by the area of their union. Returns 0 when they do not
// overlap (touching edges included) and 1 for identical rectangles.
//
// Arguments:
//   - r: The first rectangle.
//   - o: The other rectangle to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	rect1 := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	rect2 := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	CalculateIoU(rect1, rect2) // 25 / 175 = 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	interW := math32.Min(r.X2, o.X2) - math32.Max(r.X1, o.X1)
	interH := math32.Min(r.Y2, o.Y2) - math32.Max(r.Y1, o.Y1)
	if interW <= 0 || interH <= 0 {
		return 0.0
	}
	interArea := interW * interH

	// Inclusion-exclusion.
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0.0
	}
	return interArea / unionArea
}
