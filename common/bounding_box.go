// Package common - Shared detection types.
package common

import (
	"encoding/json"
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// BoundingBox is an axis aligned box in rendered surface pixels.
type BoundingBox struct {
	X, Y, Width, Height float32
}

// Corners returns the top-left and bottom-right corners of the box.
func (b BoundingBox) Corners() (x1, y1, x2, y2 float32) {
	return b.X, b.Y, b.X + b.Width, b.Y + b.Height
}

// Area returns the area of the box, zero for degenerate boxes.
func (b BoundingBox) Area() float32 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// ToRect converts the bounding box to an image.Rectangle.
//
// Fractional coordinates are rounded outwards so the rectangle always covers the box.
//
// @example
// box := BoundingBox{X: 10.5, Y: 20.2, Width: 30, Height: 40}
// box.ToRect() // (10,20)-(41,61)
func (b BoundingBox) ToRect() image.Rectangle {
	x1, y1, x2, y2 := b.Corners()
	return image.Rect(
		int(math32.Floor(x1)),
		int(math32.Floor(y1)),
		int(math32.Ceil(x2)),
		int(math32.Ceil(y2)),
	).Canon()
}

// IoU calculates the Intersection over Union between two bounding boxes.
//
// Arguments:
// - other: The other bounding box to compare with.
//
// Returns:
// - The IoU value between 0 and 1.
func (b BoundingBox) IoU(other BoundingBox) float32 {
	ax1, ay1, ax2, ay2 := b.Corners()
	bx1, by1, bx2, by2 := other.Corners()

	iw := math32.Min(ax2, bx2) - math32.Max(ax1, bx1)
	ih := math32.Min(ay2, by2) - math32.Max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Clamp returns the part of the box that lies inside a w x h surface.
func (b BoundingBox) Clamp(w, h float32) BoundingBox {
	x1, y1, x2, y2 := b.Corners()
	x1 = math32.Max(0, math32.Min(x1, w))
	y1 = math32.Max(0, math32.Min(y1, h))
	x2 = math32.Max(0, math32.Min(x2, w))
	y2 = math32.Max(0, math32.Min(y2, h))
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%.1f, %.1f) %.1fx%.1f", b.X, b.Y, b.Width, b.Height)
}

// MarshalJSON encodes the box as [x, y, width, height].
func (b BoundingBox) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float32{b.X, b.Y, b.Width, b.Height})
}

// UnmarshalJSON decodes a box from [x, y, width, height].
func (b *BoundingBox) UnmarshalJSON(data []byte) error {
	var v []float32
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "bbox")
	}
	if len(v) != 4 {
		return errors.Errorf("bbox: expected 4 values, got %d", len(v))
	}
	*b = BoundingBox{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	return nil
}
