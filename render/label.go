package render

import "github.com/nvr-ai/live-detect/common"

// LabelBox is the background rectangle of a detection label.
type LabelBox struct {
	X, Y, Width, Height float64
}

// PlaceLabel positions a label of the given size for a detection box on a
// surfaceW x surfaceH surface. The label sits directly above the box; when
// that would leave the surface it moves inside the top edge of the box. The
// result is then clamped so it stays fully on the surface where it fits.
func PlaceLabel(box common.BoundingBox, width, height, surfaceW, surfaceH float64) LabelBox {
	x := float64(box.X)
	y := float64(box.Y) - height
	if y < 0 {
		y = float64(box.Y)
	}

	x = clamp(x, 0, max(0, surfaceW-width))
	y = clamp(y, 0, max(0, surfaceH-height))

	return LabelBox{X: x, Y: y, Width: width, Height: height}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
