package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU_Correctness validates the IoU implementation against known test cases
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Rect
		r2       Rect
		expected float32
	}{
		{"Identical rectangles", Rect{0, 0, 100, 100}, Rect{0, 0, 100, 100}, 1.0},
		{"No overlap", Rect{0, 0, 100, 100}, Rect{200, 200, 300, 300}, 0.0},
		{"Touching edges", Rect{0, 0, 100, 100}, Rect{100, 0, 200, 100}, 0.0},
		// intersection=2500, union=17500
		{"Half overlap", Rect{0, 0, 100, 100}, Rect{50, 50, 150, 150}, 0.142857},
		// intersection=100, union=19900
		{"Small overlap", Rect{0, 0, 100, 100}, Rect{90, 90, 190, 190}, 0.005025},
		{"One inside other", Rect{0, 0, 100, 100}, Rect{25, 25, 75, 75}, 0.25},
		{"Fractional", Rect{0, 0, 1.5, 1}, Rect{0.5, 0, 2, 1}, 1.0 / 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.InDelta(t, tt.expected, result, 0.001)

			// IoU(A, B) == IoU(B, A)
			assert.InDelta(t, result, CalculateIoU(tt.r2, tt.r1), 0.001)
		})
	}
}

// TestIoU_vs_ImageRectangle compares our implementation against image.Rectangle
func TestIoU_vs_ImageRectangle(t *testing.T) {
	testCases := []struct {
		name string
		r1   Rect
		r2   Rect
	}{
		{"No overlap", Rect{0, 0, 100, 100}, Rect{200, 200, 300, 300}},
		{"Partial overlap", Rect{0, 0, 100, 100}, Rect{50, 50, 150, 150}},
		{"Full overlap", Rect{50, 50, 150, 150}, Rect{50, 50, 150, 150}},
		{"One inside other", Rect{0, 0, 100, 100}, Rect{25, 25, 75, 75}},
		{"Large boxes", Rect{0, 0, 1920, 1080}, Rect{960, 540, 1920, 1080}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			custom := CalculateIoU(tc.r1, tc.r2)
			reference := imageRectangleIoU(tc.r1.ToImageRect(), tc.r2.ToImageRect())
			assert.InDelta(t, reference, custom, 0.0001)
		})
	}
}

// imageRectangleIoU implements IoU using Go's standard library image.Rectangle
func imageRectangleIoU(r1, r2 image.Rectangle) float32 {
	intersect := r1.Intersect(r2)
	if intersect.Empty() {
		return 0.0
	}

	intersectArea := intersect.Dx() * intersect.Dy()
	union := r1.Dx()*r1.Dy() + r2.Dx()*r2.Dy() - intersectArea

	return float32(intersectArea) / float32(union)
}

// TestIoU_EdgeCases tests edge cases and boundary conditions
func TestIoU_EdgeCases(t *testing.T) {
	tests := []struct {
		name string
		r1   Rect
		r2   Rect
	}{
		{"Zero area rectangle 1", Rect{0, 0, 0, 0}, Rect{0, 0, 100, 100}},
		{"Zero area rectangle 2", Rect{0, 0, 100, 100}, Rect{50, 50, 50, 50}},
		{"Both zero area", Rect{0, 0, 0, 0}, Rect{10, 10, 10, 10}},
		{"Negative coordinates", Rect{-100, -100, 0, 0}, Rect{-50, -50, 50, 50}},
		{"Single pixel", Rect{0, 0, 1, 1}, Rect{0, 0, 1, 1}},
		{"Very large coordinates", Rect{0, 0, 99999, 99999}, Rect{50000, 50000, 99999, 99999}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateIoU(tt.r1, tt.r2)
			assert.GreaterOrEqual(t, result, float32(0))
			assert.LessOrEqual(t, result, float32(1.0001))

			reverse := CalculateIoU(tt.r2, tt.r1)
			assert.GreaterOrEqual(t, reverse, float32(0))
			assert.LessOrEqual(t, reverse, float32(1.0001))
		})
	}
}

func TestRectHelpers(t *testing.T) {
	r := RectFromCenter(50, 40, 20, 10)
	assert.Equal(t, Rect{X1: 40, Y1: 35, X2: 60, Y2: 45}, r)
	assert.Equal(t, float32(200), r.Area())

	assert.Equal(t, Rect{X1: 80, Y1: 70, X2: 120, Y2: 90}, r.Scale(2, 2))
	assert.Equal(t, Rect{X1: 0, Y1: 0, X2: 10, Y2: 5}, Rect{-5, -5, 20, 20}.Clip(10, 5))
}
