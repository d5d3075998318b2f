// Package postprocess - Postprocessing utilities for models.
package postprocess

import "github.com/nvr-ai/live-detect/images"

// Result represents a single raw detection result in model output space.
type Result struct {
	// The bounding box of the result.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
}
