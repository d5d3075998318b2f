package detectors

import (
	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/models/postprocess"
)

// yoloAnchors returns the number of predictions a YOLOv8 head emits for an input,
// one per cell of the stride 8, 16 and 32 grids.
func yoloAnchors(w, h int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (w / stride) * (h / stride)
	}
	return n
}

// DecodeYOLO parses a [1, 4+classes, anchors] YOLOv8 output. Each anchor
// contributes its best scoring class when that score reaches the threshold.
// Boxes stay in model input space.
//
// Arguments:
//   - output: The flattened output tensor.
//   - numClasses: The number of class score rows.
//   - numAnchors: The number of anchor columns.
//   - threshold: The minimum class score to keep.
//
// Returns:
//   - []postprocess.Result: Candidate results, unsorted.
func DecodeYOLO(output []float32, numClasses, numAnchors int, threshold float32) []postprocess.Result {
	if len(output) < (4+numClasses)*numAnchors {
		return nil
	}

	var results []postprocess.Result
	for idx := 0; idx < numAnchors; idx++ {
		classID := -1
		probability := float32(-1e9)
		for col := 0; col < numClasses; col++ {
			p := output[numAnchors*(col+4)+idx]
			if p > probability {
				probability = p
				classID = col
			}
		}
		if probability < threshold {
			continue
		}

		xc, yc := output[idx], output[numAnchors+idx]
		w, h := output[2*numAnchors+idx], output[3*numAnchors+idx]
		results = append(results, postprocess.Result{
			Box:   images.RectFromCenter(xc, yc, w, h),
			Score: probability,
			Class: classID,
		})
	}
	return results
}

// toDetections converts suppressed results in frame pixel space into detections,
// dropping irrelevant classes and boxes that fall outside the frame.
func toDetections(results []postprocess.Result, classes models.OutputClassSet, relevant map[string]bool, frameW, frameH int) []common.Detection {
	detections := make([]common.Detection, 0, len(results))
	for _, r := range results {
		name := classes.Name(r.Class)
		if relevant != nil && !relevant[name] {
			continue
		}

		box := r.Box.Clip(float32(frameW), float32(frameH))
		if box.Area() == 0 {
			continue
		}

		detections = append(detections, common.Detection{
			BBox:  common.BoundingBox{X: box.X1, Y: box.Y1, Width: box.Width(), Height: box.Height()},
			Class: name,
			Score: r.Score,
		})
	}
	return detections
}

// finalize sorts, suppresses and converts raw results.
func finalize(results []postprocess.Result, cfg Config, classes models.OutputClassSet, relevant map[string]bool, frameW, frameH int) []common.Detection {
	postprocess.SortByScore(results)
	kept := postprocess.ApplyGreedyNMS(results, postprocess.NMSConfig{
		IoUThreshold: cfg.NMSThreshold,
		ClassAware:   true,
	})
	return toDetections(kept, classes, relevant, frameW, frameH)
}
