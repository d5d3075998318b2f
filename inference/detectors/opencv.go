package detectors

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/models/postprocess"
)

// ssdRowSize is the width of an OpenCV DetectionOutput row:
// [image_id, class_id, score, left, top, right, bottom].
const ssdRowSize = 7

// OpenCVDetector runs an SSD MobileNet COCO model through OpenCV DNN.
type OpenCVDetector struct {
	net      gocv.Net
	cfg      Config
	classes  models.OutputClassSet
	relevant map[string]bool
}

// NewOpenCVDetector reads the network with gocv.ReadNet.
func NewOpenCVDetector(cfg Config) (*OpenCVDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	classes, err := models.ClassSet(cfg.Family)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to read network from %s", cfg.ModelPath)
	}
	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "error setting dnn backend")
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, errors.Wrap(err, "error setting dnn target")
	}

	return &OpenCVDetector{
		net:      net,
		cfg:      cfg,
		classes:  classes,
		relevant: cfg.relevantSet(),
	}, nil
}

// Detect runs inference on the frame. Boxes are returned in the frame's pixel space.
func (d *OpenCVDetector) Detect(ctx context.Context, img image.Image) ([]common.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert frame")
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0, d.cfg.InputShape, gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read network output")
	}

	bounds := img.Bounds()
	results := ParseSSD(data, d.cfg.ConfidenceThreshold, bounds.Dx(), bounds.Dy())
	return finalize(results, d.cfg, d.classes, d.relevant, bounds.Dx(), bounds.Dy()), nil
}

// Close releases the network.
func (d *OpenCVDetector) Close() error {
	return d.net.Close()
}

// ParseSSD converts DetectionOutput rows with normalised corners into results in
// a frameW x frameH pixel space.
func ParseSSD(data []float32, threshold float32, frameW, frameH int) []postprocess.Result {
	var results []postprocess.Result
	for i := 0; i+ssdRowSize <= len(data); i += ssdRowSize {
		row := data[i : i+ssdRowSize]
		score := row[2]
		if score < threshold {
			continue
		}
		box := images.Rect{X1: row[3], Y1: row[4], X2: row[5], Y2: row[6]}
		results = append(results, postprocess.Result{
			Box:   box.Scale(float32(frameW), float32(frameH)),
			Score: score,
			Class: int(row[1]),
		})
	}
	return results
}
