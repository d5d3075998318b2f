package detectors

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/models"
)

// ONNXDetector runs a YOLOv8 style model through ONNX Runtime.
type ONNXDetector struct {
	session    *Session
	cfg        Config
	classes    models.OutputClassSet
	relevant   map[string]bool
	numAnchors int
}

// NewONNXDetector loads the model and binds its tensors.
//
// Arguments:
//   - cfg: The detector configuration. Backend must be BackendONNX.
//
// Returns:
//   - *ONNXDetector: The detector.
//   - error: An error if the model or runtime cannot be loaded.
func NewONNXDetector(cfg Config) (*ONNXDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	classes, err := models.ClassSet(cfg.Family)
	if err != nil {
		return nil, err
	}

	session, err := NewSession(cfg, len(classes.Classes))
	if err != nil {
		return nil, err
	}

	return &ONNXDetector{
		session:    session,
		cfg:        cfg,
		classes:    classes,
		relevant:   cfg.relevantSet(),
		numAnchors: yoloAnchors(cfg.InputShape.X, cfg.InputShape.Y),
	}, nil
}

// Detect runs inference on the frame. Boxes are returned in the frame's pixel space.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]common.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := d.cfg.InputShape.X, d.cfg.InputShape.Y
	if err := PrepareInput(img, d.session.Input.GetData(), w, h); err != nil {
		return nil, errors.Wrap(err, "failed to prepare input")
	}

	if err := d.session.Session.Run(); err != nil {
		return nil, errors.Wrap(err, "failed to run inference")
	}

	results := DecodeYOLO(d.session.Output.GetData(), len(d.classes.Classes), d.numAnchors, d.cfg.ConfidenceThreshold)

	bounds := img.Bounds()
	sx := float32(bounds.Dx()) / float32(w)
	sy := float32(bounds.Dy()) / float32(h)
	for i := range results {
		results[i].Box = results[i].Box.Scale(sx, sy)
	}

	return finalize(results, d.cfg, d.classes, d.relevant, bounds.Dx(), bounds.Dy()), nil
}

// Close releases the session and its tensors.
func (d *ONNXDetector) Close() error {
	return d.session.Close()
}
