// Package detectors - Detection model backends served through the inference gateway.
package detectors

import (
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/nvr-ai/live-detect/inference/providers"
	"github.com/nvr-ai/live-detect/models"
)

// Backend names a model runtime.
type Backend string

const (
	// BackendONNX runs a YOLOv8-style ONNX export through ONNX Runtime.
	BackendONNX Backend = "onnx"
	// BackendOpenCV runs an SSD MobileNet COCO model through OpenCV DNN.
	BackendOpenCV Backend = "opencv"
	// BackendRemote posts frames to an HTTP detection service.
	BackendRemote Backend = "remote"
)

// Config describes how to load and run a detection model.
type Config struct {
	// Backend selects the runtime.
	Backend Backend
	// ModelPath is the model weights file (onnx, opencv).
	ModelPath string
	// ConfigPath is the network description for OpenCV models that need one, e.g. a .pbtxt.
	ConfigPath string
	// SharedLibraryPath locates the ONNX Runtime shared library.
	SharedLibraryPath string
	// Endpoint is the base URL of the remote detection service.
	Endpoint string
	// Timeout bounds each remote request.
	Timeout time.Duration
	// Provider configures the ONNX Runtime execution provider.
	Provider providers.Config
	// InputShape defines the model input dimensions (width, height).
	InputShape image.Point
	// ConfidenceThreshold filters detections below this confidence level.
	ConfidenceThreshold float32
	// NMSThreshold controls Non-Maximum Suppression IoU threshold.
	NMSThreshold float32
	// RelevantClasses lists object classes to report (empty = all classes).
	RelevantClasses []string
	// Family decides how class indices map to labels.
	Family models.ModelFamily
}

// DefaultConfig returns a configuration for a 640x640 YOLO export on the CPU.
//
// @example
// config := DefaultConfig()
// config.ModelPath = "path/to/model.onnx"
// loader := NewLoader(config, logger)
func DefaultConfig() Config {
	return Config{
		Backend:             BackendONNX,
		Provider:            providers.DefaultConfig(),
		InputShape:          image.Point{X: 640, Y: 640},
		ConfidenceThreshold: 0.5,
		NMSThreshold:        0.45,
		Timeout:             5 * time.Second,
		Family:              models.ModelFamilyYOLO,
	}
}

// Validate checks that the fields the selected backend needs are present.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold %v out of range [0,1]", c.ConfidenceThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return errors.Errorf("nms threshold %v out of range [0,1]", c.NMSThreshold)
	}

	switch c.Backend {
	case BackendONNX:
		if c.ModelPath == "" {
			return errors.New("onnx backend requires a model path")
		}
		if c.InputShape.X < 32 || c.InputShape.Y < 32 || c.InputShape.X%32 != 0 || c.InputShape.Y%32 != 0 {
			return errors.Errorf("input shape %v must be a positive multiple of 32", c.InputShape)
		}
		return c.Provider.Validate()
	case BackendOpenCV:
		if c.ModelPath == "" {
			return errors.New("opencv backend requires a model path")
		}
		if c.InputShape.X <= 0 || c.InputShape.Y <= 0 {
			return errors.Errorf("invalid input shape %v", c.InputShape)
		}
	case BackendRemote:
		if c.Endpoint == "" {
			return errors.New("remote backend requires an endpoint")
		}
	default:
		return errors.Errorf("unsupported detection backend %q", c.Backend)
	}
	return nil
}

// relevantSet returns the class filter, nil meaning every class is relevant.
func (c Config) relevantSet() map[string]bool {
	if len(c.RelevantClasses) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.RelevantClasses))
	for _, name := range c.RelevantClasses {
		set[name] = true
	}
	return set
}
