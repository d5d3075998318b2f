// Package inference - Detection model gateway and the model contract it drives.
package inference

import (
	"context"
	"image"

	"github.com/nvr-ai/live-detect/common"
)

// Model is a loaded object-detection model.
type Model interface {
	// Detect runs the model on one frame. Boxes are in the frame's pixel space.
	Detect(ctx context.Context, frame image.Image) ([]common.Detection, error)
	// Close releases the resources held by the model.
	Close() error
}

// Loader fetches and initialises a model. It is called at most once per Gateway.
type Loader func(ctx context.Context) (Model, error)

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, frame image.Image) ([]common.Detection, error)

// Detect calls f.
func (f ModelFunc) Detect(ctx context.Context, frame image.Image) ([]common.Detection, error) {
	return f(ctx, frame)
}

// Close is a no-op.
func (f ModelFunc) Close() error { return nil }

// ModelState is the lifecycle state of a Gateway's model.
type ModelState int

const (
	// StateUnloaded means loading has not started.
	StateUnloaded ModelState = iota
	// StateLoading means the loader is running.
	StateLoading
	// StateReady means the model can serve Detect calls.
	StateReady
	// StateFailed means loading failed. It is terminal.
	StateFailed
)

func (s ModelState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s ModelState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
