package detectors

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/nvr-ai/live-detect/inference/providers"
)

// Session represents a model session from the onnxruntime with its bound tensors.
type Session struct {
	Session *ort.AdvancedSession
	Input   *ort.Tensor[float32]
	Output  *ort.Tensor[float32]
}

var runtimeMu sync.Mutex

// InitializeRuntime loads the ONNX Runtime shared library once per process.
func InitializeRuntime(libPath string) error {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}

	if libPath != "" {
		if _, err := os.Stat(libPath); err != nil {
			return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
		}
		ort.SetSharedLibraryPath(libPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// NewSession creates an ONNX Runtime session with preallocated tensors for a
// YOLO style model taking "images" and producing "output0".
//
// Arguments:
//   - cfg: The detector configuration.
//   - numClasses: The number of classes the model scores.
//
// Returns:
//   - *Session: The session. The caller must Close it.
//   - error: An error if the session creation fails.
func NewSession(cfg Config, numClasses int) (*Session, error) {
	if err := InitializeRuntime(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	w, h := cfg.InputShape.X, cfg.InputShape.Y
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(h), int64(w)))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+numClasses), int64(yoloAnchors(w, h))))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := providers.NewSessionOptions(cfg.Provider)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	return &Session{Session: session, Input: input, Output: output}, nil
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	var err error
	if s.Session != nil {
		err = multierr.Append(err, s.Session.Destroy())
		s.Session = nil
	}
	if s.Input != nil {
		err = multierr.Append(err, s.Input.Destroy())
		s.Input = nil
	}
	if s.Output != nil {
		err = multierr.Append(err, s.Output.Destroy())
		s.Output = nil
	}
	return err
}
