// Package providers - ONNX Runtime execution provider selection.
package providers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend represents different ONNX Runtime execution providers
type Backend string

const (
	// CPUBackend uses the default CPU provider.
	CPUBackend Backend = "cpu"
	// CoreMLBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLBackend Backend = "coreml"
	// CUDABackend uses NVIDIA CUDA for GPU acceleration.
	CUDABackend Backend = "cuda"
	// OpenVINOBackend uses Intel OpenVINO for inference optimization.
	OpenVINOBackend Backend = "openvino"
)

// Config selects and tunes the execution provider of an inference session.
type Config struct {
	// Backend is the execution provider to append to the session.
	Backend Backend `yaml:"backend" env:"BACKEND"`
	// DeviceID selects the accelerator for CUDA.
	DeviceID int `yaml:"device_id" env:"DEVICE_ID"`
	// DeviceType is the OpenVINO device type, e.g. CPU, GPU or NPU.
	DeviceType string `yaml:"device_type" env:"DEVICE_TYPE"`
	// IntraOpThreads parallelises work inside graph nodes. 0 uses the runtime default.
	IntraOpThreads int `yaml:"intra_op_threads" env:"INTRA_OP_THREADS"`
	// InterOpThreads parallelises independent graph nodes. 0 uses the runtime default.
	InterOpThreads int `yaml:"inter_op_threads" env:"INTER_OP_THREADS"`
}

// DefaultConfig returns a CPU configuration with runtime-chosen thread counts.
func DefaultConfig() Config {
	return Config{
		Backend:    CPUBackend,
		DeviceType: "CPU",
	}
}

// ParseBackend parses a backend name, case-insensitively. An empty name selects the CPU.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case "":
		return CPUBackend, nil
	case CPUBackend, CoreMLBackend, CUDABackend, OpenVINOBackend:
		return b, nil
	default:
		return "", errors.Errorf("unsupported execution provider %q", name)
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return errors.New("thread counts must not be negative")
	}
	if c.DeviceID < 0 {
		return errors.New("device_id must not be negative")
	}
	return nil
}

// openVINOOptions maps the config onto OpenVINO provider keys.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
func (c Config) openVINOOptions() map[string]string {
	opts := map[string]string{
		"device_type": c.DeviceType,
	}
	if c.IntraOpThreads > 0 {
		opts["num_of_threads"] = fmt.Sprintf("%d", c.IntraOpThreads)
	}
	return opts
}

// NewSessionOptions builds session options for the configured provider.
// The caller owns the returned options and must Destroy them.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Options with threading, graph optimisation and the provider applied.
//   - error: An error if the runtime rejects any option.
func NewSessionOptions(cfg Config) (*ort.SessionOptions, error) {
	backend, err := ParseBackend(string(cfg.Backend))
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating ORT session options")
	}

	if err := configure(options, cfg, backend); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configure(options *ort.SessionOptions, cfg Config, backend Backend) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "error setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "error setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "error setting graph optimization level")
	}

	switch backend {
	case CPUBackend:
	case CoreMLBackend:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case OpenVINOBackend:
		if err := options.AppendExecutionProviderOpenVINO(cfg.openVINOOptions()); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case CUDABackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": fmt.Sprintf("%d", cfg.DeviceID)}); err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	}
	return nil
}
