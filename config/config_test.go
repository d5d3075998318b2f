package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/live-detect/inference/detectors"
	"github.com/nvr-ai/live-detect/inference/providers"
	"github.com/nvr-ai/live-detect/source"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultsNeedAModel(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10, cfg.Capture.Capacity)
	assert.Equal(t, 100*time.Millisecond, cfg.Capture.Stagger)
	assert.Error(t, cfg.Validate(), "the onnx backend has no model path by default")

	cfg.Model.Path = "yolov8n.onnx"
	assert.NoError(t, cfg.Validate())
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, "config.yaml", `
log:
  level: debug
model:
  backend: remote
  endpoint: http://yaml:8000
  confidence_threshold: 0.4
  relevant_classes: [person, car]
  provider:
    backend: cuda
    device_id: 1
capture:
  stagger: 250ms
  exporter: none
`)
	t.Setenv(EnvPrefix+"MODEL_ENDPOINT", "http://env:9000")
	t.Setenv(EnvPrefix+"CAPTURE_CAPACITY", "5")
	t.Setenv(EnvPrefix+"MODEL_PROVIDER_DEVICE_ID", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "http://env:9000", cfg.Model.Endpoint)
	assert.InDelta(t, 0.4, cfg.Model.ConfidenceThreshold, 1e-6)
	assert.Equal(t, []string{"person", "car"}, cfg.Model.RelevantClasses)
	assert.Equal(t, providers.CUDABackend, cfg.Model.Provider.Backend)
	assert.Equal(t, 2, cfg.Model.Provider.DeviceID)
	assert.Equal(t, 250*time.Millisecond, cfg.Capture.Stagger)
	assert.Equal(t, 5, cfg.Capture.Capacity)
	assert.Equal(t, float32(0.45), cfg.Model.NMSThreshold, "defaults survive")

	det := cfg.Detector()
	assert.Equal(t, detectors.BackendRemote, det.Backend)
	assert.Equal(t, "http://env:9000", det.Endpoint)
	assert.Equal(t, 640, det.InputShape.X)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "model: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Model.Path = "model.onnx"
		return c
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown exporter", func(c *Config) { c.Capture.Exporter = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Capture.Exporter = ExporterS3 }},
		{"zero capacity", func(c *Config) { c.Capture.Capacity = 0 }},
		{"bad facing mode", func(c *Config) { c.Camera.FacingMode = "sideways" }},
		{"unknown family", func(c *Config) { c.Model.Family = "detr" }},
		{"threshold out of range", func(c *Config) { c.Model.ConfidenceThreshold = 2 }},
		{"zero tick", func(c *Config) { c.Scheduler.TickInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCameraConstraints(t *testing.T) {
	c := Default()
	c.Camera.FacingMode = source.FacingEnvironment
	c.Camera.RearDeviceID = 2
	assert.Equal(t, 2, c.CameraConstraints().ResolveDevice())
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "LIVE_DETECT_TEST_DOTENV=loaded\n")
	t.Setenv("LIVE_DETECT_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("LIVE_DETECT_TEST_DOTENV"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "loaded", os.Getenv("LIVE_DETECT_TEST_DOTENV"))
}
