// Package config - Application configuration: defaults, overlaid by a YAML
// file, overlaid by environment variables.
package config

import (
	"image"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/live-detect/capture"
	"github.com/nvr-ai/live-detect/inference/detectors"
	"github.com/nvr-ai/live-detect/inference/providers"
	"github.com/nvr-ai/live-detect/models"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/source"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "LIVE_DETECT_"

// Exporter names where exported captures go.
const (
	ExporterFile = "file"
	ExporterS3   = "s3"
	ExporterNone = "none"
)

// Config is the complete application configuration.
type Config struct {
	Log struct {
		Level       string `yaml:"level" env:"LOG_LEVEL"`
		Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
	} `yaml:"log"`

	Server struct {
		Addr              string        `yaml:"addr" env:"SERVER_ADDR"`
		ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"SERVER_READ_HEADER_TIMEOUT"`
		MaxUploadBytes    int64         `yaml:"max_upload_bytes" env:"SERVER_MAX_UPLOAD_BYTES"`
	} `yaml:"server"`

	Model struct {
		Backend             string           `yaml:"backend" env:"MODEL_BACKEND"`
		Path                string           `yaml:"path" env:"MODEL_PATH"`
		ConfigPath          string           `yaml:"config_path" env:"MODEL_CONFIG_PATH"`
		SharedLibraryPath   string           `yaml:"shared_library_path" env:"MODEL_SHARED_LIBRARY_PATH"`
		Endpoint            string           `yaml:"endpoint" env:"MODEL_ENDPOINT"`
		Timeout             time.Duration    `yaml:"timeout" env:"MODEL_TIMEOUT"`
		InputWidth          int              `yaml:"input_width" env:"MODEL_INPUT_WIDTH"`
		InputHeight         int              `yaml:"input_height" env:"MODEL_INPUT_HEIGHT"`
		ConfidenceThreshold float32          `yaml:"confidence_threshold" env:"MODEL_CONFIDENCE_THRESHOLD"`
		NMSThreshold        float32          `yaml:"nms_threshold" env:"MODEL_NMS_THRESHOLD"`
		RelevantClasses     []string         `yaml:"relevant_classes" env:"MODEL_RELEVANT_CLASSES" envSeparator:","`
		Family              string           `yaml:"family" env:"MODEL_FAMILY"`
		Provider            providers.Config `yaml:"provider" envPrefix:"MODEL_PROVIDER_"`
	} `yaml:"model"`

	Camera struct {
		DeviceID     int    `yaml:"device_id" env:"CAMERA_DEVICE_ID"`
		RearDeviceID int    `yaml:"rear_device_id" env:"CAMERA_REAR_DEVICE_ID"`
		Width        int    `yaml:"width" env:"CAMERA_WIDTH"`
		Height       int    `yaml:"height" env:"CAMERA_HEIGHT"`
		FacingMode   string `yaml:"facing_mode" env:"CAMERA_FACING_MODE"`
	} `yaml:"camera"`

	Scheduler struct {
		TickInterval time.Duration `yaml:"tick_interval" env:"SCHEDULER_TICK_INTERVAL"`
	} `yaml:"scheduler"`

	Capture struct {
		Capacity  int              `yaml:"capacity" env:"CAPTURE_CAPACITY"`
		Stagger   time.Duration    `yaml:"stagger" env:"CAPTURE_STAGGER"`
		Exporter  string           `yaml:"exporter" env:"CAPTURE_EXPORTER"`
		ExportDir string           `yaml:"export_dir" env:"CAPTURE_EXPORT_DIR"`
		S3        capture.S3Config `yaml:"s3" envPrefix:"CAPTURE_S3_"`
	} `yaml:"capture"`

	Kafka struct {
		Brokers  []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
		Topic    string   `yaml:"topic" env:"KAFKA_TOPIC"`
		ClientID string   `yaml:"client_id" env:"KAFKA_CLIENT_ID"`
	} `yaml:"kafka"`

	Profiler struct {
		Enabled        bool          `yaml:"enabled" env:"PROFILER_ENABLED"`
		ReportInterval time.Duration `yaml:"report_interval" env:"PROFILER_REPORT_INTERVAL"`
		SampleInterval time.Duration `yaml:"sample_interval" env:"PROFILER_SAMPLE_INTERVAL"`
		MaxSamples     int           `yaml:"max_samples" env:"PROFILER_MAX_SAMPLES"`
	} `yaml:"profiler"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	var c Config

	c.Log.Level = "info"

	c.Server.Addr = ":8080"
	c.Server.ReadHeaderTimeout = 10 * time.Second
	c.Server.MaxUploadBytes = 32 << 20

	d := detectors.DefaultConfig()
	c.Model.Backend = string(d.Backend)
	c.Model.Timeout = d.Timeout
	c.Model.InputWidth, c.Model.InputHeight = d.InputShape.X, d.InputShape.Y
	c.Model.ConfidenceThreshold = d.ConfidenceThreshold
	c.Model.NMSThreshold = d.NMSThreshold
	c.Model.Family = string(d.Family)
	c.Model.Provider = d.Provider

	cam := source.DefaultConstraints()
	c.Camera.DeviceID = cam.DeviceID
	c.Camera.RearDeviceID = cam.RearDeviceID
	c.Camera.Width, c.Camera.Height = cam.Width, cam.Height
	c.Camera.FacingMode = cam.FacingMode

	c.Scheduler.TickInterval = time.Second / 60

	c.Capture.Capacity = capture.DefaultCapacity
	c.Capture.Stagger = capture.DefaultStagger
	c.Capture.Exporter = ExporterFile
	c.Capture.ExportDir = "captures"

	c.Kafka.Topic = "live-detect.events"
	c.Kafka.ClientID = "live-detect"

	c.Profiler.ReportInterval = 10 * time.Second
	c.Profiler.SampleInterval = time.Second

	return c
}

// LoadDotEnv loads variables from .env files into the process environment
// without overriding variables already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "failed to load %s", f)
		}
	}
	return nil
}

// Load builds the configuration from the defaults, the YAML file at path (if
// not empty) and LIVE_DETECT_* environment variables, in that order of
// precedence, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse %s", path)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse environment")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the application cannot run with.
func (c Config) Validate() error {
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Scheduler.TickInterval <= 0 {
		return errors.New("scheduler.tick_interval must be positive")
	}
	if c.Capture.Capacity <= 0 {
		return errors.New("capture.capacity must be positive")
	}
	switch c.Capture.Exporter {
	case ExporterFile:
		if c.Capture.ExportDir == "" {
			return errors.New("capture.export_dir is required by the file exporter")
		}
	case ExporterS3:
		if c.Capture.S3.Endpoint == "" || c.Capture.S3.Bucket == "" {
			return errors.New("capture.s3 endpoint and bucket are required by the s3 exporter")
		}
	case ExporterNone:
	default:
		return errors.Errorf("unknown capture exporter %q", c.Capture.Exporter)
	}
	if c.Camera.FacingMode != source.FacingUser && c.Camera.FacingMode != source.FacingEnvironment {
		return errors.Errorf("camera.facing_mode must be %q or %q", source.FacingUser, source.FacingEnvironment)
	}
	if _, err := models.ClassSet(models.ModelFamily(c.Model.Family)); err != nil {
		return errors.Wrap(err, "invalid model.family")
	}
	return errors.Wrap(c.Detector().Validate(), "invalid model config")
}

// Detector maps the model section onto a detector backend config.
func (c Config) Detector() detectors.Config {
	return detectors.Config{
		Backend:             detectors.Backend(c.Model.Backend),
		ModelPath:           c.Model.Path,
		ConfigPath:          c.Model.ConfigPath,
		SharedLibraryPath:   c.Model.SharedLibraryPath,
		Endpoint:            c.Model.Endpoint,
		Timeout:             c.Model.Timeout,
		Provider:            c.Model.Provider,
		InputShape:          image.Pt(c.Model.InputWidth, c.Model.InputHeight),
		ConfidenceThreshold: c.Model.ConfidenceThreshold,
		NMSThreshold:        c.Model.NMSThreshold,
		RelevantClasses:     c.Model.RelevantClasses,
		Family:              models.ModelFamily(c.Model.Family),
	}
}

// CameraConstraints maps the camera section onto source constraints.
func (c Config) CameraConstraints() source.Constraints {
	return source.Constraints{
		DeviceID:     c.Camera.DeviceID,
		RearDeviceID: c.Camera.RearDeviceID,
		Width:        c.Camera.Width,
		Height:       c.Camera.Height,
		FacingMode:   c.Camera.FacingMode,
	}
}

// ProfilingOptions maps the profiler section onto profiler options.
func (c Config) ProfilingOptions() profiler.ProfilingOptions {
	return profiler.ProfilingOptions{
		ReportInterval: c.Profiler.ReportInterval,
		SampleInterval: c.Profiler.SampleInterval,
		MaxSamples:     c.Profiler.MaxSamples,
	}
}
