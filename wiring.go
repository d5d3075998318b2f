package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/capture"
	"github.com/nvr-ai/live-detect/config"
	"github.com/nvr-ai/live-detect/inference"
	"github.com/nvr-ai/live-detect/inference/detectors"
	"github.com/nvr-ai/live-detect/profiler"
	"github.com/nvr-ai/live-detect/publish"
	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/source"
	"github.com/nvr-ai/live-detect/studio"
)

// components is everything a studio process owns.
type components struct {
	studio   *studio.Studio
	hub      *publish.Hub
	profiler *profiler.RuntimeProfiler
}

func newGateway(cfg config.Config, logger *zap.SugaredLogger) *inference.Gateway {
	return inference.NewGateway(detectors.NewLoader(cfg.Detector(), logger.Named("detector")), logger.Named("gateway"))
}

func newExporter(cfg config.Config) (capture.Exporter, error) {
	switch cfg.Capture.Exporter {
	case config.ExporterFile:
		return capture.FileExporter{Dir: cfg.Capture.ExportDir}, nil
	case config.ExporterS3:
		return capture.NewS3Exporter(cfg.Capture.S3)
	default:
		return nil, nil
	}
}

// newPublisher always includes the hub and adds Kafka when brokers are configured.
func newPublisher(cfg config.Config, hub *publish.Hub) (publish.Publisher, error) {
	publishers := publish.Multi{hub}
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := publish.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.ClientID)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, kafka)
	}
	return publishers, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (*components, error) {
	renderer, err := render.NewRenderer(render.DefaultOptions())
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create capture exporter")
	}

	hub := publish.NewHub(logger.Named("hub"))
	publisher, err := newPublisher(cfg, hub)
	if err != nil {
		return nil, multierr.Append(err, hub.Close())
	}

	var rp *profiler.RuntimeProfiler
	if cfg.Profiler.Enabled {
		opts := cfg.ProfilingOptions()
		opts.Logger = logger.Named("profiler")
		rp = profiler.NewRuntimeProfiler(opts)
	}

	s := studio.New(studio.Deps{
		Gateway:  newGateway(cfg, logger),
		Sources:  source.NewManager(source.OpenGoCV(logger.Named("camera")), nil, logger.Named("source")),
		Renderer: renderer,
		Surface:  render.NewSurface(cfg.Camera.Width, cfg.Camera.Height),
		Captures: capture.NewBuffer(capture.Options{
			Capacity: cfg.Capture.Capacity,
			Stagger:  cfg.Capture.Stagger,
			Exporter: exporter,
			Logger:   logger.Named("capture"),
		}),
		Publisher: publisher,
	}, studio.Options{
		Camera:       cfg.CameraConstraints(),
		TickInterval: cfg.Scheduler.TickInterval,
		Profiler:     rp,
		Logger:       logger.Named("studio"),
	})

	go hub.Run(ctx)
	if rp != nil {
		rp.Start()
	}
	s.Start(ctx)

	return &components{studio: s, hub: hub, profiler: rp}, nil
}

func (c *components) Close() error {
	if c.profiler != nil {
		c.profiler.Stop()
	}
	return c.studio.Close()
}
