package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/common"
	"github.com/nvr-ai/live-detect/config"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/render"
	"github.com/nvr-ai/live-detect/scheduler"
	"github.com/nvr-ai/live-detect/stats"
	"github.com/nvr-ai/live-detect/util"
)

type detectOptions struct {
	paths []string
	out   string
	json  bool
}

type batchResult struct {
	Path       string             `json:"path"`
	Detections []common.Detection `json:"detections"`
	Stats      stats.Summary      `json:"stats"`
}

// collectImages expands directories and keeps explicitly named files.
func collectImages(paths []string) ([]util.ImageFile, error) {
	var files []util.ImageFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot read %s", p)
		}
		if info.IsDir() {
			dir, err := util.LoadDirectoryImageFiles(p)
			if err != nil {
				return nil, err
			}
			files = append(files, dir...)
			continue
		}
		f, err := util.LoadImageFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func detect(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger, opts detectOptions) (err error) {
	if len(opts.paths) == 0 {
		return errors.New("no input paths given")
	}
	files, err := collectImages(opts.paths)
	if err != nil {
		return err
	}
	if opts.out != "" {
		if err := os.MkdirAll(opts.out, 0o755); err != nil {
			return errors.Wrap(err, "failed to create output directory")
		}
	}

	gw := newGateway(cfg, logger)
	defer func() { err = multierr.Append(err, gw.Close()) }()
	if err := gw.Load(ctx); err != nil {
		return err
	}

	renderer, err := render.NewRenderer(render.DefaultOptions())
	if err != nil {
		return err
	}
	surface := render.NewSurface(1, 1)
	sched := scheduler.New(gw, renderer, surface, scheduler.Options{Logger: logger.Named("scheduler")})
	encoder := json.NewEncoder(os.Stdout)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, _, err := images.Decode(f.Data)
		if err != nil {
			logger.Warnw("skipping unreadable image", "path", f.Path, "error", err)
			continue
		}
		size := img.Bounds().Size()
		surface.Resize(size.X, size.Y)

		report, err := sched.RunOnce(ctx, img)
		if err != nil {
			logger.Warnw("detection failed", "path", f.Path, "error", err)
			continue
		}
		summary := stats.Aggregate(report.Detections)
		logger.Infow("image processed",
			"path", f.Path,
			"total", summary.Total,
			"classes", summary.UniqueClasses,
			"avg_confidence", summary.AvgPercent(),
			"latency", report.Latency,
		)

		if opts.out != "" {
			if err := writeAnnotated(surface, opts.out, f.Path); err != nil {
				return err
			}
		}
		if opts.json {
			if err := encoder.Encode(batchResult{Path: f.Path, Detections: report.Detections, Stats: summary}); err != nil {
				return errors.Wrap(err, "failed to write report")
			}
		}
	}
	return nil
}

func writeAnnotated(surface *render.Surface, dir, path string) error {
	snapshot, ok := surface.Snapshot()
	if !ok {
		return nil
	}
	encoded, err := images.EncodePNG(snapshot)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + "_detections" + encoded.Format.Extension()
	return errors.Wrap(os.WriteFile(filepath.Join(dir, name), encoded.Data, 0o644), "failed to write annotated image")
}
