package main

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/live-detect/config"
	"github.com/nvr-ai/live-detect/studio"
)

const watchRefresh = 30 * time.Millisecond

// watch toggles detection on and mirrors the rendered surface into a window
// until it is closed, 'q' or Esc is pressed, or ctx is done.
func watch(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (err error) {
	c, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, c.Close()) }()

	select {
	case <-c.studio.ModelReady():
	case <-ctx.Done():
		return ctx.Err()
	}
	if _, err := c.studio.Toggle(ctx); err != nil {
		return err
	}

	window := gocv.NewWindow("live-detect")
	defer window.Close()

	ticker := time.NewTicker(watchRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if frame, ok := c.studio.Frame(); ok {
			mat, err := gocv.ImageToMatRGB(frame)
			if err != nil {
				logger.Warnw("failed to convert frame", "error", err)
				continue
			}
			window.IMShow(mat)
			_ = mat.Close()
		}

		if key := window.WaitKey(1); key == 'q' || key == 27 {
			return nil
		}
		if !window.IsOpen() {
			return nil
		}
		if st := c.studio.Status(); st.Error != "" && st.Run == studio.RunIdle {
			logger.Warnw("detection stopped", "error", st.Error)
			return nil
		}
	}
}
