package main

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/config"
	"github.com/nvr-ai/live-detect/server"
)

func serve(ctx context.Context, cfg config.Config, logger *zap.SugaredLogger) (err error) {
	c, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, c.Close()) }()

	srv := server.New(c.studio, c.hub, logger.Named("http"), server.Options{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
	})
	return srv.ListenAndServe(ctx)
}
