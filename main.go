// Command live-detect runs real-time object detection over a camera or
// uploaded images.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/config"
	"github.com/nvr-ai/live-detect/logging"
)

const (
	flagConfig   = "config"
	flagEnvFile  = "env-file"
	flagLogLevel = "log-level"
	flagOut      = "out"
	flagJSON     = "json"
)

type appState struct {
	cfg    config.Config
	logger *zap.SugaredLogger
}

func main() {
	state := &appState{}

	app := &cli.App{
		Name:  "live-detect",
		Usage: "real-time object detection studio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringSliceFlag{
				Name:  flagEnvFile,
				Usage: "load environment variables from `FILE` before reading the configuration",
				Value: cli.NewStringSlice(".env"),
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "override the configured log level",
			},
		},
		Before: func(c *cli.Context) error {
			if err := config.LoadDotEnv(c.StringSlice(flagEnvFile)...); err != nil {
				return err
			}
			cfg, err := config.Load(c.String(flagConfig))
			if err != nil {
				return err
			}
			if lvl := c.String(flagLogLevel); lvl != "" {
				cfg.Log.Level = lvl
			}
			logger, err := logging.New("live-detect", cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			state.cfg, state.logger = cfg, logger
			return nil
		},
		After: func(*cli.Context) error {
			if state.logger != nil {
				_ = state.logger.Sync()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "serve the detection studio over HTTP and WebSocket",
				Action: func(c *cli.Context) error {
					return serve(c.Context, state.cfg, state.logger)
				},
			},
			{
				Name:      "detect",
				Usage:     "run detection once over image files or directories",
				ArgsUsage: "PATH...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagOut,
						Usage: "write annotated images into `DIR`",
					},
					&cli.BoolFlag{
						Name:  flagJSON,
						Usage: "print one JSON report per image to stdout",
					},
				},
				Action: func(c *cli.Context) error {
					return detect(c.Context, state.cfg, state.logger, detectOptions{
						paths: c.Args().Slice(),
						out:   c.String(flagOut),
						json:  c.Bool(flagJSON),
					})
				},
			},
			{
				Name:  "watch",
				Usage: "show the annotated camera stream in a desktop window",
				Action: func(c *cli.Context) error {
					return watch(c.Context, state.cfg, state.logger)
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
