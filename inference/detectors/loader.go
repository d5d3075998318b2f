package detectors

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/live-detect/inference"
)

// NewLoader returns an inference.Loader that builds the configured backend.
func NewLoader(cfg Config, logger *zap.SugaredLogger) inference.Loader {
	return func(ctx context.Context) (inference.Model, error) {
		logger.Infow("initialising detection backend",
			"backend", cfg.Backend,
			"model", cfg.ModelPath,
			"endpoint", cfg.Endpoint,
			"input", cfg.InputShape,
		)

		var (
			model inference.Model
			err   error
		)
		switch cfg.Backend {
		case BackendONNX:
			model, err = asModel(NewONNXDetector(cfg))
		case BackendOpenCV:
			model, err = asModel(NewOpenCVDetector(cfg))
		case BackendRemote:
			model, err = asModel(NewRemoteDetector(ctx, cfg, nil))
		default:
			err = errors.Errorf("unsupported detection backend %q", cfg.Backend)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s backend", cfg.Backend)
		}
		return model, nil
	}
}

// asModel keeps a typed nil detector from becoming a non-nil interface.
func asModel[T inference.Model](m T, err error) (inference.Model, error) {
	if err != nil {
		return nil, err
	}
	return m, nil
}
