package capture

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Exporter writes a capture somewhere outside the process.
type Exporter interface {
	Export(ctx context.Context, c CapturedImage) error
}

// ExporterFunc adapts a function to the Exporter interface.
type ExporterFunc func(ctx context.Context, c CapturedImage) error

// Export calls f.
func (f ExporterFunc) Export(ctx context.Context, c CapturedImage) error {
	return f(ctx, c)
}

// FileExporter writes captures into a directory.
type FileExporter struct {
	Dir string
}

// Export writes the capture as Dir/FileName().
func (e FileExporter) Export(ctx context.Context, c CapturedImage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(e.Dir, 0o755); err != nil {
		return errors.Wrap(err, "create export directory")
	}
	if err := os.WriteFile(filepath.Join(e.Dir, c.FileName()), c.Image.Data, 0o644); err != nil {
		return errors.Wrap(err, "write capture")
	}
	return nil
}
