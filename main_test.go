package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/live-detect/config"
	"github.com/nvr-ai/live-detect/images"
	"github.com/nvr-ai/live-detect/render"
)

func TestCollectImages(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "frames")
	require.NoError(t, os.Mkdir(sub, 0o755))
	for _, p := range []string{filepath.Join(sub, "frame-2.png"), filepath.Join(sub, "frame-1.png"), filepath.Join(dir, "single.jpg")} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}

	files, err := collectImages([]string{filepath.Join(dir, "single.jpg"), sub})
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "single.jpg", filepath.Base(files[0].Path))
	assert.Equal(t, "frame-1.png", filepath.Base(files[1].Path))

	_, err = collectImages([]string{filepath.Join(dir, "missing.png")})
	assert.Error(t, err)
}

func TestWriteAnnotated(t *testing.T) {
	dir := t.TempDir()
	surface := render.NewSurface(8, 8)
	require.NoError(t, writeAnnotated(surface, dir, "in/cat.jpg"))
	_, err := os.Stat(filepath.Join(dir, "cat_detections.png"))
	assert.True(t, os.IsNotExist(err), "nothing is written before a render")

	surface.Present()
	require.NoError(t, writeAnnotated(surface, dir, "in/cat.jpg"))
	data, err := os.ReadFile(filepath.Join(dir, "cat_detections.png"))
	require.NoError(t, err)

	img, format, err := images.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, images.FormatPNG, format)
	assert.Equal(t, image.Pt(8, 8), img.Bounds().Size())
}

func TestNewExporter(t *testing.T) {
	cfg := config.Default()
	exp, err := newExporter(cfg)
	require.NoError(t, err)
	assert.NotNil(t, exp)

	cfg.Capture.Exporter = config.ExporterNone
	exp, err = newExporter(cfg)
	require.NoError(t, err)
	assert.Nil(t, exp)
}
