package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDirectoryImageFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame-10.jpg", "frame-2.png", "frame-1.JPEG", "notes.txt", "cover.webp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	files, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 4)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
		assert.Equal(t, filepath.Base(f.Path), string(f.Data))
	}
	assert.Equal(t, []string{"cover.webp", "frame-1.JPEG", "frame-2.png", "frame-10.jpg"}, names)
	assert.Equal(t, -1, files[0].Frame)
	assert.Equal(t, 10, files[3].Frame)
}

func TestLoadDirectoryMissing(t *testing.T) {
	_, err := LoadDirectoryImageFiles(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestIsImagePath(t *testing.T) {
	assert.True(t, IsImagePath("a/b/c.PNG"))
	assert.False(t, IsImagePath("clip.mp4"))
}
