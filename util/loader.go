// Package util - Loading image batches from disk.
package util

import (
	"cmp"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageExtensions are the file extensions LoadDirectoryImageFiles picks up.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp"}

var frameNumber = regexp.MustCompile(`(\d+)$`)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the number at the end of the file name, e.g. 12 for
	// "frame-12.jpg", or -1 when the name carries none.
	Frame int
}

// IsImagePath reports whether path has one of ImageExtensions.
func IsImagePath(path string) bool {
	return slices.Contains(ImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// LoadImageFile reads one image file.
func LoadImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "failed to read %s", path)
	}
	return ImageFile{Path: path, Data: data, Frame: parseFrame(path)}, nil
}

// LoadDirectoryImageFiles reads all image files from a directory, ordered by
// frame number and then by name. Subdirectories are not descended into.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile, each containing the raw bytes of an image file.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() || !IsImagePath(entry.Name()) {
			continue
		}
		f, err := LoadImageFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	slices.SortStableFunc(files, func(a, b ImageFile) int {
		if c := cmp.Compare(a.Frame, b.Frame); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return files, nil
}

func parseFrame(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	m := frameNumber.FindString(name)
	if m == "" {
		return -1
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return -1
	}
	return n
}
