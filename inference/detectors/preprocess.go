package detectors

import (
	"image"

	"github.com/pkg/errors"

	"github.com/nvr-ai/live-detect/images"
)

// PrepareInput resizes img to width x height and writes it into dst as planar
// RGB (CHW) normalised to [0,1].
//
// Arguments:
//   - img: The image to prepare.
//   - dst: The destination tensor data, at least 3*width*height long.
//   - width: The model input width.
//   - height: The model input height.
//
// Returns:
//   - error: An error if dst is too small.
func PrepareInput(img image.Image, dst []float32, width, height int) error {
	channelSize := width * height
	if len(dst) < channelSize*3 {
		return errors.Errorf("destination tensor only holds %d floats, needs %d", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	rgba := images.ToRGBA(images.Resize(img, width, height))

	i := 0
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < width; x++ {
			px := row[x*4:]
			red[i] = float32(px[0]) / 255.0
			green[i] = float32(px[1]) / 255.0
			blue[i] = float32(px[2]) / 255.0
			i++
		}
	}
	return nil
}
