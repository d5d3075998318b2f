package images

import (
	"image"
	"image/draw"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	xdraw "golang.org/x/image/draw"
)

// Resize resizes an image to exactly width x height using bilinear interpolation.
//
// Arguments:
//   - img: The source image.
//   - width: The target width.
//   - height: The target height.
//
// Returns:
//   - image.Image: The resized image, or the source when it already has the target size.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return resize.Resize(uint(width), uint(height), img, resize.Bilinear)
}

// ResizeImageToImage decodes an encoded image and resizes it, suitable for model input.
func ResizeImageToImage(data []byte, width, height int) (image.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid dimensions: width=%d, height=%d", width, height)
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Resize(img, width, height), nil
}

// ScaleInto draws src stretched over the whole of dst.
func ScaleInto(dst draw.Image, src image.Image) {
	if dst.Bounds().Size() == src.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return
	}
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
}

// ToRGBA returns img as an *image.RGBA with origin (0,0), copying when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba
}
