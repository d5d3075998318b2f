package images

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	// Register decoders for uploads beyond the ones imaging pulls in.
	_ "github.com/chai2010/webp"
	_ "golang.org/x/image/bmp"
)

var (
	// ErrEmptyImage is returned when there are no bytes to decode.
	ErrEmptyImage = errors.New("empty image data")
	// ErrUnsupportedFormat is returned when the bytes are not a known image format.
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrDecode is returned when bytes of a known format cannot be decoded.
	ErrDecode = errors.New("failed to decode image")
)

// Decode decodes an image buffer, honouring EXIF orientation.
//
// Arguments:
//   - data: The encoded image bytes (jpeg, png, gif, webp or bmp).
//
// Returns:
//   - image.Image: The decoded image.
//   - ImageFormat: The detected format.
//   - error: ErrEmptyImage, ErrUnsupportedFormat or ErrDecode.
func Decode(data []byte) (image.Image, ImageFormat, error) {
	if len(data) == 0 {
		return nil, "", ErrEmptyImage
	}

	_, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", ErrUnsupportedFormat
		}
		return nil, "", errors.Wrapf(ErrDecode, "invalid header: %v", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", errors.Wrapf(ErrDecode, "%s: %v", name, err)
	}

	return img, ImageFormat(name), nil
}

// EncodePNG encodes an image as PNG.
func EncodePNG(img image.Image) (Image, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, errors.Wrap(err, "failed to encode png")
	}
	b := img.Bounds()
	return Image{Format: FormatPNG, Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// EncodeJPEG encodes an image as JPEG with the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) (Image, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Image{}, errors.Wrap(err, "failed to encode jpeg")
	}
	b := img.Bounds()
	return Image{Format: FormatJPEG, Data: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}
