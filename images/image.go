// Package images - Grayscale bitmaps fed to the classifier.
package images

import (
	"image"
	"image/color"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"os"

	"github.com/pkg/errors"
)

// MaxPixels bounds the size of a decoded sample.
const MaxPixels = 4096 * 4096

// ImageFormat represents supported sample file formats.
type ImageFormat string

// ImageFormat constants.
const (
	// FormatPGM is the binary portable graymap format.
	FormatPGM ImageFormat = "pgm"
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
)

// Load decodes the image at path and returns it as a width x height
// grayscale bitmap. Images of another size are resampled.
//
// Arguments:
//   - path: Image file (PGM, PNG or JPEG).
//   - width: Target width in pixels.
//   - height: Target height in pixels.
//
// Returns:
//   - *image.Gray: The bitmap, origin at (0, 0).
//   - ImageFormat: The decoded format.
//   - error: The open or decode error, or an error when the header declares
//     more than MaxPixels pixels.
func Load(path string, width, height int) (*image.Gray, ImageFormat, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, "", errors.Wrapf(err, "decode %s", path)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxPixels/cfg.Height {
		return nil, "", errors.Errorf("decode %s: %dx%d exceeds %d pixels", path, cfg.Width, cfg.Height, MaxPixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, "", errors.Wrapf(err, "rewind %s", path)
	}

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", errors.Wrapf(err, "decode %s", path)
	}

	return Resize(img, width, height), ImageFormat(format), nil
}

// Grayscale converts img to an 8-bit grayscale bitmap using the ITU-R BT.709
// luma coefficients. A *image.Gray with its origin at (0, 0) is returned as is.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}

	bounds := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	const (
		redWeight   = 0.2126
		greenWeight = 0.7152
		blueWeight  = 0.0722
	)

	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// RGBA() is 16-bit per channel.
			luma := float64(r)*redWeight + float64(g)*greenWeight + float64(b)*blueWeight
			dst.SetGray(x, y, color.Gray{Y: uint8(uint32(luma+0.5) >> 8)})
		}
	}
	return dst
}
