package images

import (
	"image"

	"github.com/nfnt/resize"
)

// Resize resamples img to width x height and returns it as grayscale.
// Images that already have the requested size are only converted.
//
// Arguments:
//   - img: The source image.
//   - width: The width to resize the image to.
//   - height: The height to resize the image to.
//
// Returns:
//   - *image.Gray: The resized image.
func Resize(img image.Image, width, height int) *image.Gray {
	b := img.Bounds()
	if b.Dx() != width || b.Dy() != height {
		img = resize.Resize(uint(width), uint(height), img, resize.Bilinear)
	}
	return Grayscale(img)
}
