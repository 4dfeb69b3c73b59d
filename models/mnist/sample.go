package mnist

import (
	"fmt"
	"image"
	"math/rand"
	"os"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/images"
	"github.com/nvr-ai/onnx-mnist/util"
)

// Sample is one classification query.
type Sample struct {
	// Label is the expected digit.
	Label int
	// Path is the file the pixels were read from.
	Path string
	// Pixels holds the 28x28 bitmap, row-major.
	Pixels []byte
}

// Image returns the sample as a grayscale bitmap sharing Pixels.
func (s Sample) Image() *image.Gray {
	return &image.Gray{Pix: s.Pixels, Stride: Width, Rect: image.Rect(0, 0, Width, Height)}
}

// SampleFile returns the file name holding the sample for digit.
func SampleFile(digit int) string {
	return fmt.Sprintf("%d.pgm", digit)
}

// PickDigit selects a random digit class.
func PickDigit(rng *rand.Rand) int {
	return rng.Intn(Classes)
}

// LoadSample locates and decodes the sample for digit.
//
// Arguments:
//   - digit: The digit class, 0 through 9.
//   - dirs: Data directories searched in order.
//
// Returns:
//   - Sample: The 28x28 sample labelled with digit.
//   - error: ErrArgument for a bad digit, ErrNotFound when no directory holds
//     the file, ErrIO when it cannot be decoded.
func LoadSample(digit int, dirs []string) (Sample, error) {
	if digit < 0 || digit >= Classes {
		return Sample{}, common.Errorf(common.ErrArgument, "digit %d out of range [0, %d)", digit, Classes)
	}

	path, err := util.LocateFile(SampleFile(digit), dirs)
	if err != nil {
		return Sample{}, err
	}

	img, _, err := images.Load(path, Width, Height)
	if err != nil {
		if os.IsNotExist(err) {
			return Sample{}, common.Wrapf(common.ErrNotFound, err, "load sample")
		}
		return Sample{}, common.Wrapf(common.ErrIO, err, "load sample")
	}

	return Sample{Label: digit, Path: path, Pixels: img.Pix}, nil
}
