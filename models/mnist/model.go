// Package mnist - The MNIST handwritten digit classifier.
package mnist

import (
	"image"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/models/model"
	"github.com/nvr-ai/onnx-mnist/models/postprocess"
)

const (
	// InputName is the input tensor of the reference mnist.onnx.
	InputName = "Input3"
	// OutputName is the output tensor of the reference mnist.onnx.
	OutputName = "Plus214_Output_0"
	// Width of an input sample in pixels.
	Width = 28
	// Height of an input sample in pixels.
	Height = 28
	// Pixels is the element count of one input sample.
	Pixels = Width * Height
	// Classes is the number of digit classes.
	Classes = 10
)

// Model is the MNIST classifier: one 1x1x28x28 input, one 1x10 output.
type Model struct {
	path string
}

// NewModel creates the MNIST model description.
func NewModel(args model.NewModelArgs) *Model {
	return &Model{path: args.Path}
}

// Options returns the model's static description.
func (m *Model) Options() model.BaseModel {
	return model.BaseModel{
		Name:    model.ModelNameMNIST,
		Path:    m.path,
		Classes: Classes,
		Inputs:  []model.Tensor{{Name: InputName, Shape: []int64{1, 1, Height, Width}}},
		Outputs: []model.Tensor{{Name: OutputName, Shape: []int64{1, Classes}}},
	}
}

// PreProcess converts a 28x28 bitmap into the network input.
//
// Arguments:
//   - img: The grayscale sample.
//
// Returns:
//   - []float32: Row-major pixels, inverted and scaled to [0, 1].
//   - error: ErrShape when the bitmap is not 28x28.
func (m *Model) PreProcess(img *image.Gray) ([]float32, error) {
	b := img.Bounds()
	if b.Dx() != Width || b.Dy() != Height {
		return nil, common.Errorf(common.ErrShape, "sample is %dx%d, want %dx%d", b.Dx(), b.Dy(), Width, Height)
	}

	pix := make([]byte, 0, Pixels)
	for y := 0; y < Height; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		pix = append(pix, img.Pix[off:off+Width]...)
	}
	return Normalize(pix), nil
}

// PostProcess verifies the raw scores against the expected label.
func (m *Model) PostProcess(output []float32, expected int) (postprocess.Result, error) {
	if len(output) != Classes {
		return postprocess.Result{}, common.Errorf(common.ErrShape, "output has %d scores, want %d", len(output), Classes)
	}
	return postprocess.Verify(output, expected), nil
}

// Normalize maps 8-bit pixels to 1 - px/255 so that dark ink on a light
// background becomes high activation.
func Normalize(pix []byte) []float32 {
	out := make([]float32, len(pix))
	for i, v := range pix {
		out[i] = 1.0 - float32(v)/255.0
	}
	return out
}
