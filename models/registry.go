// Package models - registry for models.
package models

import (
	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/models/mnist"
	"github.com/nvr-ai/onnx-mnist/models/model"
)

// NewModel creates a model instance based on the specified model name.
//
// Arguments:
//   - args: Configuration parameters specifying the model type and location.
//
// Returns:
//   - model.Model: A configured model instance implementing the Model interface.
//   - error: ErrArgument when the model name is unsupported.
func NewModel(args model.NewModelArgs) (model.Model, error) {
	switch args.Name {
	case model.ModelNameMNIST, "":
		return mnist.NewModel(args), nil
	default:
		return nil, common.Errorf(common.ErrArgument, "unsupported model: %s", args.Name)
	}
}
