// Package model - Definitions shared by the classifier models.
package model

import (
	"image"

	"github.com/nvr-ai/onnx-mnist/models/postprocess"
)

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameMNIST is the name of the MNIST digit classifier.
	ModelNameMNIST Name = "mnist"
)

// Tensor describes a named model input or output.
type Tensor struct {
	Name  string  `json:"name" yaml:"name"`
	Shape []int64 `json:"shape" yaml:"shape"`
}

// BaseModel is the base model for all models.
type BaseModel struct {
	Name    Name
	Path    string
	Classes int
	Inputs  []Tensor
	Outputs []Tensor
}

// Model is a classifier with its own pre and post processing.
type Model interface {
	Options() BaseModel
	PreProcess(img *image.Gray) ([]float32, error)
	PostProcess(output []float32, expected int) (postprocess.Result, error)
}

// NewModelArgs is the arguments for creating a new model.
type NewModelArgs struct {
	Name Name   `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}
