// Package inference - Engine provisioning and single-shot execution.
package inference

import (
	"context"

	"github.com/nvr-ai/onnx-mnist/onnx"
)

// TensorInfo describes a tensor declared by a runnable model.
type TensorInfo struct {
	// Name binds the tensor to a buffer.
	Name string `json:"name" yaml:"name"`
	// Shape holds one entry per dimension; dynamic dims are -1.
	Shape []int64 `json:"shape" yaml:"shape"`
}

// Elements returns the number of elements a buffer for this tensor holds.
// Dynamic dimensions count as 1.
func (t TensorInfo) Elements() int {
	n := 1
	for _, d := range t.Shape {
		if d > 0 {
			n *= int(d)
		}
	}
	return n
}

// ConcreteShape returns the shape with dynamic dimensions resolved to 1.
func (t TensorInfo) ConcreteShape() []int64 {
	out := make([]int64, len(t.Shape))
	for i, d := range t.Shape {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}

// BuildOptions configures an engine build.
type BuildOptions struct {
	FP16 bool
	BF16 bool
	INT8 bool
	// DynamicRanges maps tensor names to a symmetric range. Required for every
	// tensor when INT8 is set.
	DynamicRanges map[string]float32
	// DLACore selects an accelerator core; -1 keeps the default device.
	DLACore int
	// UseTimingCache enables the timing cache. TimingCache seeds it and may be empty.
	UseTimingCache bool
	TimingCache    []byte
}

// Precisions lists the reduced precisions the build enables, FP32 when none.
func (o BuildOptions) Precisions() []Precision {
	var out []Precision
	if o.FP16 {
		out = append(out, PrecisionFP16)
	}
	if o.BF16 {
		out = append(out, PrecisionBF16)
	}
	if o.INT8 {
		out = append(out, PrecisionINT8)
	}
	if len(out) == 0 {
		out = append(out, PrecisionFP32)
	}
	return out
}

// BuildResult is the output of a successful build.
type BuildResult struct {
	// Engine is the serialized engine, accepted by LoadEngine.
	Engine []byte
	// TimingCache is the updated timing cache, nil when the backend has none.
	TimingCache []byte
}

// DeviceHint selects where a loaded engine runs.
type DeviceHint struct {
	// DLACore selects an accelerator core; -1 keeps the default device.
	DLACore int
}

// Backend is the boundary to an inference runtime.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// ParseModel reads and validates an ONNX model.
	ParseModel(ctx context.Context, path string) (*onnx.Graph, error)
	// BuildEngine compiles a parsed model into serialized engine bytes.
	BuildEngine(ctx context.Context, graph *onnx.Graph, opts BuildOptions) (BuildResult, error)
	// LoadEngine deserializes engine bytes into a runnable model.
	LoadEngine(ctx context.Context, engine []byte, hint DeviceHint) (Model, error)
	// Close releases runtime-wide resources.
	Close() error
}

// Model is a runnable engine.
type Model interface {
	Inputs() []TensorInfo
	Outputs() []TensorInfo
	// Allocate creates a device buffer sized for the tensor.
	Allocate(info TensorInfo) (DeviceBuffer, error)
	// Execute runs one synchronous forward pass. Buffers follow the order of
	// Inputs and Outputs.
	Execute(ctx context.Context, inputs, outputs []DeviceBuffer) error
	Close() error
}

// DeviceBuffer is memory visible to the runtime.
type DeviceBuffer interface {
	// Len returns the number of float32 elements.
	Len() int
	CopyFromHost(src []float32) error
	CopyToHost(dst []float32) error
	Close() error
}
