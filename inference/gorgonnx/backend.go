// Package gorgonnx - A pure Go inference backend on onnx-go and gorgonia.
package gorgonnx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/nvr-ai/onnx-mnist/onnx"
	"github.com/nvr-ai/onnx-mnist/util"
	onnxgo "github.com/owulveryck/onnx-go"
	"github.com/owulveryck/onnx-go/backend/x/gorgonnx"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Backend interprets ONNX graphs with gorgonia. There is no compilation
// step: the engine is the ONNX model and only FP32 on the CPU is supported.
type Backend struct {
	logger *slog.Logger
}

// NewBackend creates the backend.
func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{logger: logger}
}

// Name returns "gorgonnx".
func (b *Backend) Name() string { return "gorgonnx" }

// ParseModel reads and parses the model.
func (b *Backend) ParseModel(_ context.Context, path string) (*onnx.Graph, error) {
	data, err := util.ReadFile(path)
	if err != nil {
		return nil, err
	}
	graph, err := onnx.Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return graph, nil
}

// BuildEngine checks that gorgonia can construct the graph and returns the
// model bytes as the engine.
func (b *Backend) BuildEngine(_ context.Context, graph *onnx.Graph, opts inference.BuildOptions) (inference.BuildResult, error) {
	if opts.FP16 || opts.BF16 || opts.INT8 {
		return inference.BuildResult{}, common.Errorf(common.ErrBuild, "gorgonnx only runs FP32, got %v", opts.Precisions())
	}
	if opts.DLACore >= 0 {
		return inference.BuildResult{}, common.Errorf(common.ErrBuild, "gorgonnx cannot use DLA core %d", opts.DLACore)
	}
	if opts.UseTimingCache {
		b.logger.Warn("timing cache is not supported by gorgonnx")
	}
	if _, _, err := decode(graph.Data); err != nil {
		return inference.BuildResult{}, err
	}
	return inference.BuildResult{Engine: graph.Data}, nil
}

// LoadEngine decodes the model into a fresh gorgonia graph.
func (b *Backend) LoadEngine(_ context.Context, engine []byte, hint inference.DeviceHint) (inference.Model, error) {
	if hint.DLACore >= 0 {
		return nil, common.Errorf(common.ErrDeserialization, "gorgonnx cannot use DLA core %d", hint.DLACore)
	}
	graph, err := onnx.Parse(engine)
	if err != nil {
		return nil, errors.Wrap(err, "not an ONNX model")
	}
	exec, model, err := decode(engine)
	if err != nil {
		return nil, err
	}

	m := &Model{exec: exec, model: model}
	for _, v := range graph.Inputs {
		m.inputs = append(m.inputs, inference.TensorInfo{Name: v.Name, Shape: v.Shape})
	}
	for _, v := range graph.Outputs {
		m.outputs = append(m.outputs, inference.TensorInfo{Name: v.Name, Shape: v.Shape})
	}
	return m, nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }

// decode builds the gorgonia expression graph. Operators are resolved while
// the graph is populated, so an unsupported model fails here rather than on
// the first run. onnx-go panics on some malformed graphs; panics are returned
// as errors.
func decode(data []byte) (exec *gorgonnx.Graph, model *onnxgo.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			exec, model, err = nil, nil, errors.Errorf("gorgonnx: %v", r)
		}
	}()
	exec = gorgonnx.NewGraph()
	model = onnxgo.NewModel(exec)
	if err := model.UnmarshalBinary(data); err != nil {
		return nil, nil, errors.Wrap(err, "decode model")
	}
	if err := exec.PopulateExprgraph(); err != nil {
		return nil, nil, errors.Wrap(err, "build expression graph")
	}
	return exec, model, nil
}

// Model is a decoded gorgonia graph.
type Model struct {
	exec    *gorgonnx.Graph
	model   *onnxgo.Model
	inputs  []inference.TensorInfo
	outputs []inference.TensorInfo
}

func (m *Model) Inputs() []inference.TensorInfo  { return m.inputs }
func (m *Model) Outputs() []inference.TensorInfo { return m.outputs }

// Allocate returns a host buffer; gorgonia computes on the CPU.
func (m *Model) Allocate(info inference.TensorInfo) (inference.DeviceBuffer, error) {
	return &Buffer{shape: info.ConcreteShape(), data: make([]float32, info.Elements())}, nil
}

// Execute binds the inputs, runs the graph and copies the outputs back.
func (m *Model) Execute(_ context.Context, inputs, outputs []inference.DeviceBuffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("gorgonnx: %v", r)
		}
	}()

	for i, in := range inputs {
		buf, ok := in.(*Buffer)
		if !ok {
			return errors.Errorf("input %d is a %T, not a gorgonnx buffer", i, in)
		}
		t := tensor.New(tensor.WithShape(dims(buf.shape)...), tensor.WithBacking(append([]float32(nil), buf.data...)))
		if err := m.model.SetInput(i, t); err != nil {
			return errors.Wrapf(err, "set input %d", i)
		}
	}
	if err := m.exec.Run(); err != nil {
		return errors.Wrap(err, "run graph")
	}

	results, err := m.model.GetOutputTensors()
	if err != nil {
		return errors.Wrap(err, "read outputs")
	}
	if len(results) < len(outputs) {
		return errors.Errorf("graph produced %d outputs, want %d", len(results), len(outputs))
	}
	for i, out := range outputs {
		buf, ok := out.(*Buffer)
		if !ok {
			return errors.Errorf("output %d is a %T, not a gorgonnx buffer", i, out)
		}
		data, ok := results[i].Data().([]float32)
		if !ok {
			return errors.Errorf("output %d holds %T, want []float32", i, results[i].Data())
		}
		if len(data) != len(buf.data) {
			return errors.Errorf("output %d has %d elements, want %d", i, len(data), len(buf.data))
		}
		copy(buf.data, data)
	}
	return nil
}

// Close drops the graph.
func (m *Model) Close() error {
	m.exec, m.model = nil, nil
	return nil
}

// Buffer is host memory with the tensor shape it was allocated for.
type Buffer struct {
	shape []int64
	data  []float32
}

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) CopyFromHost(src []float32) error {
	if len(src) != len(b.data) {
		return fmt.Errorf("copy of %d elements into buffer of %d", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *Buffer) CopyToHost(dst []float32) error {
	if len(dst) != len(b.data) {
		return fmt.Errorf("copy of %d elements into host slice of %d", len(b.data), len(dst))
	}
	copy(dst, b.data)
	return nil
}

func (b *Buffer) Close() error { return nil }

func dims(shape []int64) []int {
	out := make([]int, len(shape))
	for i, d := range shape {
		out[i] = int(d)
	}
	return out
}
