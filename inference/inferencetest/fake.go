// Package inferencetest provides an in-memory inference backend and MNIST
// fixtures for tests.
package inferencetest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/nvr-ai/onnx-mnist/onnx"
	"github.com/pkg/errors"
)

// engineMagic prefixes every engine the fake backend builds.
var engineMagic = []byte("FAKEENGINE\x00")

// MNISTGraph describes the reference classifier: Input3 [1,1,28,28] to
// Plus214_Output_0 [1,10].
func MNISTGraph() *onnx.Graph {
	return &onnx.Graph{
		Name:      "CNTKGraph",
		Producer:  "CNTK",
		IRVersion: 3,
		Opset:     8,
		Inputs: []onnx.ValueInfo{
			{Name: "Input3", ElemType: onnx.ElemTypeFloat, Shape: []int64{1, 1, 28, 28}},
		},
		Outputs: []onnx.ValueInfo{
			{Name: "Plus214_Output_0", ElemType: onnx.ElemTypeFloat, Shape: []int64{1, 10}},
		},
		Nodes: []onnx.Node{
			{Name: "Convolution28", OpType: "Conv", Inputs: []string{"Input3", "Parameter5"}, Outputs: []string{"Convolution28_Output_0"}},
			{Name: "ReLU32", OpType: "Relu", Inputs: []string{"Convolution28_Output_0"}, Outputs: []string{"ReLU32_Output_0"}},
			{Name: "Times212", OpType: "MatMul", Inputs: []string{"ReLU32_Output_0", "Parameter193"}, Outputs: []string{"Times212_Output_0"}},
			{Name: "Plus214", OpType: "Add", Inputs: []string{"Times212_Output_0", "Parameter194"}, Outputs: []string{"Plus214_Output_0"}},
		},
		Initializers: []string{"Parameter5", "Parameter193", "Parameter194"},
	}
}

// LinearGraph is a runnable MNIST-shaped model: Input3 [1,1,28,28] is
// flattened, multiplied by a [784,10] matrix that copies pixel c to class c,
// and offset by a bias of 0.1*c. Plus214_Output_0[c] is therefore
// input[c] + 0.1*c.
func LinearGraph() *onnx.Graph {
	weights := make([]float32, 784*10)
	for c := 0; c < 10; c++ {
		weights[c*10+c] = 1
	}
	bias := make([]float32, 10)
	for c := range bias {
		bias[c] = 0.1 * float32(c)
	}
	return &onnx.Graph{
		Name:      "linear",
		Producer:  "onnx-mnist",
		IRVersion: 3,
		Opset:     8,
		Inputs: []onnx.ValueInfo{
			{Name: "Input3", ElemType: onnx.ElemTypeFloat, Shape: []int64{1, 1, 28, 28}},
		},
		Outputs: []onnx.ValueInfo{
			{Name: "Plus214_Output_0", ElemType: onnx.ElemTypeFloat, Shape: []int64{1, 10}},
		},
		Nodes: []onnx.Node{
			{Name: "Flatten", OpType: "Flatten", Inputs: []string{"Input3"}, Outputs: []string{"Flatten_Output_0"}},
			{Name: "Times212", OpType: "MatMul", Inputs: []string{"Flatten_Output_0", "Weights"}, Outputs: []string{"Times212_Output_0"}},
			{Name: "Plus214", OpType: "Add", Inputs: []string{"Times212_Output_0", "Bias"}, Outputs: []string{"Plus214_Output_0"}},
		},
		Initializers: []string{"Weights", "Bias"},
		Weights: map[string]onnx.Weight{
			"Weights": {Dims: []int64{784, 10}, Values: weights},
			"Bias":    {Dims: []int64{1, 10}, Values: bias},
		},
	}
}

// WriteModel encodes graph into dir/name and returns the path.
func WriteModel(dir, name string, graph *onnx.Graph) (string, error) {
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, onnx.Encode(graph), 0o600)
}

// WriteSample writes a 28x28 P5 graymap for digit into dir.
func WriteSample(dir string, digit int, pixels []byte) (string, error) {
	if len(pixels) != 28*28 {
		return "", errors.Errorf("sample needs 784 pixels, got %d", len(pixels))
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.pgm", digit))
	data := append([]byte("P5\n28 28\n255\n"), pixels...)
	return path, os.WriteFile(path, data, 0o600)
}

// OneHot returns ten raw scores that are zero except for class, which is 5.
func OneHot(class int) []float32 {
	scores := make([]float32, 10)
	scores[class] = 5
	return scores
}

// Backend is an in-memory inference.Backend. Engines are the encoded graph
// behind a magic prefix. Every model returns Scores from Execute.
type Backend struct {
	// Scores is copied to the output buffer on every execution.
	Scores []float32
	// BuildErr, LoadErr and ExecErr are returned by the matching call when set.
	BuildErr error
	LoadErr  error
	ExecErr  error
	// EngineOutputs replaces the outputs of loaded models when set.
	EngineOutputs []inference.TensorInfo

	mu         sync.Mutex
	builds     []inference.BuildOptions
	loads      int
	executions int
	lastInput  []float32
	closed     bool
}

// Name returns "fake".
func (b *Backend) Name() string { return "fake" }

// ParseModel reads and parses an ONNX file.
func (b *Backend) ParseModel(_ context.Context, path string) (*onnx.Graph, error) {
	g, err := onnx.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, common.Wrapf(common.ErrNotFound, err, "parse")
	}
	return g, err
}

// BuildEngine records opts and serializes graph. INT8 builds fail unless every
// tensor has a dynamic range. The timing cache grows by one byte per build.
func (b *Backend) BuildEngine(_ context.Context, graph *onnx.Graph, opts inference.BuildOptions) (inference.BuildResult, error) {
	b.mu.Lock()
	b.builds = append(b.builds, opts)
	b.mu.Unlock()

	if b.BuildErr != nil {
		return inference.BuildResult{}, b.BuildErr
	}
	if opts.INT8 {
		for _, name := range graph.Tensors() {
			if _, ok := opts.DynamicRanges[name]; !ok {
				return inference.BuildResult{}, errors.Errorf("missing dynamic range for tensor %s", name)
			}
		}
	}

	res := inference.BuildResult{Engine: append(append([]byte(nil), engineMagic...), onnx.Encode(graph)...)}
	if opts.UseTimingCache {
		res.TimingCache = append(append([]byte(nil), opts.TimingCache...), 't')
	}
	return res, nil
}

// LoadEngine deserializes an engine produced by BuildEngine.
func (b *Backend) LoadEngine(_ context.Context, engine []byte, hint inference.DeviceHint) (inference.Model, error) {
	b.mu.Lock()
	b.loads++
	b.mu.Unlock()

	if b.LoadErr != nil {
		return nil, b.LoadErr
	}
	if !bytes.HasPrefix(engine, engineMagic) {
		return nil, errors.New("not a serialized engine")
	}
	g, err := onnx.Parse(engine[len(engineMagic):])
	if err != nil {
		return nil, errors.Wrap(err, "corrupt engine")
	}

	m := &Model{backend: b, DLACore: hint.DLACore}
	for _, v := range g.Inputs {
		m.inputs = append(m.inputs, inference.TensorInfo{Name: v.Name, Shape: v.Shape})
	}
	for _, v := range g.Outputs {
		m.outputs = append(m.outputs, inference.TensorInfo{Name: v.Name, Shape: v.Shape})
	}
	if b.EngineOutputs != nil {
		m.outputs = b.EngineOutputs
	}
	return m, nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Builds returns the options of every BuildEngine call.
func (b *Backend) Builds() []inference.BuildOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]inference.BuildOptions(nil), b.builds...)
}

// Loads returns the number of LoadEngine calls.
func (b *Backend) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}

// Executions returns the number of Execute calls across all models.
func (b *Backend) Executions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.executions
}

// LastInput returns the input of the latest execution.
func (b *Backend) LastInput() []float32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastInput
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Model is a model loaded by Backend.
type Model struct {
	DLACore int

	backend *Backend
	inputs  []inference.TensorInfo
	outputs []inference.TensorInfo
	open    int
	closed  bool
}

func (m *Model) Inputs() []inference.TensorInfo  { return m.inputs }
func (m *Model) Outputs() []inference.TensorInfo { return m.outputs }

// Allocate returns a host slice standing in for device memory.
func (m *Model) Allocate(info inference.TensorInfo) (inference.DeviceBuffer, error) {
	m.open++
	return &Buffer{model: m, data: make([]float32, info.Elements())}, nil
}

// Execute copies the backend scores into the first output.
func (m *Model) Execute(_ context.Context, inputs, outputs []inference.DeviceBuffer) error {
	b := m.backend
	b.mu.Lock()
	b.executions++
	b.lastInput = append([]float32(nil), inputs[0].(*Buffer).data...)
	b.mu.Unlock()

	if b.ExecErr != nil {
		return b.ExecErr
	}
	out := outputs[0].(*Buffer)
	copy(out.data, b.Scores)
	return nil
}

// OpenBuffers returns the number of allocated buffers not yet closed.
func (m *Model) OpenBuffers() int { return m.open }

// Closed reports whether Close was called.
func (m *Model) Closed() bool { return m.closed }

// Close marks the model closed.
func (m *Model) Close() error {
	m.closed = true
	return nil
}

// Buffer is a host-backed DeviceBuffer.
type Buffer struct {
	model *Model
	data  []float32
}

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) CopyFromHost(src []float32) error {
	if len(src) != len(b.data) {
		return errors.Errorf("copy of %d elements into buffer of %d", len(src), len(b.data))
	}
	copy(b.data, src)
	return nil
}

func (b *Buffer) CopyToHost(dst []float32) error {
	if len(dst) != len(b.data) {
		return errors.Errorf("copy of %d elements into host slice of %d", len(b.data), len(dst))
	}
	copy(dst, b.data)
	return nil
}

func (b *Buffer) Close() error {
	b.model.open--
	return nil
}
