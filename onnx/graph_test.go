package onnx

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// mnistGraph mirrors the layout of the model zoo MNIST classifier: one image
// input, a conv/pool stack and a single 10-way output, with weights that are
// also listed as graph inputs.
func mnistGraph() *Graph {
	return &Graph{
		Name:      "CNTKGraph",
		Producer:  "CNTK",
		IRVersion: 3,
		Opset:     8,
		Inputs: []ValueInfo{
			{Name: "Input3", ElemType: ElemTypeFloat, Shape: []int64{1, 1, 28, 28}},
			{Name: "Parameter5", ElemType: ElemTypeFloat, Shape: []int64{8, 1, 5, 5}},
		},
		Outputs: []ValueInfo{
			{Name: "Plus214_Output_0", ElemType: ElemTypeFloat, Shape: []int64{1, 10}},
		},
		Nodes: []Node{
			{Name: "Convolution28", OpType: "Conv", Inputs: []string{"Input3", "Parameter5"}, Outputs: []string{"Convolution28_Output_0"}},
			{Name: "ReLU32", OpType: "Relu", Inputs: []string{"Convolution28_Output_0"}, Outputs: []string{"ReLU32_Output_0"}},
			{Name: "Pooling66", OpType: "MaxPool", Inputs: []string{"ReLU32_Output_0"}, Outputs: []string{"Pooling66_Output_0"}},
			{Name: "Times212", OpType: "MatMul", Inputs: []string{"Pooling66_Output_0", "Parameter193"}, Outputs: []string{"Times212_Output_0"}},
			{Name: "Plus214", OpType: "Add", Inputs: []string{"Times212_Output_0", "Parameter194"}, Outputs: []string{"Plus214_Output_0"}},
		},
		Initializers: []string{"Parameter5", "Parameter193", "Parameter194"},
	}
}

func TestParseSkipsInitializerInputs(t *testing.T) {
	g, err := Parse(Encode(mnistGraph()))
	require.NoError(t, err)

	require.Len(t, g.Inputs, 1)
	assert.Equal(t, "Input3", g.Inputs[0].Name)
	assert.Equal(t, []int64{1, 1, 28, 28}, g.Inputs[0].Shape)
	assert.Equal(t, ElemTypeFloat, g.Inputs[0].ElemType)

	require.Len(t, g.Outputs, 1)
	assert.Equal(t, "Plus214_Output_0", g.Outputs[0].Name)
	assert.Equal(t, []int64{1, 10}, g.Outputs[0].Shape)

	assert.Equal(t, "CNTKGraph", g.Name)
	assert.Equal(t, "CNTK", g.Producer)
	assert.Equal(t, int64(3), g.IRVersion)
	assert.Equal(t, int64(8), g.Opset)
	assert.Len(t, g.Nodes, 5)
	assert.Equal(t, "MatMul", g.Nodes[3].OpType)
}

func TestEncodeWeights(t *testing.T) {
	g := mnistGraph()
	g.Weights = map[string]Weight{"Parameter194": {Dims: []int64{1, 2}, Values: []float32{0.5, -1}}}

	parsed, err := Parse(Encode(g))
	require.NoError(t, err)
	assert.Equal(t, g.Initializers, parsed.Initializers)

	var dims []int64
	var values []float32
	err = fields(parsed.Data, func(f field) error {
		if f.num != modelGraph {
			return nil
		}
		return fields(f.bytes, func(f field) error {
			if f.num != graphInitializer {
				return nil
			}
			return fields(f.bytes, func(f field) error {
				switch f.num {
				case tensorDims:
					dims = append(dims, int64(f.varint))
				case tensorFloatData:
					for b := f.bytes; len(b) > 0; b = b[4:] {
						v, _ := protowire.ConsumeFixed32(b)
						values = append(values, math.Float32frombits(v))
					}
				}
				return nil
			})
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, dims)
	assert.Equal(t, []float32{0.5, -1}, values)
}

func TestParseSymbolicDimension(t *testing.T) {
	src := mnistGraph()
	src.Inputs[0].Shape = []int64{-1, 1, 28, 28}

	g, err := Parse(Encode(src))
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, 1, 28, 28}, g.Inputs[0].Shape)
}

func TestTensorsExcludesWeights(t *testing.T) {
	g, err := Parse(Encode(mnistGraph()))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Input3",
		"Convolution28_Output_0",
		"ReLU32_Output_0",
		"Pooling66_Output_0",
		"Times212_Output_0",
		"Plus214_Output_0",
	}, g.Tensors())
}

func TestParseRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "truncated tag", data: []byte{0xff}},
		{name: "text", data: []byte("this is a serialized engine, honest")},
		{name: "model without graph", data: []byte{0x08, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnist.onnx")
	require.NoError(t, os.WriteFile(path, Encode(mnistGraph()), 0o600))

	g, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Input3", g.Inputs[0].Name)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.onnx"))
	assert.True(t, os.IsNotExist(err))
}

func TestCalibrationTableRoundTrip(t *testing.T) {
	g := mnistGraph()
	ranges := SymmetricRanges(g.Tensors(), 127)

	var buf bytes.Buffer
	require.NoError(t, WriteCalibrationTable(&buf, ranges))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, len(ranges)+1)
	assert.Equal(t, CalibrationHeader, lines[0])
	assert.Contains(t, lines, "Input3: 3f800000")

	got, err := ReadCalibrationTable(&buf)
	require.NoError(t, err)
	assert.Equal(t, ranges, got)
}

func TestCalibrationTableRejectsBadRange(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCalibrationTable(&buf, map[string]float32{"Input3": 0})
	assert.Error(t, err)
}
