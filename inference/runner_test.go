package inference_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/config"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/nvr-ai/onnx-mnist/inference/inferencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func provision(t *testing.T, backend *inferencetest.Backend) *inferencetest.Model {
	t.Helper()
	cfg, _ := newConfig(t)
	m, err := inference.NewProvisioner(cfg, backend, nil, nil).Provision(context.Background())
	require.NoError(t, err)
	return m.(*inferencetest.Model)
}

func TestRunOnceCopiesInput(t *testing.T) {
	backend := &inferencetest.Backend{Scores: inferencetest.OneHot(3)}
	m := provision(t, backend)
	r := inference.NewRunner(m, nil, nil)

	input := make([]float32, 784)
	input[1] = 0.8
	input[2] = 1

	out, err := r.RunOnce(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, inferencetest.OneHot(3), out)

	in := backend.LastInput()
	require.Len(t, in, 784)
	assert.Equal(t, input, in)

	assert.Equal(t, 1, backend.Executions())
	assert.Zero(t, m.OpenBuffers())

	require.NoError(t, r.Close())
	assert.True(t, m.Closed())
}

func TestRunOnceExecutionFailureReleasesBuffers(t *testing.T) {
	backend := &inferencetest.Backend{ExecErr: errors.New("cuda error 700")}
	m := provision(t, backend)

	_, err := inference.NewRunner(m, nil, nil).RunOnce(context.Background(), make([]float32, 784))
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExecution), "got %v", err)
	assert.Contains(t, err.Error(), "cuda error 700")
	assert.Equal(t, 1, backend.Executions())
	assert.Zero(t, m.OpenBuffers())
}

func TestRunOnceRejectsWrongSampleSize(t *testing.T) {
	backend := &inferencetest.Backend{}
	m := provision(t, backend)

	_, err := inference.NewRunner(m, nil, nil).RunOnce(context.Background(), make([]float32, 100))
	assert.True(t, errors.Is(err, common.ErrShape), "got %v", err)
	assert.Zero(t, backend.Executions())
}

func TestRunOnceResolvesDynamicBatch(t *testing.T) {
	dir := t.TempDir()
	graph := inferencetest.MNISTGraph()
	graph.Inputs[0].Shape = []int64{-1, 1, 28, 28}
	graph.Outputs[0].Shape = []int64{-1, 10}
	_, err := inferencetest.WriteModel(dir, config.DefaultModelFile, graph)
	require.NoError(t, err)
	cfg := config.Default()
	cfg.DataDirs = []string{dir}

	backend := &inferencetest.Backend{Scores: inferencetest.OneHot(1)}
	m, err := inference.NewProvisioner(cfg, backend, nil, nil).Provision(context.Background())
	require.NoError(t, err)

	out, err := inference.NewRunner(m, nil, nil).RunOnce(context.Background(), make([]float32, 784))
	require.NoError(t, err)
	assert.Len(t, out, 10)
}

func TestTensorInfo(t *testing.T) {
	info := inference.TensorInfo{Name: "Input3", Shape: []int64{-1, 1, 28, 28}}
	assert.Equal(t, 784, info.Elements())
	assert.Equal(t, []int64{1, 1, 28, 28}, info.ConcreteShape())
	assert.Equal(t, []int64{-1, 1, 28, 28}, info.Shape)
}
