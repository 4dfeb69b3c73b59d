package controller

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/config"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/nvr-ai/onnx-mnist/inference/inferencetest"
	"github.com/nvr-ai/onnx-mnist/profiler"
	"github.com/nvr-ai/onnx-mnist/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture writes the model and every digit sample into a temp dir.
func fixture(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	_, err := inferencetest.WriteModel(dir, config.DefaultModelFile, inferencetest.MNISTGraph())
	require.NoError(t, err)
	for d := 0; d < 10; d++ {
		pixels := make([]byte, 784)
		pixels[d] = 255
		_, err := inferencetest.WriteSample(dir, d, pixels)
		require.NoError(t, err)
	}
	cfg := config.Default()
	cfg.DataDirs = []string{dir}
	return cfg
}

func newController(t *testing.T, cfg config.Config, backend inference.Backend) (*Controller, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	c, err := New(cfg, backend, report.New(&out, "onnx_mnist", []string{"onnxmnist"}), nil, profiler.New())
	require.NoError(t, err)
	return c, &out
}

func TestRunPasses(t *testing.T) {
	cfg := fixture(t)
	cfg.Digit = 7
	backend := &inferencetest.Backend{Scores: inferencetest.OneHot(7)}
	c, out := newController(t, cfg, backend)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 7, res.Predicted)
	assert.Greater(t, res.Confidence, float32(0.9))

	assert.Equal(t, []inference.State{
		inference.StateStart,
		inference.StateBuilding,
		inference.StateReady,
		inference.StateExecuting,
		inference.StateVerifying,
		inference.StatePass,
	}, c.History())

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "&&&& RUNNING onnx_mnist # onnxmnist\n"))
	assert.Contains(t, text, "Input (digit 7):")
	assert.Contains(t, text, " Prob 7  0.9")
	assert.True(t, strings.HasSuffix(text, "&&&& PASSED onnx_mnist # onnxmnist\n"))

	in := backend.LastInput()
	require.Len(t, in, 784)
	assert.Equal(t, float32(0), in[7])
	assert.Equal(t, float32(1), in[0])

	names := []string{}
	for _, op := range c.Profiler.Operations() {
		names = append(names, op.Name)
	}
	assert.Equal(t, []string{"parse", "build", "load", "execute"}, names)
}

func TestRunWrongAnswerFails(t *testing.T) {
	cfg := fixture(t)
	cfg.Digit = 2
	c, out := newController(t, cfg, &inferencetest.Backend{Scores: inferencetest.OneHot(3)})

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 3, res.Predicted)
	assert.Equal(t, inference.StateFail, c.State())
	assert.Contains(t, out.String(), "&&&& FAILED onnx_mnist")
}

func TestRunFromSavedEngine(t *testing.T) {
	cfg := fixture(t)
	cfg.Digit = 4
	cfg.SaveEngine = filepath.Join(t.TempDir(), "mnist.engine")
	backend := &inferencetest.Backend{Scores: inferencetest.OneHot(4)}

	c, _ := newController(t, cfg, backend)
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	cfg.LoadEngine, cfg.SaveEngine = cfg.SaveEngine, ""
	c, _ = newController(t, cfg, backend)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, inference.StateLoading, c.History()[1])
	assert.Len(t, backend.Builds(), 1)
	assert.Equal(t, 2, backend.Loads())
}

func TestRunMissingEngine(t *testing.T) {
	cfg := fixture(t)
	cfg.LoadEngine = filepath.Join(t.TempDir(), "missing.engine")
	backend := &inferencetest.Backend{Scores: inferencetest.OneHot(1)}
	c, out := newController(t, cfg, backend)

	_, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound), "got %v", err)
	assert.Zero(t, backend.Executions())
	assert.Equal(t, []inference.State{inference.StateStart, inference.StateLoading, inference.StateFail}, c.History())
	assert.Contains(t, out.String(), "&&&& FAILED")
}

func TestRunRejectsEngineWithWrongClassCount(t *testing.T) {
	cfg := fixture(t)
	cfg.Digit = 1
	graph := inferencetest.MNISTGraph()
	graph.Outputs[0].Shape = []int64{1, 5}
	_, err := inferencetest.WriteModel(cfg.DataDirs[0], config.DefaultModelFile, graph)
	require.NoError(t, err)
	backend := &inferencetest.Backend{Scores: inferencetest.OneHot(1)}
	c, _ := newController(t, cfg, backend)

	_, err = c.Run(context.Background())
	assert.True(t, errors.Is(err, common.ErrShape), "got %v", err)
	assert.Zero(t, backend.Executions())
	assert.Equal(t, []inference.State{inference.StateStart, inference.StateBuilding, inference.StateFail}, c.History())
}

func TestRunExecutionFailure(t *testing.T) {
	cfg := fixture(t)
	cfg.Digit = 0
	c, _ := newController(t, cfg, &inferencetest.Backend{ExecErr: errors.New("device lost")})

	_, err := c.Run(context.Background())
	assert.True(t, errors.Is(err, common.ErrExecution), "got %v", err)
	assert.Equal(t, inference.StateFail, c.State())
}

func TestRunMissingSample(t *testing.T) {
	cfg := fixture(t)
	cfg.Digit = 5
	cfg.DataDirs = append(cfg.DataDirs, t.TempDir())
	require.NoError(t, os.Remove(filepath.Join(cfg.DataDirs[0], "5.pgm")))
	c, _ := newController(t, cfg, &inferencetest.Backend{Scores: inferencetest.OneHot(5)})

	_, err := c.Run(context.Background())
	assert.True(t, errors.Is(err, common.ErrNotFound), "got %v", err)
}

func TestRandomDigitIsSeeded(t *testing.T) {
	cfg := fixture(t)
	cfg.Seed = 42

	pick := func() int {
		c, _ := newController(t, cfg, &inferencetest.Backend{Scores: inferencetest.OneHot(0)})
		s, err := c.loadSample()
		require.NoError(t, err)
		return s.Label
	}
	first := pick()
	assert.GreaterOrEqual(t, first, 0)
	assert.Less(t, first, 10)
	assert.Equal(t, first, pick())
}

func TestNewBackend(t *testing.T) {
	cfg := config.Default()

	cfg.Backend = config.BackendGorgonnx
	b, err := NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "gorgonnx", b.Name())

	cfg.Backend = config.BackendCPU
	b, err = NewBackend(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "onnxruntime/cpu", b.Name())

	cfg.Backend = "opencl"
	_, err = NewBackend(cfg, nil)
	assert.True(t, errors.Is(err, common.ErrArgument), "got %v", err)
}
