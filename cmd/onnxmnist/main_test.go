package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/config"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/stretchr/testify/assert"
)

func TestHelpExitsZero(t *testing.T) {
	for _, flag := range []string{"-h", "--help"} {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 0, run([]string{"onnxmnist", flag}, &stdout, &stderr), flag)
		assert.Contains(t, stdout.String(), "--useDLACore=N")
		assert.NotContains(t, stdout.String(), "&&&&")
	}
}

func TestInvalidArgumentsExitOne(t *testing.T) {
	for _, args := range [][]string{
		{"onnxmnist", "--nosuchflag"},
		{"onnxmnist", "--useDLACore=x"},
		{"onnxmnist", "--backend=opencl"},
		{"onnxmnist", "stray"},
	} {
		var stdout, stderr bytes.Buffer
		assert.Equal(t, 1, run(args, &stdout, &stderr), "%v", args)
		assert.Contains(t, stdout.String(), "Usage: onnxmnist", "%v", args)
		assert.Contains(t, stderr.String(), "invalid arguments", "%v", args)
	}
}

func TestMissingEngineExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	engine := filepath.Join(t.TempDir(), "missing.engine")
	code := run([]string{"onnxmnist", "--backend=gorgonnx", "--digit=3", "--loadEngine=" + engine}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "&&&& RUNNING onnx_mnist")
	assert.Contains(t, stdout.String(), "&&&& FAILED onnx_mnist")
	assert.Contains(t, stderr.String(), "missing.engine")
}

func TestBackendFailurePrintsFailedLine(t *testing.T) {
	orig := newBackend
	defer func() { newBackend = orig }()
	newBackend = func(config.Config, *slog.Logger) (inference.Backend, error) {
		return nil, common.Errorf(common.ErrArgument, "no such runtime")
	}

	var stdout, stderr bytes.Buffer
	code := run([]string{"onnxmnist", "--backend=cpu"}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Equal(t, "&&&& RUNNING onnx_mnist # onnxmnist --backend=cpu\n&&&& FAILED onnx_mnist # onnxmnist --backend=cpu\n",
		stdout.String())
	assert.Contains(t, stderr.String(), "no such runtime")
}

func TestMissingRuntimeLibraryExitsOne(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"onnxmnist", "--backend=cpu", "-d", dir, "--ortLib=" + filepath.Join(dir, "libonnxruntime.so"),
		"--loadEngine=" + filepath.Join(dir, "mnist.onnx")}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "&&&& FAILED onnx_mnist")
}
