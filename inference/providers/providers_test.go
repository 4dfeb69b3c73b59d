package providers

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/nvr-ai/onnx-mnist/inference/inferencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensorRTOptionsToMap(t *testing.T) {
	m := TensorRTOptions{
		DeviceID:             1,
		MaxWorkspaceSize:     1 << 30,
		FP16:                 true,
		INT8:                 true,
		Int8CalibrationTable: "calibration.cache",
		Int8UseNativeTable:   true,
		DLACore:              0,
		EngineCachePath:      "/tmp/build",
		TimingCachePath:      "/tmp/build",
		ContextFilePath:      "/tmp/build/engine_ctx.onnx",
	}.ToMap()

	assert.Equal(t, map[string]string{
		"device_id":                             "1",
		"trt_max_workspace_size":                "1073741824",
		"trt_fp16_enable":                       "1",
		"trt_int8_enable":                       "1",
		"trt_int8_calibration_table_name":       "calibration.cache",
		"trt_int8_use_native_calibration_table": "1",
		"trt_dla_enable":                        "1",
		"trt_dla_core":                          "0",
		"trt_engine_cache_enable":               "1",
		"trt_engine_cache_path":                 "/tmp/build",
		"trt_timing_cache_enable":               "1",
		"trt_timing_cache_path":                 "/tmp/build",
		"trt_dump_ep_context_model":             "1",
		"trt_ep_context_file_path":              "/tmp/build/engine_ctx.onnx",
		"trt_ep_context_embed_mode":             "1",
	}, m)
}

func TestTensorRTOptionsDefaultsOmitted(t *testing.T) {
	m := TensorRTOptions{DLACore: -1, BF16: true}.ToMap()
	assert.Equal(t, map[string]string{"device_id": "0", "trt_bf16_enable": "1"}, m)
}

func TestCUDAOptionsToMap(t *testing.T) {
	m := CUDAOptions{DeviceID: 2, GPUMemLimit: 2 << 30, CudnnConvAlgoSearch: "HEURISTIC", DoCopyInDefaultStream: true}.ToMap()
	assert.Equal(t, "2", m["device_id"])
	assert.Equal(t, "2147483648", m["gpu_mem_limit"])
	assert.Equal(t, "HEURISTIC", m["cudnn_conv_algo_search"])
	assert.Equal(t, "1", m["do_copy_in_default_stream"])
	assert.Equal(t, "0", m["use_tf32"])
	assert.NotContains(t, m, "arena_extend_strategy")
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		options ProviderOptions
		backend ProviderBackend
	}{
		{TensorRTOptions{}, TensorRTProviderBackend},
		{CUDAOptions{}, CUDAProviderBackend},
		{CPUOptions{}, CPUProviderBackend},
	}
	for _, tt := range tests {
		p, err := NewProvider(tt.options)
		require.NoError(t, err)
		assert.Equal(t, tt.backend, p.Backend())
		assert.Equal(t, tt.options, p.Options())
	}

	_, err := NewProvider(nil)
	assert.True(t, errors.Is(err, common.ErrArgument), "got %v", err)
}

func TestProviderOptionsResolve(t *testing.T) {
	tests := []struct {
		provider ProviderBackend
		hint     *inference.DeviceHint
		want     ProviderOptions
	}{
		{TensorRTProviderBackend, nil, TensorRTOptions{DeviceID: 1, DLACore: -1}},
		{TensorRTProviderBackend, &inference.DeviceHint{DLACore: 2}, TensorRTOptions{DeviceID: 1, DLACore: 2}},
		{CUDAProviderBackend, nil, CUDAOptions{DeviceID: 1, DoCopyInDefaultStream: true}},
		{CPUProviderBackend, nil, CPUOptions{}},
	}
	for _, tt := range tests {
		b, err := NewBackend(BackendOptions{Provider: tt.provider, DeviceID: 1})
		require.NoError(t, err)
		popts := b.providerOptions(tt.hint)
		assert.Equal(t, tt.want, popts)

		p, err := NewProvider(popts)
		require.NoError(t, err)
		assert.Equal(t, tt.provider, p.Backend())
	}
}

func TestNewBackendRejectsUnknownProvider(t *testing.T) {
	_, err := NewBackend(BackendOptions{Provider: "openvino"})
	assert.True(t, errors.Is(err, common.ErrArgument), "got %v", err)

	b, err := NewBackend(BackendOptions{Provider: CPUProviderBackend})
	require.NoError(t, err)
	assert.Equal(t, "onnxruntime/cpu", b.Name())
	assert.GreaterOrEqual(t, b.opts.Optimization.IntraOpNumThreads, 1)
	assert.NoError(t, b.Close())
}

func TestBuildRejectsOptionsBeforeTouchingRuntime(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "libonnxruntime.so")
	graph := inferencetest.MNISTGraph()

	for _, provider := range []ProviderBackend{CPUProviderBackend, CUDAProviderBackend} {
		b, err := NewBackend(BackendOptions{Provider: provider, LibraryPath: missing})
		require.NoError(t, err)

		for _, opts := range []inference.BuildOptions{
			{FP16: true, DLACore: -1},
			{INT8: true, DLACore: -1},
			{DLACore: 0},
		} {
			_, err := b.BuildEngine(context.Background(), graph, opts)
			assert.True(t, errors.Is(err, common.ErrBuild), "%s %+v: got %v", provider, opts, err)
		}
	}
}

func TestMissingLibraryIsNotFound(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "libonnxruntime.so")
	b, err := NewBackend(BackendOptions{Provider: TensorRTProviderBackend, LibraryPath: missing})
	require.NoError(t, err)

	_, err = b.BuildEngine(context.Background(), inferencetest.MNISTGraph(), inference.BuildOptions{DLACore: -1})
	assert.True(t, errors.Is(err, common.ErrNotFound), "got %v", err)

	_, err = b.LoadEngine(context.Background(), []byte("engine"), inference.DeviceHint{DLACore: -1})
	assert.True(t, errors.Is(err, common.ErrNotFound), "got %v", err)
	assert.NoError(t, b.Close())
}

func TestLoadRejectsDLAWithoutTensorRT(t *testing.T) {
	b, err := NewBackend(BackendOptions{Provider: CUDAProviderBackend})
	require.NoError(t, err)
	_, err = b.LoadEngine(context.Background(), []byte("engine"), inference.DeviceHint{DLACore: 1})
	assert.True(t, errors.Is(err, common.ErrDeserialization), "got %v", err)
}

func TestParseModel(t *testing.T) {
	b, err := NewBackend(BackendOptions{Provider: CPUProviderBackend})
	require.NoError(t, err)
	dir := t.TempDir()

	_, err = b.ParseModel(context.Background(), filepath.Join(dir, "mnist.onnx"))
	assert.True(t, errors.Is(err, common.ErrNotFound), "got %v", err)

	path, err := inferencetest.WriteModel(dir, "mnist.onnx", inferencetest.MNISTGraph())
	require.NoError(t, err)
	g, err := b.ParseModel(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Input3", g.Inputs[0].Name)
}

func TestGetSharedLibPath(t *testing.T) {
	assert.Equal(t, "/opt/ort/libonnxruntime.so", GetSharedLibPath("/opt/ort/libonnxruntime.so"))

	t.Setenv(LibraryEnv, "/env/libonnxruntime.so")
	assert.Equal(t, "/env/libonnxruntime.so", GetSharedLibPath(""))

	t.Setenv(LibraryEnv, "")
	assert.NotEmpty(t, GetSharedLibPath(""))
}

func TestReadTimingCache(t *testing.T) {
	dir := t.TempDir()
	assert.Nil(t, readTimingCache(dir))

	b, err := NewBackend(BackendOptions{Provider: TensorRTProviderBackend, ComputeCapability: "87"})
	require.NoError(t, err)
	b.seedTimingCache(dir, []byte("cache"))
	assert.FileExists(t, filepath.Join(dir, "TensorrtExecutionProvider_cache_sm87.timing"))
	assert.Equal(t, []byte("cache"), readTimingCache(dir))
}

func TestWriteCalibrationTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), calibrationTableName)
	require.NoError(t, writeCalibrationTable(path, map[string]float32{"Input3": 127}))
	assert.FileExists(t, path)

	err := writeCalibrationTable(filepath.Join(t.TempDir(), "missing", "table"), nil)
	assert.True(t, errors.Is(err, common.ErrIO), "got %v", err)
}
