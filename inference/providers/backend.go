// Package providers - The ONNX Runtime backend that builds and loads engines through a provider.
package providers

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/device"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/nvr-ai/onnx-mnist/onnx"
	"github.com/nvr-ai/onnx-mnist/util"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	calibrationTableName = "calibration.cache"
	contextModelName     = "engine_ctx.onnx"
	timingCachePattern   = "*.timing"
	timingCachePrefix    = "TensorrtExecutionProvider_cache_sm"
)

// BackendOptions configures an ONNX Runtime backend.
type BackendOptions struct {
	// Provider selects the execution provider.
	Provider ProviderBackend
	// LibraryPath is the onnxruntime shared library; empty uses GetSharedLibPath.
	LibraryPath string
	// DeviceID is the GPU ordinal for the CUDA and TensorRT providers.
	DeviceID int
	// LogLevel is the native runtime log level.
	LogLevel ort.LoggingLevel
	// ComputeCapability, e.g. "86", names the TensorRT timing cache file. When
	// empty an existing timing cache cannot be seeded into a build.
	ComputeCapability string
	// Optimization holds the session settings.
	Optimization OptimizationConfig
	Logger       *slog.Logger
}

// Backend implements inference.Backend on ONNX Runtime. With TensorRT the
// engine is an EP context model embedding the serialized TensorRT plan; with
// CUDA and CPU the engine is the ONNX model itself.
type Backend struct {
	opts BackendOptions

	mu  sync.Mutex
	env bool
}

// NewBackend validates opts and returns a backend. The native library is not
// touched until the first build or load.
func NewBackend(opts BackendOptions) (*Backend, error) {
	switch opts.Provider {
	case TensorRTProviderBackend, CUDAProviderBackend, CPUProviderBackend:
	default:
		return nil, common.Errorf(common.ErrArgument, "unsupported ONNX Runtime provider %q", opts.Provider)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Optimization == (OptimizationConfig{}) {
		opts.Optimization = DefaultOptimizationConfig(device.ProbeHost())
	}
	return &Backend{opts: opts}, nil
}

// Name returns the provider name.
func (b *Backend) Name() string {
	return "onnxruntime/" + string(b.opts.Provider)
}

// ParseModel reads and parses the model without the native runtime.
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

// BuildEngine compiles graph. TensorRT compiles into a scratch directory and
// returns the EP context model together with the refreshed timing cache.
// CUDA and CPU only verify that a session can be created.
func (b *Backend) BuildEngine(ctx context.Context, graph *onnx.Graph, opts inference.BuildOptions) (inference.BuildResult, error) {
	if err := b.validate(opts); err != nil {
		return inference.BuildResult{}, err
	}
	if err := b.ensureEnvironment(); err != nil {
		return inference.BuildResult{}, err
	}
	if b.opts.Provider != TensorRTProviderBackend {
		if opts.UseTimingCache {
			b.opts.Logger.Warn("timing cache is only supported by the tensorrt provider", "provider", b.opts.Provider)
		}
		if err := b.trySession(graph.Data, b.providerOptions(nil), graph); err != nil {
			return inference.BuildResult{}, err
		}
		return inference.BuildResult{Engine: graph.Data}, nil
	}
	return b.buildTensorRT(graph, opts)
}

func (b *Backend) buildTensorRT(graph *onnx.Graph, opts inference.BuildOptions) (inference.BuildResult, error) {
	work, err := os.MkdirTemp("", "onnx-mnist-build-")
	if err != nil {
		return inference.BuildResult{}, common.Wrapf(common.ErrIO, err, "create build directory")
	}
	defer os.RemoveAll(work)

	trt := TensorRTOptions{
		DeviceID:        b.opts.DeviceID,
		FP16:            opts.FP16,
		BF16:            opts.BF16,
		INT8:            opts.INT8,
		DLACore:         opts.DLACore,
		EngineCachePath: work,
		ContextFilePath: filepath.Join(work, contextModelName),
	}
	if opts.INT8 {
		if err := writeCalibrationTable(filepath.Join(work, calibrationTableName), opts.DynamicRanges); err != nil {
			return inference.BuildResult{}, err
		}
		trt.Int8CalibrationTable = calibrationTableName
		trt.Int8UseNativeTable = true
	}
	if opts.UseTimingCache {
		trt.TimingCachePath = work
		b.seedTimingCache(work, opts.TimingCache)
	}

	if err := b.trySession(graph.Data, trt, graph); err != nil {
		return inference.BuildResult{}, err
	}

	engine, err := os.ReadFile(trt.ContextFilePath)
	if err != nil {
		return inference.BuildResult{}, errors.Wrap(err, "TensorRT did not write the EP context model")
	}
	res := inference.BuildResult{Engine: engine}
	if opts.UseTimingCache {
		res.TimingCache = readTimingCache(work)
	}
	return res, nil
}

// seedTimingCache stages a previous timing cache where TensorRT looks for it.
func (b *Backend) seedTimingCache(dir string, cache []byte) {
	if len(cache) == 0 {
		return
	}
	if b.opts.ComputeCapability == "" {
		b.opts.Logger.Warn("GPU compute capability unknown, building without the existing timing cache")
		return
	}
	path := filepath.Join(dir, timingCachePrefix+b.opts.ComputeCapability+".timing")
	if err := os.WriteFile(path, cache, 0o600); err != nil {
		b.opts.Logger.Warn("could not stage timing cache", "error", err)
	}
}

func readTimingCache(dir string) []byte {
	matches, _ := filepath.Glob(filepath.Join(dir, timingCachePattern))
	if len(matches) == 0 {
		return nil
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil
	}
	return data
}

func writeCalibrationTable(path string, ranges map[string]float32) error {
	f, err := os.Create(path)
	if err != nil {
		return common.Wrapf(common.ErrIO, err, "create calibration table")
	}
	if err := onnx.WriteCalibrationTable(f, ranges); err != nil {
		f.Close()
		return errors.Wrap(err, "write calibration table")
	}
	return common.Wrapf(common.ErrIO, f.Close(), "close calibration table")
}

// trySession creates and destroys a session. Session creation is where the
// providers compile the graph.
func (b *Backend) trySession(data []byte, popts ProviderOptions, graph *onnx.Graph) error {
	options, err := b.sessionOptions(popts)
	if err != nil {
		return err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(data, names(graph.Inputs), names(graph.Outputs), options)
	if err != nil {
		return errors.Wrap(err, "create session")
	}
	return errors.Wrap(session.Destroy(), "destroy build session")
}

// LoadEngine creates a session from engine bytes.
func (b *Backend) LoadEngine(_ context.Context, engine []byte, hint inference.DeviceHint) (inference.Model, error) {
	if hint.DLACore >= 0 && b.opts.Provider != TensorRTProviderBackend {
		return nil, common.Errorf(common.ErrDeserialization, "DLA core %d requires the tensorrt provider", hint.DLACore)
	}
	if err := b.ensureEnvironment(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(engine)
	if err != nil {
		return nil, errors.Wrap(err, "read engine inputs and outputs")
	}
	model := &Model{}
	for _, in := range inputs {
		info, err := tensorInfo(in)
		if err != nil {
			return nil, err
		}
		model.inputs = append(model.inputs, info)
	}
	for _, out := range outputs {
		info, err := tensorInfo(out)
		if err != nil {
			return nil, err
		}
		model.outputs = append(model.outputs, info)
	}

	options, err := b.sessionOptions(b.providerOptions(&hint))
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	model.session, err = ort.NewDynamicAdvancedSessionWithONNXData(engine,
		tensorNames(model.inputs), tensorNames(model.outputs), options)
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	return model, nil
}

// Close releases the runtime environment if this backend initialized it.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.env {
		return nil
	}
	b.env = false
	return releaseEnvironment()
}

func (b *Backend) ensureEnvironment() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.env {
		return nil
	}
	if err := acquireEnvironment(GetSharedLibPath(b.opts.LibraryPath), b.opts.LogLevel); err != nil {
		return err
	}
	b.env = true
	return nil
}

// validate rejects build options the provider cannot honour.
func (b *Backend) validate(opts inference.BuildOptions) error {
	if b.opts.Provider == TensorRTProviderBackend {
		return nil
	}
	if opts.FP16 || opts.BF16 || opts.INT8 {
		return common.Errorf(common.ErrBuild, "reduced precision %v requires the tensorrt provider", opts.Precisions())
	}
	if opts.DLACore >= 0 {
		return common.Errorf(common.ErrBuild, "DLA core %d requires the tensorrt provider", opts.DLACore)
	}
	return nil
}

// providerOptions returns the provider settings for loading, bound to hint's
// DLA core when given.
func (b *Backend) providerOptions(hint *inference.DeviceHint) ProviderOptions {
	switch b.opts.Provider {
	case TensorRTProviderBackend:
		trt := TensorRTOptions{DeviceID: b.opts.DeviceID, DLACore: -1}
		if hint != nil {
			trt.DLACore = hint.DLACore
		}
		return trt
	case CUDAProviderBackend:
		return CUDAOptions{DeviceID: b.opts.DeviceID, DoCopyInDefaultStream: true}
	default:
		return CPUOptions{}
	}
}

// sessionOptions resolves popts to a provider and applies it to fresh
// session options. The caller destroys the result.
func (b *Backend) sessionOptions(popts ProviderOptions) (*ort.SessionOptions, error) {
	provider, err := NewProvider(popts)
	if err != nil {
		return nil, err
	}
	return OptimizedSessionOptions(b.opts.Optimization, provider)
}

func tensorInfo(info ort.InputOutputInfo) (inference.TensorInfo, error) {
	if info.OrtValueType != ort.ONNXTypeTensor {
		return inference.TensorInfo{}, common.Errorf(common.ErrShape, "%s is a %v, want a tensor", info.Name, info.OrtValueType)
	}
	if info.DataType != ort.TensorElementDataTypeFloat {
		return inference.TensorInfo{}, common.Errorf(common.ErrShape, "%s holds %v, want float", info.Name, info.DataType)
	}
	return inference.TensorInfo{Name: info.Name, Shape: append([]int64(nil), info.Dimensions...)}, nil
}

func names(values []onnx.ValueInfo) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.Name
	}
	return out
}

func tensorNames(infos []inference.TensorInfo) []string {
	out := make([]string, len(infos))
	for i, v := range infos {
		out[i] = v.Name
	}
	return out
}
