// Package inference - Provisioners turn a saved engine or an ONNX model into a runnable model.
package inference

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"slices"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/config"
	"github.com/nvr-ai/onnx-mnist/onnx"
	"github.com/nvr-ai/onnx-mnist/profiler"
	"github.com/nvr-ai/onnx-mnist/util"
)

const (
	// InputRank is the rank of the classifier input (NCHW).
	InputRank = 4
	// OutputRank is the rank of the classifier output (batch x classes).
	OutputRank = 2
)

// Provisioner produces a runnable model, either by loading a saved engine or
// by building one from an ONNX model.
type Provisioner interface {
	// State is the run state the provisioner works in.
	State() State
	// Provision returns a model exposing exactly one input and one output.
	Provision(ctx context.Context) (Model, error)
}

// NewProvisioner picks FromFile when an engine file is configured and
// FromModel otherwise.
//
// Arguments:
//   - cfg: The resolved run parameters.
//   - backend: The runtime that builds and loads engines.
//   - logger: Destination for progress and warnings.
//   - prof: Optional phase profiler.
//
// Returns:
//   - Provisioner: The provisioner for cfg.
func NewProvisioner(cfg config.Config, backend Backend, logger *slog.Logger, prof *profiler.Profiler) Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoadEngine != "" {
		if cfg.FP16 || cfg.BF16 || cfg.INT8 || cfg.TimingCacheFile != "" || cfg.CalibrationFile != "" {
			logger.Warn("build options are ignored when loading an engine", "engine", cfg.LoadEngine)
		}
		return &FromFile{
			Path:     cfg.LoadEngine,
			DLACore:  cfg.DLACore,
			Backend:  backend,
			Logger:   logger,
			Profiler: prof,
		}
	}
	return &FromModel{
		ModelFile: cfg.ModelFile,
		DataDirs:  cfg.DataDirs,
		Options: BuildOptions{
			FP16:    cfg.FP16,
			BF16:    cfg.BF16,
			INT8:    cfg.INT8,
			DLACore: cfg.DLACore,
		},
		Int8Range:       cfg.Int8Range,
		CalibrationFile: cfg.CalibrationFile,
		TimingCacheFile: cfg.TimingCacheFile,
		SaveEngine:      cfg.SaveEngine,
		Backend:         backend,
		Logger:          logger,
		Profiler:        prof,
	}
}

// FromFile deserializes a previously saved engine.
type FromFile struct {
	// Path is the engine file.
	Path string
	// DLACore binds the engine to a DLA core; -1 keeps the default device.
	DLACore  int
	Backend  Backend
	Logger   *slog.Logger
	Profiler *profiler.Profiler
}

// State returns StateLoading.
func (p *FromFile) State() State { return StateLoading }

// Provision reads the engine file and loads it.
func (p *FromFile) Provision(ctx context.Context) (Model, error) {
	stop := p.Profiler.StartOperation("read engine")
	data, err := util.ReadFile(p.Path)
	stop()
	if err != nil {
		return nil, err
	}
	logger(p.Logger).Info("loading engine", "path", p.Path, "bytes", len(data), "dla_core", p.DLACore)

	model, err := loadEngine(ctx, p.Backend, data, DeviceHint{DLACore: p.DLACore}, p.Profiler)
	if err != nil {
		return nil, err
	}
	if err := checkIO(model); err != nil {
		model.Close()
		return nil, err
	}
	return model, nil
}

// FromModel builds an engine from an ONNX model found in the data directories.
type FromModel struct {
	// ModelFile is the ONNX file name searched in DataDirs.
	ModelFile string
	DataDirs  []string
	Options   BuildOptions
	// Int8Range is the symmetric range used for every tensor when INT8 is set
	// and Options carries no dynamic ranges.
	Int8Range float32
	// CalibrationFile, when set, supplies int8 ranges; tensors it omits fall
	// back to Int8Range.
	CalibrationFile string
	// TimingCacheFile, when set, seeds the build and receives the updated cache.
	TimingCacheFile string
	// SaveEngine, when set, receives the serialized engine.
	SaveEngine string
	Backend    Backend
	Logger     *slog.Logger
	Profiler   *profiler.Profiler
}

// State returns StateBuilding.
func (p *FromModel) State() State { return StateBuilding }

// Provision parses, builds, optionally saves, and loads the engine.
func (p *FromModel) Provision(ctx context.Context) (Model, error) {
	log := logger(p.Logger)

	path, err := util.LocateFile(p.ModelFile, p.DataDirs)
	if err != nil {
		return nil, err
	}

	stop := p.Profiler.StartOperation("parse")
	graph, err := p.Backend.ParseModel(ctx, path)
	stop()
	if err != nil {
		return nil, common.Wrapf(common.ErrBuild, err, "parse %s", path)
	}
	if err := checkGraph(graph); err != nil {
		return nil, err
	}
	log.Info("parsed model", "path", path, "producer", graph.Producer, "opset", graph.Opset,
		"input", graph.Inputs[0].Name, "output", graph.Outputs[0].Name)

	opts := p.Options
	if opts.INT8 && len(opts.DynamicRanges) == 0 {
		ranges, err := p.dynamicRanges(graph, log)
		if err != nil {
			return nil, err
		}
		opts.DynamicRanges = ranges
	}
	if p.TimingCacheFile != "" {
		opts.UseTimingCache = true
		opts.TimingCache = p.readTimingCache(log)
	}

	log.Info("building engine", "backend", p.Backend.Name(), "precisions", opts.Precisions(), "dla_core", opts.DLACore)
	stop = p.Profiler.StartOperation("build")
	res, err := p.Backend.BuildEngine(ctx, graph, opts)
	stop()
	if err != nil {
		return nil, common.Wrapf(common.ErrBuild, err, "build %s", path)
	}
	if len(res.Engine) == 0 {
		return nil, common.Errorf(common.ErrBuild, "build %s produced an empty engine", path)
	}

	if p.TimingCacheFile != "" && len(res.TimingCache) > 0 {
		if err := util.WriteFile(p.TimingCacheFile, res.TimingCache); err != nil {
			log.Warn("could not persist timing cache", "path", p.TimingCacheFile, "error", err)
		} else {
			log.Info("saved timing cache", "path", p.TimingCacheFile, "bytes", len(res.TimingCache))
		}
	}
	if p.SaveEngine != "" {
		if err := util.WriteFile(p.SaveEngine, res.Engine); err != nil {
			log.Warn("could not save engine, continuing with the in-memory engine", "path", p.SaveEngine, "error", err)
		} else {
			log.Info("saved engine", "path", p.SaveEngine, "bytes", len(res.Engine))
		}
	}

	model, err := loadEngine(ctx, p.Backend, res.Engine, DeviceHint{DLACore: opts.DLACore}, p.Profiler)
	if err != nil {
		return nil, err
	}
	if err := checkIO(model); err != nil {
		model.Close()
		return nil, err
	}
	if err := matchGraph(model, graph); err != nil {
		model.Close()
		return nil, err
	}
	return model, nil
}

// dynamicRanges reads the calibration table when one is configured and
// fills every tensor it lacks with the symmetric fallback range.
func (p *FromModel) dynamicRanges(graph *onnx.Graph, log *slog.Logger) (map[string]float32, error) {
	r := p.Int8Range
	if !(r > 0) {
		r = config.DefaultInt8Range
	}
	tensors := graph.Tensors()
	ranges := onnx.SymmetricRanges(tensors, r)
	if p.CalibrationFile == "" {
		log.Info("no calibration data, using a symmetric dynamic range", "range", r, "tensors", len(ranges))
		return ranges, nil
	}

	data, err := util.ReadFile(p.CalibrationFile)
	if err != nil {
		return nil, err
	}
	table, err := onnx.ReadCalibrationTable(bytes.NewReader(data))
	if err != nil {
		return nil, common.Wrapf(common.ErrIO, err, "calibration table %s", p.CalibrationFile)
	}
	calibrated := 0
	for _, name := range tensors {
		if v, ok := table[name]; ok && v > 0 {
			ranges[name] = v
			calibrated++
		}
	}
	log.Info("loaded calibration table", "path", p.CalibrationFile, "calibrated", calibrated,
		"fallback", len(tensors)-calibrated, "range", r)
	return ranges, nil
}

func (p *FromModel) readTimingCache(log *slog.Logger) []byte {
	data, err := os.ReadFile(p.TimingCacheFile)
	switch {
	case err == nil:
		log.Info("loaded timing cache", "path", p.TimingCacheFile, "bytes", len(data))
		return data
	case os.IsNotExist(err):
		log.Info("no timing cache yet, starting empty", "path", p.TimingCacheFile)
	default:
		log.Warn("could not read timing cache, starting empty", "path", p.TimingCacheFile, "error", err)
	}
	return nil
}

func loadEngine(ctx context.Context, backend Backend, data []byte, hint DeviceHint, prof *profiler.Profiler) (Model, error) {
	stop := prof.StartOperation("load")
	model, err := backend.LoadEngine(ctx, data, hint)
	stop()
	if err != nil {
		return nil, common.Wrapf(common.ErrDeserialization, err, "load engine")
	}
	return model, nil
}

// checkIO enforces the single input, single output contract.
func checkIO(model Model) error {
	in, out := model.Inputs(), model.Outputs()
	if len(in) != 1 || len(out) != 1 {
		return common.Errorf(common.ErrShape, "model has %d inputs and %d outputs, want 1 and 1", len(in), len(out))
	}
	if len(in[0].Shape) != InputRank {
		return common.Errorf(common.ErrShape, "input %s has rank %d, want %d", in[0].Name, len(in[0].Shape), InputRank)
	}
	if len(out[0].Shape) != OutputRank {
		return common.Errorf(common.ErrShape, "output %s has rank %d, want %d", out[0].Name, len(out[0].Shape), OutputRank)
	}
	return nil
}

func checkGraph(graph *onnx.Graph) error {
	if len(graph.Inputs) != 1 || len(graph.Outputs) != 1 {
		return common.Errorf(common.ErrShape, "graph has %d inputs and %d outputs, want 1 and 1",
			len(graph.Inputs), len(graph.Outputs))
	}
	return nil
}

// matchGraph checks that the built engine declares what the parser observed.
func matchGraph(model Model, graph *onnx.Graph) error {
	pairs := []struct {
		got  TensorInfo
		want onnx.ValueInfo
	}{
		{model.Inputs()[0], graph.Inputs[0]},
		{model.Outputs()[0], graph.Outputs[0]},
	}
	for _, p := range pairs {
		if p.got.Name != p.want.Name || !slices.Equal(p.got.Shape, p.want.Shape) {
			return common.Errorf(common.ErrShape, "engine declares %s%v, model declares %s%v",
				p.got.Name, p.got.Shape, p.want.Name, p.want.Shape)
		}
	}
	return nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
