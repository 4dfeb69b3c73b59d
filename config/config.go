// Package config - Run parameters resolved from the command line and an optional YAML file.
package config

import (
	"os"
	"strings"

	"github.com/nvr-ai/onnx-mnist/common"
	"gopkg.in/yaml.v3"
)

// Backend names the runtime that parses, compiles and executes the model.
type Backend string

const (
	// BackendTensorRT compiles the model with the ONNX Runtime TensorRT execution provider.
	BackendTensorRT Backend = "tensorrt"
	// BackendCUDA runs the model with the ONNX Runtime CUDA execution provider.
	BackendCUDA Backend = "cuda"
	// BackendCPU runs the model with the default ONNX Runtime CPU execution provider.
	BackendCPU Backend = "cpu"
	// BackendGorgonnx runs the model with the pure Go gorgonia interpreter.
	BackendGorgonnx Backend = "gorgonnx"
)

// Backends lists every supported backend.
var Backends = []Backend{BackendTensorRT, BackendCUDA, BackendCPU, BackendGorgonnx}

const (
	// DefaultModelFile is the classifier looked up in the data directories.
	DefaultModelFile = "mnist.onnx"
	// DefaultInt8Range is the symmetric dynamic range applied to every tensor
	// when int8 is requested without calibration data.
	DefaultInt8Range float32 = 127
	// NoDLACore selects the GPU instead of a DLA core.
	NoDLACore = -1
	// RandomDigit picks the sample digit at random.
	RandomDigit = -1
)

// DefaultDataDirs are searched, in order, when no --datadir is given.
var DefaultDataDirs = []string{"data/mnist/", "data/samples/mnist/"}

// Config holds the resolved run parameters. It is built once by Parse and
// treated as read-only afterwards.
type Config struct {
	// DataDirs are searched in order for the model and the digit samples.
	DataDirs []string `json:"data_dirs" yaml:"data_dirs"`
	// ModelFile is the ONNX file name resolved against DataDirs.
	ModelFile string `json:"model_file" yaml:"model_file"`
	// Backend selects the inference runtime.
	Backend Backend `json:"backend" yaml:"backend"`
	// Device is the GPU ordinal used by the GPU backends.
	Device int `json:"device" yaml:"device"`
	// DLACore is the DLA core to bind, or NoDLACore for the GPU.
	DLACore int `json:"dla_core" yaml:"dla_core"`
	// FP16 allows half precision kernels.
	FP16 bool `json:"fp16" yaml:"fp16"`
	// BF16 allows bfloat16 kernels.
	BF16 bool `json:"bf16" yaml:"bf16"`
	// INT8 allows int8 kernels.
	INT8 bool `json:"int8" yaml:"int8"`
	// Int8Range is the symmetric dynamic range used for every tensor in int8 mode.
	Int8Range float32 `json:"int8_range" yaml:"int8_range"`
	// CalibrationFile holds per-tensor int8 ranges in the calibration table format.
	CalibrationFile string `json:"calibration_file" yaml:"calibration_file"`
	// TimingCacheFile is loaded before a build and rewritten after it.
	TimingCacheFile string `json:"timing_cache_file" yaml:"timing_cache_file"`
	// SaveEngine receives the compiled engine after a build.
	SaveEngine string `json:"save_engine" yaml:"save_engine"`
	// LoadEngine skips the build and deserializes this engine file instead.
	LoadEngine string `json:"load_engine" yaml:"load_engine"`
	// LibraryPath points at the onnxruntime shared library.
	LibraryPath string `json:"ort_library" yaml:"ort_library"`
	// Digit is the sample to classify, or RandomDigit.
	Digit int `json:"digit" yaml:"digit"`
	// Seed feeds the random digit choice; zero seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed"`
	// Verbose enables debug logging.
	Verbose bool `json:"verbose" yaml:"verbose"`
	// File is the YAML file the values were read from, if any.
	File string `json:"-" yaml:"-"`
	// Help requests the usage text.
	Help bool `json:"-" yaml:"-"`
}

// Default returns the configuration used when no flag is given.
func Default() Config {
	return Config{
		DataDirs:  append([]string(nil), DefaultDataDirs...),
		ModelFile: DefaultModelFile,
		Backend:   BackendTensorRT,
		DLACore:   NoDLACore,
		Int8Range: DefaultInt8Range,
		Digit:     RandomDigit,
	}
}

// Load reads a YAML file over the defaults.
//
// Arguments:
//   - path: The YAML file.
//
// Returns:
//   - Config: Defaults overridden by the keys present in the file.
//   - error: ErrNotFound when the file is missing, ErrArgument when it does not decode.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, common.Wrapf(common.ErrNotFound, err, "config file")
		}
		return cfg, common.Wrapf(common.ErrIO, err, "config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, common.Wrapf(common.ErrArgument, err, "decode config file %s", path)
	}
	cfg.Backend = Backend(strings.ToLower(string(cfg.Backend)))
	cfg.File = path
	return cfg, nil
}

// Validate reports the first inconsistent parameter as an ErrArgument.
func (c Config) Validate() error {
	if c.Help {
		return nil
	}
	if !c.Backend.Valid() {
		return common.Errorf(common.ErrArgument, "unknown backend %q (want one of %s)", c.Backend, joinBackends())
	}
	if len(c.DataDirs) == 0 && c.LoadEngine == "" {
		return common.Errorf(common.ErrArgument, "at least one data directory is required")
	}
	if c.ModelFile == "" && c.LoadEngine == "" {
		return common.Errorf(common.ErrArgument, "model file name is empty")
	}
	if c.DLACore < NoDLACore {
		return common.Errorf(common.ErrArgument, "useDLACore must be %d or a core index, got %d", NoDLACore, c.DLACore)
	}
	if c.Device < 0 {
		return common.Errorf(common.ErrArgument, "device must not be negative, got %d", c.Device)
	}
	if c.Digit < RandomDigit || c.Digit > 9 {
		return common.Errorf(common.ErrArgument, "digit must be between 0 and 9 or %d, got %d", RandomDigit, c.Digit)
	}
	if c.INT8 && !(c.Int8Range > 0) {
		return common.Errorf(common.ErrArgument, "int8 range must be positive, got %v", c.Int8Range)
	}
	return nil
}

// Valid reports whether b names a supported backend.
func (b Backend) Valid() bool {
	for _, known := range Backends {
		if b == known {
			return true
		}
	}
	return false
}

func joinBackends() string {
	names := make([]string, len(Backends))
	for i, b := range Backends {
		names[i] = string(b)
	}
	return strings.Join(names, ", ")
}
