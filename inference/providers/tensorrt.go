package providers

import (
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// TensorRTProviderBackend compiles the graph with NVIDIA TensorRT.
	TensorRTProviderBackend ProviderBackend = "tensorrt"
)

// TensorRTOptions contains arguments for the TensorRT provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/TensorRT-ExecutionProvider.html#configurations
type TensorRTOptions struct {
	// The device ID.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// Maximum workspace size in bytes for TensorRT engine building; 0 keeps the default.
	MaxWorkspaceSize int64 `json:"max_workspace_size" yaml:"max_workspace_size"`
	// Allow half precision kernels.
	FP16 bool `json:"fp16" yaml:"fp16"`
	// Allow bfloat16 kernels.
	BF16 bool `json:"bf16" yaml:"bf16"`
	// Allow int8 kernels. Needs a calibration table for non-QDQ models.
	INT8 bool `json:"int8" yaml:"int8"`
	// Calibration table file name, relative to EngineCachePath.
	Int8CalibrationTable string `json:"int8_calibration_table" yaml:"int8_calibration_table"`
	// Whether the calibration table uses the native TensorRT format.
	Int8UseNativeTable bool `json:"int8_use_native_table" yaml:"int8_use_native_table"`
	// DLA core to run on; negative leaves DLA disabled.
	DLACore int `json:"dla_core" yaml:"dla_core"`
	// Directory for engine and calibration files; enables the engine cache when set.
	EngineCachePath string `json:"engine_cache_path" yaml:"engine_cache_path"`
	// Directory holding the timing cache; enables it when set.
	TimingCachePath string `json:"timing_cache_path" yaml:"timing_cache_path"`
	// File receiving the EP context model that embeds the compiled engine.
	ContextFilePath string `json:"context_file_path" yaml:"context_file_path"`
}

// ToMap converts the options to the provider's key/value configuration.
// Options left at their zero value are omitted.
func (o TensorRTOptions) ToMap() map[string]string {
	m := map[string]string{
		"device_id": strconv.Itoa(o.DeviceID),
	}
	if o.MaxWorkspaceSize > 0 {
		m["trt_max_workspace_size"] = strconv.FormatInt(o.MaxWorkspaceSize, 10)
	}
	if o.FP16 {
		m["trt_fp16_enable"] = boolString(true)
	}
	if o.BF16 {
		m["trt_bf16_enable"] = boolString(true)
	}
	if o.INT8 {
		m["trt_int8_enable"] = boolString(true)
		if o.Int8CalibrationTable != "" {
			m["trt_int8_calibration_table_name"] = o.Int8CalibrationTable
			m["trt_int8_use_native_calibration_table"] = boolString(o.Int8UseNativeTable)
		}
	}
	if o.DLACore >= 0 {
		m["trt_dla_enable"] = boolString(true)
		m["trt_dla_core"] = strconv.Itoa(o.DLACore)
	}
	if o.EngineCachePath != "" {
		m["trt_engine_cache_enable"] = boolString(true)
		m["trt_engine_cache_path"] = o.EngineCachePath
	}
	if o.TimingCachePath != "" {
		m["trt_timing_cache_enable"] = boolString(true)
		m["trt_timing_cache_path"] = o.TimingCachePath
	}
	if o.ContextFilePath != "" {
		m["trt_dump_ep_context_model"] = boolString(true)
		m["trt_ep_context_file_path"] = o.ContextFilePath
		m["trt_ep_context_embed_mode"] = boolString(true)
	}
	return m
}

// ToNativeProviderOptions converts the options to native TensorRT provider options.
// The caller destroys the result.
func (o TensorRTOptions) ToNativeProviderOptions() (*ort.TensorRTProviderOptions, error) {
	opts, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create TensorRT provider options")
	}
	if err := opts.Update(o.ToMap()); err != nil {
		opts.Destroy()
		return nil, errors.Wrap(err, "update TensorRT provider options")
	}
	return opts, nil
}

// isProviderOptions is a marker function to ensure the options are valid.
func (TensorRTOptions) isProviderOptions() {}

// TensorRTProvider implements the ExecutionProvider interface.
type TensorRTProvider struct {
	options TensorRTOptions
}

// NewTensorRTProvider creates a new TensorRT provider.
func NewTensorRTProvider(args TensorRTOptions) *TensorRTProvider {
	return &TensorRTProvider{options: args}
}

// Backend returns the backend of the TensorRT provider.
func (p *TensorRTProvider) Backend() ProviderBackend {
	return TensorRTProviderBackend
}

// Options returns the options of the TensorRT provider.
func (p *TensorRTProvider) Options() ProviderOptions {
	return p.options
}

// Apply appends TensorRT, with CUDA behind it for nodes TensorRT rejects.
func (p *TensorRTProvider) Apply(options *ort.SessionOptions) error {
	trt, err := p.options.ToNativeProviderOptions()
	if err != nil {
		return err
	}
	defer trt.Destroy()
	if err := options.AppendExecutionProviderTensorRT(trt); err != nil {
		return errors.Wrap(err, "enable TensorRT")
	}
	return NewCUDAProvider(CUDAOptions{DeviceID: p.options.DeviceID}).Apply(options)
}
