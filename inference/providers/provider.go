// Package providers - ONNX Runtime execution providers and the engine backend built on them.
package providers

import (
	"github.com/nvr-ai/onnx-mnist/common"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	// Backend names the provider.
	Backend() ProviderBackend
	// Options returns the provider configuration.
	Options() ProviderOptions
	// Apply appends the provider to the session options. Providers append
	// nothing when the default CPU provider is wanted.
	Apply(options *ort.SessionOptions) error
}

// NewProvider creates a new provider based on the type of its options.
//
// Arguments:
//   - options: The options for the provider.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: ErrArgument for an unknown options type.
func NewProvider(options ProviderOptions) (ExecutionProvider, error) {
	switch opts := options.(type) {
	case TensorRTOptions:
		return NewTensorRTProvider(opts), nil
	case CUDAOptions:
		return NewCUDAProvider(opts), nil
	case CPUOptions:
		return NewCPUProvider(opts), nil
	default:
		return nil, common.Errorf(common.ErrArgument, "unsupported provider options type: %T", opts)
	}
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
