package providers

import (
	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CPUProviderBackend uses the default ONNX Runtime CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// CPUOptions contains arguments for the CPU provider.
type CPUOptions struct{}

func (CPUOptions) isProviderOptions() {}

// CPUProvider represents the CPU execution provider.
type CPUProvider struct {
	options CPUOptions
}

// NewCPUProvider creates a new CPU provider.
func NewCPUProvider(args CPUOptions) *CPUProvider {
	return &CPUProvider{options: args}
}

// Backend returns the backend of the CPU provider.
func (p *CPUProvider) Backend() ProviderBackend {
	return CPUProviderBackend
}

// Options returns the options of the CPU provider.
func (p *CPUProvider) Options() ProviderOptions {
	return p.options
}

// Apply appends nothing; the CPU provider is always registered.
func (p *CPUProvider) Apply(*ort.SessionOptions) error {
	return nil
}
