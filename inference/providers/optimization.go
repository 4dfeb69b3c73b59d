package providers

import (
	"github.com/nvr-ai/onnx-mnist/device"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// OptimizationConfig contains the ONNX Runtime session settings shared by
// every provider.
type OptimizationConfig struct {
	// GraphOptimizationLevel controls the level of graph optimization.
	GraphOptimizationLevel ort.GraphOptimizationLevel `json:"graph_optimization_level"`

	// ExecutionMode controls sequential vs parallel execution.
	ExecutionMode ort.ExecutionMode `json:"execution_mode"`

	// IntraOpNumThreads sets threads for parallelizing ops; 0 lets the runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads"`

	// InterOpNumThreads sets threads for parallelizing independent ops.
	InterOpNumThreads int `json:"inter_op_num_threads"`
}

// DefaultOptimizationConfig returns full graph optimization with one
// intra-op thread per physical core of host.
func DefaultOptimizationConfig(host device.Host) OptimizationConfig {
	return OptimizationConfig{
		GraphOptimizationLevel: ort.GraphOptimizationLevelEnableAll,
		ExecutionMode:          ort.ExecutionModeSequential,
		IntraOpNumThreads:      host.Threads(),
		InterOpNumThreads:      1,
	}
}

// OptimizedSessionOptions creates session options with the optimization
// settings applied and the provider appended.
//
// Arguments:
//   - config: Optimization configuration to apply.
//   - provider: The execution provider to register.
//
// Returns:
//   - *ort.SessionOptions: Configured session options; the caller destroys them.
//   - error: Configuration error if any.
func OptimizedSessionOptions(config OptimizationConfig, provider ExecutionProvider) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"graph optimization level", func() error { return options.SetGraphOptimizationLevel(config.GraphOptimizationLevel) }},
		{"execution mode", func() error { return options.SetExecutionMode(config.ExecutionMode) }},
		{"intra-op threads", func() error { return options.SetIntraOpNumThreads(config.IntraOpNumThreads) }},
		{"inter-op threads", func() error { return options.SetInterOpNumThreads(config.InterOpNumThreads) }},
		{string(provider.Backend()) + " provider", func() error { return provider.Apply(options) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			options.Destroy()
			return nil, errors.Wrapf(err, "set %s", step.name)
		}
	}
	return options, nil
}
