// Package inference - The runner copies one prepared sample through a model.
package inference

import (
	"context"
	"log/slog"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/profiler"
)

// Runner executes one sample through a provisioned model.
type Runner struct {
	model    Model
	logger   *slog.Logger
	profiler *profiler.Profiler
}

// NewRunner creates a runner that owns model until Close.
func NewRunner(model Model, logger *slog.Logger, prof *profiler.Profiler) *Runner {
	return &Runner{model: model, logger: logger, profiler: prof}
}

// Model returns the model the runner executes.
func (r *Runner) Model() Model {
	return r.model
}

// RunOnce copies a prepared sample into the input tensor, runs one
// synchronous forward pass and returns the output tensor.
//
// Arguments:
//   - ctx: The context passed to the model.
//   - input: The preprocessed input, one value per input tensor element.
//
// Returns:
//   - []float32: The raw output, one element per output tensor element.
//   - error: ErrShape when the sample or model do not fit, ErrExecution when
//     allocation, transfer or execution fails.
func (r *Runner) RunOnce(ctx context.Context, input []float32) ([]float32, error) {
	inputs, outputs := r.model.Inputs(), r.model.Outputs()
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, common.Errorf(common.ErrShape, "model has %d inputs and %d outputs, want 1 and 1", len(inputs), len(outputs))
	}
	if n := inputs[0].Elements(); n != len(input) {
		return nil, common.Errorf(common.ErrShape, "input %s holds %d elements, sample has %d", inputs[0].Name, n, len(input))
	}

	hostOut := make([]float32, outputs[0].Elements())

	inBuf, err := r.model.Allocate(inputs[0])
	if err != nil {
		return nil, common.Wrapf(common.ErrExecution, err, "allocate %s", inputs[0].Name)
	}
	defer inBuf.Close()

	outBuf, err := r.model.Allocate(outputs[0])
	if err != nil {
		return nil, common.Wrapf(common.ErrExecution, err, "allocate %s", outputs[0].Name)
	}
	defer outBuf.Close()

	if err := inBuf.CopyFromHost(input); err != nil {
		return nil, common.Wrapf(common.ErrExecution, err, "copy %s to device", inputs[0].Name)
	}

	stop := r.profiler.StartOperation("execute")
	err = r.model.Execute(ctx, []DeviceBuffer{inBuf}, []DeviceBuffer{outBuf})
	stop()
	if err != nil {
		return nil, common.WithKind(common.ErrExecution, err)
	}

	if err := outBuf.CopyToHost(hostOut); err != nil {
		return nil, common.Wrapf(common.ErrExecution, err, "copy %s to host", outputs[0].Name)
	}
	logger(r.logger).Debug("executed", "input", inputs[0].Name, "output", outputs[0].Name, "elements", len(hostOut))
	return hostOut, nil
}

// Close releases the model.
func (r *Runner) Close() error {
	return r.model.Close()
}
