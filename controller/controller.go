// Package controller - Drives one classification run from configuration to verdict.
package controller

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/nvr-ai/onnx-mnist/config"
	"github.com/nvr-ai/onnx-mnist/device"
	"github.com/nvr-ai/onnx-mnist/inference"
	"github.com/nvr-ai/onnx-mnist/inference/gorgonnx"
	"github.com/nvr-ai/onnx-mnist/inference/providers"
	"github.com/nvr-ai/onnx-mnist/models"
	"github.com/nvr-ai/onnx-mnist/models/mnist"
	"github.com/nvr-ai/onnx-mnist/models/model"
	"github.com/nvr-ai/onnx-mnist/models/postprocess"
	"github.com/nvr-ai/onnx-mnist/profiler"
	"github.com/nvr-ai/onnx-mnist/report"
	ort "github.com/yalue/onnxruntime_go"
)

// Controller runs the classifier once against a single digit sample.
type Controller struct {
	Config     config.Config
	Backend    inference.Backend
	Classifier model.Model
	Reporter   *report.Reporter
	Logger     *slog.Logger
	Profiler   *profiler.Profiler
	// Rand picks the digit when Config.Digit is config.RandomDigit.
	Rand *rand.Rand

	tracker *inference.Tracker
}

// New creates a controller for cfg. Rand is seeded from cfg.Seed, or from the
// clock when the seed is zero.
//
// Arguments:
//   - cfg: The resolved run parameters.
//   - backend: The runtime used to build, load and execute the engine.
//   - reporter: Destination of the human readable report.
//   - logger: Destination of progress logs.
//   - prof: Optional phase profiler.
//
// Returns:
//   - *Controller: The controller.
//   - error: ErrArgument when the classifier cannot be created.
func New(cfg config.Config, backend inference.Backend, reporter *report.Reporter, logger *slog.Logger, prof *profiler.Profiler) (*Controller, error) {
	if logger == nil {
		logger = slog.Default()
	}
	classifier, err := models.NewModel(model.NewModelArgs{Name: model.ModelNameMNIST, Path: cfg.ModelFile})
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{
		Config:     cfg,
		Backend:    backend,
		Classifier: classifier,
		Reporter:   reporter,
		Logger:     logger,
		Profiler:   prof,
		Rand:       rand.New(rand.NewSource(seed)),
		tracker:    inference.NewTracker(logger),
	}, nil
}

// State returns the current run state.
func (c *Controller) State() inference.State {
	return c.tracker.State()
}

// History returns every state the run went through.
func (c *Controller) History() []inference.State {
	return c.tracker.History()
}

// Run provisions the engine, classifies one sample and verifies the answer.
// A wrong or unconfident answer is not an error: it is returned with Passed
// unset and the run ends in StateFail.
//
// Arguments:
//   - ctx: The context passed to the backend.
//
// Returns:
//   - postprocess.Result: The verdict.
//   - error: The first failure, tagged with its common kind.
func (c *Controller) Run(ctx context.Context) (res postprocess.Result, err error) {
	if c.Reporter != nil {
		c.Reporter.Start()
	}
	defer func() {
		if err != nil {
			c.tracker.Fail(err)
			c.Logger.Error("run failed", "state", c.tracker.State().String(), "error", err)
		}
		if c.Reporter != nil {
			c.Reporter.Finish(err == nil && res.Passed)
		}
	}()

	prov := inference.NewProvisioner(c.Config, c.Backend, c.Logger, c.Profiler)
	if err := c.tracker.To(prov.State()); err != nil {
		return res, err
	}
	m, err := prov.Provision(ctx)
	if err != nil {
		return res, err
	}
	runner := inference.NewRunner(m, c.Logger, c.Profiler)
	defer runner.Close()
	if err := c.checkModel(m); err != nil {
		return res, err
	}
	if err := c.tracker.To(inference.StateReady); err != nil {
		return res, err
	}

	sample, err := c.loadSample()
	if err != nil {
		return res, err
	}
	if c.Reporter != nil {
		c.Reporter.Input(sample.Label, sample.Pixels, mnist.Width)
	}

	input, err := c.Classifier.PreProcess(sample.Image())
	if err != nil {
		return res, err
	}

	if err := c.tracker.To(inference.StateExecuting); err != nil {
		return res, err
	}
	raw, err := runner.RunOnce(ctx, input)
	if err != nil {
		return res, err
	}

	if err := c.tracker.To(inference.StateVerifying); err != nil {
		return res, err
	}
	res, err = c.Classifier.PostProcess(raw, sample.Label)
	if err != nil {
		return res, err
	}
	if c.Reporter != nil {
		c.Reporter.Output(res)
	}

	verdict := inference.StateFail
	if res.Passed {
		verdict = inference.StatePass
	}
	if err := c.tracker.To(verdict); err != nil {
		return res, err
	}
	c.Logger.Info("classified", "digit", sample.Label, "predicted", res.Predicted,
		"confidence", res.Confidence, "passed", res.Passed)
	return res, nil
}

// checkModel compares the engine's tensors with what the classifier expects.
// Names may differ between exports; element counts may not.
func (c *Controller) checkModel(m inference.Model) error {
	opts := c.Classifier.Options()
	pairs := []struct {
		kind string
		got  []inference.TensorInfo
		want []model.Tensor
	}{
		{"input", m.Inputs(), opts.Inputs},
		{"output", m.Outputs(), opts.Outputs},
	}
	for _, p := range pairs {
		if len(p.got) != len(p.want) {
			return common.Errorf(common.ErrShape, "engine has %d %ss, %s expects %d", len(p.got), p.kind, opts.Name, len(p.want))
		}
		for i, want := range p.want {
			w := inference.TensorInfo{Name: want.Name, Shape: want.Shape}
			if p.got[i].Elements() != w.Elements() {
				return common.Errorf(common.ErrShape, "engine %s %s%v holds %d elements, %s expects %s%v",
					p.kind, p.got[i].Name, p.got[i].Shape, p.got[i].Elements(), opts.Name, want.Name, want.Shape)
			}
			if p.got[i].Name != want.Name {
				c.Logger.Debug("tensor name differs", "kind", p.kind, "engine", p.got[i].Name, "model", want.Name)
			}
		}
	}
	return nil
}

func (c *Controller) loadSample() (mnist.Sample, error) {
	digit := c.Config.Digit
	if digit == config.RandomDigit {
		digit = mnist.PickDigit(c.Rand)
	}
	sample, err := mnist.LoadSample(digit, c.Config.DataDirs)
	if err != nil {
		return sample, err
	}
	c.Logger.Debug("loaded sample", "digit", digit, "path", sample.Path)
	return sample, nil
}

// NewBackend creates the inference backend named by cfg.Backend.
//
// Arguments:
//   - cfg: The resolved run parameters.
//   - logger: Destination of backend warnings.
//
// Returns:
//   - inference.Backend: The backend; the caller closes it.
//   - error: ErrArgument for an unknown backend.
func NewBackend(cfg config.Config, logger *slog.Logger) (inference.Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case config.BackendGorgonnx:
		return gorgonnx.NewBackend(logger), nil
	case config.BackendTensorRT, config.BackendCUDA, config.BackendCPU:
	default:
		return nil, common.Errorf(common.ErrArgument, "unknown backend %q", cfg.Backend)
	}

	host := device.ProbeHost()
	logger.Debug("host", "cpu", host.String())

	opts := providers.BackendOptions{
		Provider:     providers.ProviderBackend(cfg.Backend),
		LibraryPath:  cfg.LibraryPath,
		DeviceID:     cfg.Device,
		LogLevel:     ort.LoggingLevelWarning,
		Optimization: providers.DefaultOptimizationConfig(host),
		Logger:       logger,
	}
	if cfg.Verbose {
		opts.LogLevel = ort.LoggingLevelInfo
	}
	if cfg.Backend != config.BackendCPU {
		if gpu, err := device.ProbeGPU(cfg.Device); err != nil {
			logger.Debug("no GPU details", "device", cfg.Device, "error", err)
		} else {
			logger.Info("using GPU", "gpu", gpu.String())
			opts.ComputeCapability = gpu.ComputeCapability()
		}
	}
	return providers.NewBackend(opts)
}
