// Command onnxmnist classifies one handwritten digit with an ONNX MNIST model.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/nvr-ai/onnx-mnist/config"
	"github.com/nvr-ai/onnx-mnist/controller"
	"github.com/nvr-ai/onnx-mnist/profiler"
	"github.com/nvr-ai/onnx-mnist/report"
)

// testName is printed on every &&&& status line.
const testName = "onnx_mnist"

var newBackend = controller.NewBackend

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the program and returns the exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Parse(args[1:])
	if cfg.Help && err == nil {
		config.Usage(stdout)
		return 0
	}
	logger := newLogger(stderr, cfg.Verbose)
	if err != nil {
		logger.Error("invalid arguments", "error", err)
		config.Usage(stdout)
		return 1
	}
	if cfg.File != "" {
		logger.Info("loaded config file", "path", cfg.File)
	}

	rep := report.New(stdout, testName, args)
	backend, err := newBackend(cfg, logger)
	if err != nil {
		rep.Start()
		logger.Error("backend", "error", err)
		rep.Finish(false)
		return 1
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("close backend", "error", err)
		}
	}()

	prof := profiler.New()
	c, err := controller.New(cfg, backend, rep, logger, prof)
	if err != nil {
		rep.Start()
		logger.Error("controller", "error", err)
		rep.Finish(false)
		return 1
	}

	res, err := c.Run(context.Background())
	if cfg.Verbose {
		prof.Report(stderr)
	}
	if err != nil || !res.Passed {
		return 1
	}
	return 0
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
