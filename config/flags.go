package config

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/nvr-ai/onnx-mnist/common"
)

// dirList is a repeatable flag. The first occurrence on the command line
// replaces the inherited directories instead of appending to them.
type dirList struct {
	dirs *[]string
	set  bool
}

func (d *dirList) String() string {
	if d.dirs == nil {
		return ""
	}
	return strings.Join(*d.dirs, ",")
}

func (d *dirList) Set(value string) error {
	if value == "" {
		return fmt.Errorf("empty directory")
	}
	if !d.set {
		*d.dirs = nil
		d.set = true
	}
	*d.dirs = append(*d.dirs, value)
	return nil
}

type backendValue struct{ b *Backend }

func (v backendValue) String() string {
	if v.b == nil {
		return ""
	}
	return string(*v.b)
}

func (v backendValue) Set(value string) error {
	*v.b = Backend(strings.ToLower(value))
	return nil
}

func newFlagSet(name string, cfg *Config) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	dirs := &dirList{dirs: &cfg.DataDirs}
	fs.Var(dirs, "d", "")
	fs.Var(dirs, "datadir", "")
	fs.BoolVar(&cfg.Help, "h", false, "")
	fs.BoolVar(&cfg.Help, "help", false, "")
	fs.IntVar(&cfg.DLACore, "useDLACore", cfg.DLACore, "")
	fs.BoolVar(&cfg.INT8, "int8", cfg.INT8, "")
	fs.BoolVar(&cfg.FP16, "fp16", cfg.FP16, "")
	fs.BoolVar(&cfg.BF16, "bf16", cfg.BF16, "")
	fs.StringVar(&cfg.CalibrationFile, "calibrationFile", cfg.CalibrationFile, "")
	fs.StringVar(&cfg.TimingCacheFile, "timingCacheFile", cfg.TimingCacheFile, "")
	fs.StringVar(&cfg.TimingCacheFile, "t", cfg.TimingCacheFile, "")
	fs.StringVar(&cfg.SaveEngine, "saveEngine", cfg.SaveEngine, "")
	fs.StringVar(&cfg.LoadEngine, "loadEngine", cfg.LoadEngine, "")
	fs.StringVar(&cfg.ModelFile, "model", cfg.ModelFile, "")
	fs.Var(backendValue{&cfg.Backend}, "backend", "")
	fs.IntVar(&cfg.Device, "device", cfg.Device, "")
	fs.StringVar(&cfg.LibraryPath, "ortLib", cfg.LibraryPath, "")
	fs.IntVar(&cfg.Digit, "digit", cfg.Digit, "")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "")
	fs.StringVar(&cfg.File, "config", cfg.File, "")
	return fs
}

// Parse resolves the command line into a Config. When --config names a YAML
// file, the file is read first and the flags given on the command line are
// applied on top of it.
//
// Arguments:
//   - args: Command line arguments without the program name.
//
// Returns:
//   - Config: The resolved configuration.
//   - error: An ErrArgument for malformed or inconsistent input, or the
//     error of loading the YAML file.
func Parse(args []string) (Config, error) {
	cfg := Default()
	fs := newFlagSet("onnxmnist", &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, common.Wrapf(common.ErrArgument, err, "parse arguments")
	}
	if fs.NArg() > 0 {
		return cfg, common.Errorf(common.ErrArgument, "unexpected argument %q", fs.Arg(0))
	}

	if cfg.File != "" && !cfg.Help {
		fromFile, err := Load(cfg.File)
		if err != nil {
			return cfg, err
		}
		// Second pass: the command line wins over the file.
		if err := newFlagSet("onnxmnist", &fromFile).Parse(args); err != nil {
			return cfg, common.Wrapf(common.ErrArgument, err, "parse arguments")
		}
		cfg = fromFile
	}

	return cfg, cfg.Validate()
}

// Usage writes the help text.
func Usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: onnxmnist [-h or --help] [-d or --datadir=<path to data directory>] [--useDLACore=<int>] "+
		"[-t or --timingCacheFile=<path to timing cache file>]")
	fmt.Fprintln(w, "--help             Display help information")
	fmt.Fprintln(w, "--datadir          Specify path to a data directory, overriding the default. This option can be used "+
		"multiple times to add multiple directories. If no data directories are given, the default is to use "+
		"("+strings.Join(DefaultDataDirs, ", ")+")")
	fmt.Fprintln(w, "--useDLACore=N     Specify a DLA engine for layers that support DLA. Value can range from 0 to n-1, "+
		"where n is the number of DLA engines on the platform.")
	fmt.Fprintln(w, "--int8             Run in Int8 mode.")
	fmt.Fprintln(w, "--fp16             Run in FP16 mode.")
	fmt.Fprintln(w, "--bf16             Run in BF16 mode.")
	fmt.Fprintln(w, "--calibrationFile  Int8 calibration table with per-tensor ranges. Tensors it does not list use "+
		"a symmetric range of 127.")
	fmt.Fprintln(w, "--timingCacheFile  Specify path to a timing cache file. If it does not already exist, it will be created.")
	fmt.Fprintln(w, "--saveEngine       Write the compiled engine to this file after a build.")
	fmt.Fprintln(w, "--loadEngine       Load a previously saved engine instead of building one.")
	fmt.Fprintln(w, "--model            ONNX file name looked up in the data directories (default "+DefaultModelFile+").")
	fmt.Fprintln(w, "--backend          Inference backend: "+joinBackends()+" (default "+string(BackendTensorRT)+").")
	fmt.Fprintln(w, "--device           GPU ordinal for the tensorrt and cuda backends.")
	fmt.Fprintln(w, "--ortLib           Path to the onnxruntime shared library.")
	fmt.Fprintln(w, "--digit            Digit sample to classify, -1 picks one at random.")
	fmt.Fprintln(w, "--seed             Seed for the random digit choice, 0 seeds from the clock.")
	fmt.Fprintln(w, "--config           YAML file with default values for the options above.")
	fmt.Fprintln(w, "--verbose          Enable debug logging.")
}
