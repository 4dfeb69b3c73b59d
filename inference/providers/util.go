package providers

import (
	"os"
	"runtime"
	"sync"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// LibraryEnv overrides the default shared library location.
const LibraryEnv = "ONNXRUNTIME_LIB"

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Arguments:
//   - override: Explicit path; takes precedence when not empty.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv(LibraryEnv); env != "" {
		return env
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}

var environment struct {
	mu   sync.Mutex
	refs int
}

// acquireEnvironment initializes the process-wide ONNX Runtime environment on
// first use and counts the holders.
func acquireEnvironment(libPath string, level ort.LoggingLevel) error {
	environment.mu.Lock()
	defer environment.mu.Unlock()

	if environment.refs == 0 {
		if _, err := os.Stat(libPath); err != nil {
			if os.IsNotExist(err) {
				return common.Wrapf(common.ErrNotFound, err, "ONNX Runtime library")
			}
			return common.Wrapf(common.ErrIO, err, "ONNX Runtime library")
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.Wrap(err, "initialize ONNX Runtime environment")
		}
		if err := ort.SetEnvironmentLogLevel(level); err != nil {
			ort.DestroyEnvironment()
			return errors.Wrap(err, "set ONNX Runtime log level")
		}
	}
	environment.refs++
	return nil
}

// releaseEnvironment drops one holder and tears the environment down after the last.
func releaseEnvironment() error {
	environment.mu.Lock()
	defer environment.mu.Unlock()

	if environment.refs == 0 {
		return nil
	}
	environment.refs--
	if environment.refs == 0 {
		return errors.Wrap(ort.DestroyEnvironment(), "destroy ONNX Runtime environment")
	}
	return nil
}
