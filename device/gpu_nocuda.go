//go:build !cuda

package device

import "github.com/pkg/errors"

// ErrNoCUDA is returned by ProbeGPU in builds without the cuda tag.
var ErrNoCUDA = errors.New("built without the cuda tag")

// ProbeGPU always fails; rebuild with -tags cuda to query devices.
func ProbeGPU(int) (GPU, error) {
	return GPU{}, ErrNoCUDA
}
