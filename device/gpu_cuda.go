//go:build cuda

package device

import (
	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/pkg/errors"
	"gorgonia.org/cu"
)

// ProbeGPU reads the description of the CUDA device with the given ordinal.
//
// Arguments:
//   - ordinal: The device index.
//
// Returns:
//   - GPU: The device description.
//   - error: ErrNotFound when no such device exists, the driver error otherwise.
func ProbeGPU(ordinal int) (GPU, error) {
	n, err := cu.NumDevices()
	if err != nil {
		return GPU{}, errors.Wrap(err, "count CUDA devices")
	}
	if ordinal < 0 || ordinal >= n {
		return GPU{}, common.Errorf(common.ErrNotFound, "CUDA device %d not present (%d devices)", ordinal, n)
	}

	dev := cu.Device(ordinal)
	g := GPU{Ordinal: ordinal}
	if g.Name, err = dev.Name(); err != nil {
		return GPU{}, errors.Wrap(err, "device name")
	}
	if g.TotalMemory, err = dev.TotalMem(); err != nil {
		return GPU{}, errors.Wrap(err, "device memory")
	}
	if g.Major, err = dev.Attribute(cu.ComputeCapabilityMajor); err != nil {
		return GPU{}, errors.Wrap(err, "compute capability")
	}
	if g.Minor, err = dev.Attribute(cu.ComputeCapabilityMinor); err != nil {
		return GPU{}, errors.Wrap(err, "compute capability")
	}
	return g, nil
}
