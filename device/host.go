// Package device - Probes the host CPU and the CUDA devices the engine can run on.
package device

import (
	"fmt"

	"github.com/klauspost/cpuid/v2"
)

// Host describes the CPU running the process.
type Host struct {
	Brand         string
	Vendor        string
	PhysicalCores int
	LogicalCores  int
	// Features lists the vector extensions relevant to CPU inference.
	Features []string
}

// vectorFeatures are reported in this order when present.
var vectorFeatures = []cpuid.FeatureID{
	cpuid.SSE4,
	cpuid.AVX,
	cpuid.AVX2,
	cpuid.FMA3,
	cpuid.AVX512F,
	cpuid.AVX512BW,
	cpuid.AVX512VNNI,
	cpuid.AVXVNNI,
	cpuid.ASIMD,
}

// ProbeHost reads the CPU description.
func ProbeHost() Host {
	h := Host{
		Brand:         cpuid.CPU.BrandName,
		Vendor:        cpuid.CPU.VendorString,
		PhysicalCores: cpuid.CPU.PhysicalCores,
		LogicalCores:  cpuid.CPU.LogicalCores,
	}
	for _, f := range vectorFeatures {
		if cpuid.CPU.Supports(f) {
			h.Features = append(h.Features, f.String())
		}
	}
	return h
}

// Threads returns the number of intra-op threads to use for CPU inference:
// one per physical core, falling back to the logical count, then to 1.
func (h Host) Threads() int {
	switch {
	case h.PhysicalCores > 0:
		return h.PhysicalCores
	case h.LogicalCores > 0:
		return h.LogicalCores
	default:
		return 1
	}
}

func (h Host) String() string {
	return fmt.Sprintf("%s (%d cores, %d threads)", h.Brand, h.PhysicalCores, h.LogicalCores)
}
