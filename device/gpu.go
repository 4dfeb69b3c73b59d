package device

import "fmt"

// GPU describes one CUDA device.
type GPU struct {
	Ordinal     int
	Name        string
	TotalMemory int64
	Major       int
	Minor       int
}

// ComputeCapability returns the compute capability as TensorRT spells it in
// file names, e.g. "86" for 8.6.
func (g GPU) ComputeCapability() string {
	return fmt.Sprintf("%d%d", g.Major, g.Minor)
}

func (g GPU) String() string {
	return fmt.Sprintf("%s (sm_%s, %d MiB)", g.Name, g.ComputeCapability(), g.TotalMemory>>20)
}
