package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeHost(t *testing.T) {
	h := ProbeHost()
	assert.GreaterOrEqual(t, h.Threads(), 1)
	assert.NotEmpty(t, h.String())
}

func TestHostThreads(t *testing.T) {
	assert.Equal(t, 8, Host{PhysicalCores: 8, LogicalCores: 16}.Threads())
	assert.Equal(t, 4, Host{LogicalCores: 4}.Threads())
	assert.Equal(t, 1, Host{}.Threads())
}

func TestGPUComputeCapability(t *testing.T) {
	g := GPU{Name: "Orin", Major: 8, Minor: 7, TotalMemory: 32 << 30}
	assert.Equal(t, "87", g.ComputeCapability())
	assert.Equal(t, "Orin (sm_87, 32768 MiB)", g.String())
}
