package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/onnx-mnist/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDirs, cfg.DataDirs)
	assert.Equal(t, DefaultModelFile, cfg.ModelFile)
	assert.Equal(t, BackendTensorRT, cfg.Backend)
	assert.Equal(t, NoDLACore, cfg.DLACore)
	assert.Equal(t, RandomDigit, cfg.Digit)
	assert.Equal(t, DefaultInt8Range, cfg.Int8Range)
	assert.False(t, cfg.FP16 || cfg.BF16 || cfg.INT8)
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse([]string{
		"-d", "/opt/data/a",
		"--datadir=/opt/data/b",
		"--useDLACore=1",
		"--fp16",
		"--int8",
		"--timingCacheFile=/tmp/mnist.cache",
		"--saveEngine=/tmp/mnist.engine",
		"--backend=CUDA",
		"--digit=7",
		"--seed=42",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"/opt/data/a", "/opt/data/b"}, cfg.DataDirs)
	assert.Equal(t, 1, cfg.DLACore)
	assert.True(t, cfg.FP16)
	assert.True(t, cfg.INT8)
	assert.False(t, cfg.BF16)
	assert.Equal(t, "/tmp/mnist.cache", cfg.TimingCacheFile)
	assert.Equal(t, "/tmp/mnist.engine", cfg.SaveEngine)
	assert.Empty(t, cfg.LoadEngine)
	assert.Equal(t, BackendCUDA, cfg.Backend)
	assert.Equal(t, 7, cfg.Digit)
	assert.Equal(t, int64(42), cfg.Seed)
}

func TestParseHelp(t *testing.T) {
	for _, arg := range []string{"-h", "--help"} {
		cfg, err := Parse([]string{arg})
		require.NoError(t, err, arg)
		assert.True(t, cfg.Help, arg)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "unknown flag", args: []string{"--fp64"}},
		{name: "non numeric dla core", args: []string{"--useDLACore=gpu"}},
		{name: "negative dla core", args: []string{"--useDLACore=-2"}},
		{name: "unknown backend", args: []string{"--backend=tpu"}},
		{name: "digit out of range", args: []string{"--digit=10"}},
		{name: "empty data dir", args: []string{"--datadir="}},
		{name: "stray positional", args: []string{"mnist.onnx"}},
		{name: "negative device", args: []string{"--device=-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args)
			require.Error(t, err)
			assert.True(t, errors.Is(err, common.ErrArgument), "got %v", err)
		})
	}
}

func TestParseConfigFileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dirs: [/srv/mnist]
backend: gorgonnx
digit: 3
fp16: true
save_engine: /srv/mnist.engine
`), 0o600))

	cfg, err := Parse([]string{"--config", path, "--digit=5"})
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/mnist"}, cfg.DataDirs)
	assert.Equal(t, BackendGorgonnx, cfg.Backend)
	assert.Equal(t, 5, cfg.Digit)
	assert.True(t, cfg.FP16)
	assert.Equal(t, "/srv/mnist.engine", cfg.SaveEngine)
	assert.Equal(t, NoDLACore, cfg.DLACore)
	assert.Equal(t, path, cfg.File)
}

func TestLoadNormalizesBackendCase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: TensorRT\n"), 0o600))

	cfg, err := Parse([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, BackendTensorRT, cfg.Backend)

	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendTensorRT, cfg.Backend)
}

func TestParseConfigFileDataDirOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dirs: [/srv/mnist]\n"), 0o600))

	cfg, err := Parse([]string{"--config=" + path, "-d", "/local/mnist"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/local/mnist"}, cfg.DataDirs)
}

func TestParseConfigFileErrors(t *testing.T) {
	_, err := Parse([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.True(t, errors.Is(err, common.ErrNotFound), "got %v", err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("digit: [not, a, number]\n"), 0o600))
	_, err = Parse([]string{"--config", path})
	assert.True(t, errors.Is(err, common.ErrArgument), "got %v", err)
}

func TestUsageMentionsEveryFlag(t *testing.T) {
	var buf bytes.Buffer
	Usage(&buf)

	for _, flag := range []string{"--help", "--datadir", "--useDLACore", "--int8", "--fp16", "--bf16",
		"--calibrationFile", "--timingCacheFile", "--saveEngine", "--loadEngine", "--backend"} {
		assert.Contains(t, buf.String(), flag)
	}
}
