package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nvr-ai/onnx-mnist/models/postprocess"
	"github.com/stretchr/testify/assert"
)

func TestStatusLines(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf, "onnxmnist", []string{"./onnxmnist", "--fp16"})
	r.Start()
	r.Finish(true)
	r.Finish(false)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"&&&& RUNNING onnxmnist # ./onnxmnist --fp16",
		"&&&& PASSED onnxmnist # ./onnxmnist --fp16",
		"&&&& FAILED onnxmnist # ./onnxmnist --fp16",
	}, lines)
}

func TestASCII(t *testing.T) {
	assert.Equal(t, " .@\n#%\n", ASCII([]byte{0, 26, 255, 200, 220}, 3))
	assert.Equal(t, "", ASCII([]byte{1, 2}, 0))
	assert.Equal(t, "  \n  \n", ASCII(make([]byte, 4), 2))
}

func TestStars(t *testing.T) {
	tests := []struct {
		p    float32
		want int
	}{
		{0, 0},
		{0.04, 0},
		{0.05, 1},
		{0.5, 5},
		{0.943, 9},
		{1, 10},
		{-0.2, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Stars(tt.p), "p=%v", tt.p)
	}
}

func TestOutput(t *testing.T) {
	var buf bytes.Buffer
	probs := make([]float32, 10)
	probs[7] = 1
	New(&buf, "onnxmnist", nil).Output(postprocess.Result{Predicted: 7, Expected: 7, Confidence: 1, Probabilities: probs})

	out := buf.String()
	assert.Contains(t, out, " Prob 7  1.0000 Class 7: **********\n")
	assert.Contains(t, out, " Prob 0  0.0000 Class 0: \n")
	assert.Contains(t, out, "Predicted 7 with confidence 1.0000, expected 7")
}
