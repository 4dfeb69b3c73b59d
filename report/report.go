// Package report - Human readable output of a classification run.
package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/nvr-ai/onnx-mnist/models/postprocess"
)

// ramp maps intensity to characters, darkest first.
const ramp = " .:-=+*#%@"

// Status is the verdict printed on a test line.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
)

// Reporter writes the run report to an output stream.
type Reporter struct {
	w       io.Writer
	name    string
	cmdline string
}

// New creates a reporter for the test named name started with args.
//
// Arguments:
//   - w: Destination, usually stdout.
//   - name: The test name shown on every status line.
//   - args: The full command line including the program name.
//
// Returns:
//   - *Reporter: The reporter.
func New(w io.Writer, name string, args []string) *Reporter {
	return &Reporter{w: w, name: name, cmdline: strings.Join(args, " ")}
}

// Start prints the RUNNING line.
func (r *Reporter) Start() {
	fmt.Fprintln(r.w, StatusLine(StatusRunning, r.name, r.cmdline))
}

// Finish prints the PASSED or FAILED line.
func (r *Reporter) Finish(passed bool) {
	status := StatusFailed
	if passed {
		status = StatusPassed
	}
	fmt.Fprintln(r.w, StatusLine(status, r.name, r.cmdline))
}

// Input prints the sample as ASCII art.
func (r *Reporter) Input(label int, pixels []byte, width int) {
	fmt.Fprintf(r.w, "Input (digit %d):\n", label)
	fmt.Fprint(r.w, ASCII(pixels, width))
	fmt.Fprintln(r.w)
}

// Output prints the probability chart and the verdict.
func (r *Reporter) Output(res postprocess.Result) {
	fmt.Fprintln(r.w, "Output:")
	fmt.Fprint(r.w, Chart(res.Probabilities))
	fmt.Fprintf(r.w, "Predicted %d with confidence %.4f, expected %d\n", res.Predicted, res.Confidence, res.Expected)
}

// StatusLine formats "&&&& <status> <name> # <cmdline>".
func StatusLine(status Status, name, cmdline string) string {
	return fmt.Sprintf("&&&& %s %s # %s", status, name, cmdline)
}

// ASCII renders row-major 8-bit pixels, one character per pixel.
func ASCII(pixels []byte, width int) string {
	if width <= 0 {
		return ""
	}
	var sb strings.Builder
	for i, px := range pixels {
		sb.WriteByte(ramp[int(px)/26])
		if (i+1)%width == 0 {
			sb.WriteByte('\n')
		}
	}
	if len(pixels)%width != 0 {
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Chart renders one bar per class, ten stars for probability 1.
func Chart(probs []float32) string {
	var sb strings.Builder
	for i, p := range probs {
		fmt.Fprintf(&sb, " Prob %d  %.4f Class %d: %s\n", i, p, i, strings.Repeat("*", Stars(p)))
	}
	return sb.String()
}

// Stars returns the bar length for p, rounded to the nearest tenth.
func Stars(p float32) int {
	n := int(math.Floor(float64(p)*10 + 0.5))
	if n < 0 {
		return 0
	}
	return n
}
