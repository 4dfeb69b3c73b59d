package onnx

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// CalibrationHeader is the first line of a native TensorRT calibration cache.
const CalibrationHeader = "TRT-8601-EntropyCalibration2"

// int8Max is the largest magnitude of a symmetric int8 value.
const int8Max = 127.0

// SymmetricRanges assigns the same dynamic range [-r, r] to every tensor.
func SymmetricRanges(tensors []string, r float32) map[string]float32 {
	ranges := make(map[string]float32, len(tensors))
	for _, name := range tensors {
		ranges[name] = r
	}
	return ranges
}

// WriteCalibrationTable writes per-tensor dynamic ranges in the native
// TensorRT calibration cache format: a header line followed by one
// "name: scale" line per tensor, where scale = range/127 as hex IEEE-754 bits.
//
// Arguments:
//   - w: Destination.
//   - ranges: Dynamic range per tensor name; every range must be positive.
//
// Returns:
//   - error: An error for a non-positive range or a failed write.
func WriteCalibrationTable(w io.Writer, ranges map[string]float32) error {
	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)

	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintln(bw, CalibrationHeader); err != nil {
		return errors.Wrap(err, "write calibration header")
	}
	for _, name := range names {
		r := ranges[name]
		if !(r > 0) || math.IsInf(float64(r), 0) {
			return errors.Errorf("tensor %q: dynamic range must be positive and finite, got %v", name, r)
		}
		scale := r / int8Max
		if _, err := fmt.Fprintf(bw, "%s: %08x\n", name, math.Float32bits(scale)); err != nil {
			return errors.Wrapf(err, "write range for %q", name)
		}
	}
	return errors.Wrap(bw.Flush(), "flush calibration table")
}

// ReadCalibrationTable parses a native TensorRT calibration cache back into
// dynamic ranges. Lines without a "name: value" pair, such as the header, are
// skipped.
func ReadCalibrationTable(r io.Reader) (map[string]float32, error) {
	ranges := make(map[string]float32)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if name == "" || value == "" {
			continue
		}
		bits, err := strconv.ParseUint(value, 16, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "tensor %q", name)
		}
		ranges[name] = math.Float32frombits(uint32(bits)) * int8Max
	}
	return ranges, errors.Wrap(scanner.Err(), "read calibration table")
}
