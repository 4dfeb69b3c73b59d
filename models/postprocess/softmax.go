package postprocess

import (
	"github.com/chewxy/math32"
)

// Threshold is the confidence the predicted class must exceed to pass.
const Threshold float32 = 0.9

// Softmax normalizes raw scores into a probability distribution.
// The maximum score is subtracted before exponentiation so large inputs do
// not overflow.
//
// Arguments:
//   - raw: The raw class scores.
//
// Returns:
//   - []float32: A new slice of probabilities summing to 1.
func Softmax(raw []float32) []float32 {
	out := make([]float32, len(raw))
	if len(raw) == 0 {
		return out
	}

	maxVal := raw[0]
	for _, v := range raw[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	var sum float32
	for i, v := range raw {
		out[i] = math32.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value. Ties keep the lowest index.
// It returns -1 for an empty slice.
func Argmax(values []float32) int {
	idx := -1
	for i, v := range values {
		if idx < 0 || v > values[idx] {
			idx = i
		}
	}
	return idx
}

// Decide applies the pass rule: the label must match and the confidence must
// be strictly greater than Threshold.
func Decide(predicted, expected int, confidence float32) bool {
	return predicted == expected && confidence > Threshold
}

// Verify turns raw classifier scores into a verdict for the expected label.
//
// Arguments:
//   - raw: The raw output vector, one score per class.
//   - expected: The ground-truth label.
//
// Returns:
//   - Result: The prediction, its confidence, the full distribution and the verdict.
func Verify(raw []float32, expected int) Result {
	probs := Softmax(raw)
	res := Result{
		Predicted:     Argmax(probs),
		Expected:      expected,
		Probabilities: probs,
	}
	if res.Predicted >= 0 {
		res.Confidence = probs[res.Predicted]
	}
	res.Passed = Decide(res.Predicted, expected, res.Confidence)
	return res
}
