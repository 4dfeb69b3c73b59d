// Package postprocess - Postprocessing utilities for classifier outputs.
package postprocess

// Result is the verdict for one classified sample.
type Result struct {
	// Predicted is the index of the most probable class.
	Predicted int `json:"predicted" yaml:"predicted"`
	// Expected is the ground-truth label.
	Expected int `json:"expected" yaml:"expected"`
	// Confidence is the probability of the predicted class.
	Confidence float32 `json:"confidence" yaml:"confidence"`
	// Probabilities is the softmax of the raw scores, one entry per class.
	Probabilities []float32 `json:"probabilities" yaml:"probabilities"`
	// Passed reports whether the prediction matches and is confident enough.
	Passed bool `json:"passed" yaml:"passed"`
}
