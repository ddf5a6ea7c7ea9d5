// Package backend wraps the model-execution collaborator: one forward pass
// over an assembled batch, plus decoding of the resulting logits.
package backend

import (
	"context"
	"math"

	"github.com/doublewordai/arbiter/internal/batch"
	"github.com/doublewordai/arbiter/internal/model"
)

// Backend executes one forward pass over a batch tensor. The output row
// count must equal the input row count. Implementations are invoked from a
// single goroutine at a time per model instance.
type Backend interface {
	Infer(ctx context.Context, input *batch.Input) ([][]float32, error)
	Name() string
}

// Result is the decoded outcome for one batch row. Never mutated after
// creation.
type Result struct {
	LabelID    int       `json:"label_id"`
	Label      string    `json:"label"`
	Score      float64   `json:"score"`
	Probs      []float64 `json:"probs"`
	NumClasses int       `json:"num_classes"`
}

// Decode turns per-row logits into labeled results: softmax for the
// probability vector, argmax for the class, score is the probability mass of
// the chosen label.
func Decode(logits [][]float32, handle *model.Handle) []Result {
	results := make([]Result, len(logits))
	for row, rowLogits := range logits {
		probs := softmax(rowLogits)
		labelID := argmax(probs)

		numClasses := handle.NumClasses()
		if numClasses == 0 {
			numClasses = len(probs)
		}

		score := 0.0
		if labelID >= 0 {
			score = probs[labelID]
		}
		results[row] = Result{
			LabelID:    labelID,
			Label:      handle.Label(labelID),
			Score:      score,
			Probs:      probs,
			NumClasses: numClasses,
		}
	}
	return results
}

// softmax computes a numerically stable normalized probability vector.
func softmax(logits []float32) []float64 {
	probs := make([]float64, len(logits))
	if len(logits) == 0 {
		return probs
	}

	maxLogit := float64(logits[0])
	for _, l := range logits[1:] {
		if float64(l) > maxLogit {
			maxLogit = float64(l)
		}
	}

	sum := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(float64(l) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func argmax(probs []float64) int {
	best := -1
	bestProb := math.Inf(-1)
	for i, p := range probs {
		if p > bestProb {
			best = i
			bestProb = p
		}
	}
	return best
}
