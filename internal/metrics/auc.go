// Package metrics holds the classification metric math shared by the evaluator and the
// evaluation record: AUC, confusion matrices, Cohen's kappa and per-class reports.
package metrics

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

const normTolerance = 1e-6

// Argmax returns the index of the largest value in row, preferring the first on ties.
func Argmax(row []float64) int {
	best := 0
	for i := 1; i < len(row); i++ {
		if row[i] > row[best] {
			best = i
		}
	}
	return best
}

// Probabilities returns outputs as per-row probability distributions. Rows are passed through
// unchanged when every row is already non-negative and sums to one, otherwise each row is
// soft-maxed.
func Probabilities(outputs [][]float64) [][]float64 {
	if isNormalized(outputs) {
		return outputs
	}
	probs := make([][]float64, len(outputs))
	for i, row := range outputs {
		probs[i] = softmax(row)
	}
	return probs
}

func isNormalized(outputs [][]float64) bool {
	for _, row := range outputs {
		var sum float64
		for _, v := range row {
			if v < 0 {
				return false
			}
			sum += v
		}
		if math.Abs(sum-1) > normTolerance {
			return false
		}
	}
	return true
}

func softmax(row []float64) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	maxV := row[Argmax(row)]
	var sum float64
	for i, v := range row {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// AUC returns the ROC AUC of outputs against labels: the class-1 probability for two columns,
// the macro one-vs-rest average for more. It returns an error whenever the score is undefined.
func AUC(labels []int, outputs [][]float64) (float64, error) {
	switch {
	case len(labels) == 0:
		return 0, errors.New("no samples")
	case len(labels) != len(outputs):
		return 0, errors.Errorf("%d labels for %d outputs", len(labels), len(outputs))
	}
	width := len(outputs[0])
	if width < 2 {
		return 0, errors.Errorf("need at least two output columns, got %d", width)
	}
	present := map[int]bool{}
	for i, row := range outputs {
		if len(row) != width {
			return 0, errors.Errorf("row %d has %d columns, expected %d", i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, errors.Errorf("row %d contains a non-finite score", i)
			}
		}
		if labels[i] < 0 || labels[i] >= width {
			return 0, errors.Errorf("label %d outside of %d output columns", labels[i], width)
		}
		present[labels[i]] = true
	}
	if len(present) < 2 {
		return 0, errors.New("only one class present in labels")
	}

	probs := Probabilities(outputs)
	if width == 2 {
		return binaryAUC(labels, probs, 1), nil
	}
	if len(present) != width {
		return 0, errors.Errorf(
			"%d classes present in labels but outputs have %d columns", len(present), width)
	}
	var total float64
	for c := 0; c < width; c++ {
		total += binaryAUC(labels, probs, c)
	}
	return total / float64(width), nil
}

// binaryAUC integrates the ROC curve of "label == positive" scored by column positive with the
// trapezoidal rule, stepping over tied scores as one point.
func binaryAUC(labels []int, probs [][]float64, positive int) float64 {
	type scored struct {
		score float64
		pos   bool
	}
	pairs := make([]scored, len(labels))
	var totalPos, totalNeg int
	for i, l := range labels {
		pairs[i] = scored{score: probs[i][positive], pos: l == positive}
		if l == positive {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return 0
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	var auc, prevTPR, prevFPR float64
	var tp, fp int
	for i := 0; i < len(pairs); {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			if pairs[j].pos {
				tp++
			} else {
				fp++
			}
			j++
		}
		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2
		prevTPR, prevFPR = tpr, fpr
		i = j
	}
	return auc
}
