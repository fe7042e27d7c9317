package optim

import "math"

// CrossEntropy is the softmax cross-entropy loss over raw logits.
type CrossEntropy struct{}

// Softmax returns the normalized exponentials of row.
func Softmax(row []float64) []float64 {
	out := make([]float64, len(row))
	if len(row) == 0 {
		return out
	}
	maxV := row[0]
	for _, v := range row[1:] {
		if v > maxV {
			maxV = v
		}
	}
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

// Loss implements model.LossFunc.
func (CrossEntropy) Loss(outputs [][]float64, labels []int) float64 {
	if len(outputs) == 0 {
		return 0
	}
	var total float64
	for i, row := range outputs {
		p := Softmax(row)[labels[i]]
		total -= math.Log(math.Max(p, 1e-12))
	}
	return total / float64(len(outputs))
}

// Grad implements model.LossFunc.
func (CrossEntropy) Grad(outputs [][]float64, labels []int) [][]float64 {
	n := float64(len(outputs))
	grads := make([][]float64, len(outputs))
	for i, row := range outputs {
		g := Softmax(row)
		g[labels[i]]--
		for j := range g {
			g[j] /= n
		}
		grads[i] = g
	}
	return grads
}
