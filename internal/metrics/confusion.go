package metrics

// ConfusionMatrix counts samples as Matrix[true][predicted].
type ConfusionMatrix struct {
	NumClasses int
	Matrix     [][]int
	Total      int
}

// NewConfusionMatrix tallies labels against the argmax of outputs. numClasses is widened to fit
// every label and prediction seen.
func NewConfusionMatrix(labels []int, outputs [][]float64, numClasses int) *ConfusionMatrix {
	preds := make([]int, len(outputs))
	for i, row := range outputs {
		preds[i] = Argmax(row)
		if preds[i]+1 > numClasses {
			numClasses = preds[i] + 1
		}
	}
	for _, l := range labels {
		if l+1 > numClasses {
			numClasses = l + 1
		}
	}
	cm := &ConfusionMatrix{NumClasses: numClasses, Matrix: make([][]int, numClasses)}
	for i := range cm.Matrix {
		cm.Matrix[i] = make([]int, numClasses)
	}
	for i, l := range labels {
		if l < 0 || i >= len(preds) {
			continue
		}
		cm.Matrix[l][preds[i]]++
		cm.Total++
	}
	return cm
}

// Accuracy returns the fraction of samples on the diagonal.
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.Total == 0 {
		return 0
	}
	var correct int
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.Total)
}

// Kappa returns Cohen's kappa. It is 0 when the expected agreement is total.
func (cm *ConfusionMatrix) Kappa() float64 {
	if cm.Total == 0 {
		return 0
	}
	n := float64(cm.Total)
	po := cm.Accuracy()
	var pe float64
	for c := 0; c < cm.NumClasses; c++ {
		var rowSum, colSum int
		for k := 0; k < cm.NumClasses; k++ {
			rowSum += cm.Matrix[c][k]
			colSum += cm.Matrix[k][c]
		}
		pe += (float64(rowSum) / n) * (float64(colSum) / n)
	}
	if pe >= 1 {
		return 0
	}
	return (po - pe) / (1 - pe)
}

// ClassReport is the per-class precision, recall, F1 and support.
type ClassReport struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1-score"`
	Support   int     `json:"support"`
}

// Report is a classification report: one row per class plus the unweighted macro average.
type Report struct {
	Classes []ClassReport `json:"classes"`
	Macro   ClassReport   `json:"macro_avg"`
}

// Report builds the classification report. Undefined ratios are reported as 0.
func (cm *ConfusionMatrix) Report() Report {
	r := Report{Classes: make([]ClassReport, cm.NumClasses)}
	for c := 0; c < cm.NumClasses; c++ {
		tp := cm.Matrix[c][c]
		var predicted, support int
		for k := 0; k < cm.NumClasses; k++ {
			predicted += cm.Matrix[k][c]
			support += cm.Matrix[c][k]
		}
		cr := ClassReport{Support: support}
		if predicted > 0 {
			cr.Precision = float64(tp) / float64(predicted)
		}
		if support > 0 {
			cr.Recall = float64(tp) / float64(support)
		}
		if cr.Precision+cr.Recall > 0 {
			cr.F1 = 2 * cr.Precision * cr.Recall / (cr.Precision + cr.Recall)
		}
		r.Classes[c] = cr
		r.Macro.Precision += cr.Precision
		r.Macro.Recall += cr.Recall
		r.Macro.F1 += cr.F1
		r.Macro.Support += support
	}
	if cm.NumClasses > 0 {
		n := float64(cm.NumClasses)
		r.Macro.Precision /= n
		r.Macro.Recall /= n
		r.Macro.F1 /= n
	}
	return r
}
