package manager

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/internal/metrics"
	"github.com/brainfit/brainfit/internal/record"
)

// ExportOutputCSV writes one row per evaluated sample of a repeat (or of every finished repeat
// pooled, for a negative repeat): the label, the predicted class and the class probabilities.
func (m *TrainingManager) ExportOutputCSV(path, planName string, repeat int) error {
	er, err := m.EvalRecord(planName, repeat)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	f, err := os.Create(path) // #nosec G304
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := WriteOutputCSV(f, er); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return errors.Wrapf(f.Close(), "closing %s", path)
}

// WriteOutputCSV writes the Ground Truth,Predict,<class probabilities> table of er to f.
func WriteOutputCSV(f io.Writer, er *record.EvalRecord) error {
	w := csv.NewWriter(f)
	header := []string{"Ground Truth", "Predict"}
	for c := 0; c < er.NumClasses(); c++ {
		header = append(header, strconv.Itoa(c))
	}
	if err := w.Write(header); err != nil {
		return err
	}
	labels, preds := er.Labels(), er.Predictions()
	for i, probs := range metrics.Probabilities(er.Outputs()) {
		row := []string{strconv.Itoa(labels[i]), strconv.Itoa(preds[i])}
		for _, p := range probs {
			row = append(row, strconv.FormatFloat(p, 'g', -1, 64))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
