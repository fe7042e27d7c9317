package record

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/metrics"
)

const evalFileName = "eval"

// SaliencyMethod names one attribution method.
type SaliencyMethod string

const (
	// Gradient is the plain input gradient.
	Gradient SaliencyMethod = "gradient"
	// GradientInput is the input gradient multiplied by the input.
	GradientInput SaliencyMethod = "gradient_input"
	// SmoothGrad is the input gradient averaged over noisy copies of the input.
	SmoothGrad SaliencyMethod = "smoothgrad"
	// SmoothGradSq is the squared input gradient averaged over noisy copies of the input.
	SmoothGradSq SaliencyMethod = "smoothgrad_sq"
	// VarGrad is the variance of the input gradient over noisy copies of the input.
	VarGrad SaliencyMethod = "vargrad"
)

// SaliencyMethods lists every method an EvalRecord carries.
var SaliencyMethods = []SaliencyMethod{Gradient, GradientInput, SmoothGrad, SmoothGradSq, VarGrad}

// SaliencyMap holds one attribution row per sample, grouped by class index.
type SaliencyMap map[int][][]float64

func (m SaliencyMap) clone() SaliencyMap {
	c := make(SaliencyMap, len(m))
	for class, rows := range m {
		c[class] = cloneRows(rows)
	}
	return c
}

func cloneRows(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// EvalRecord is the final evaluation of one repeat. It is never modified after construction;
// accessors return copies.
type EvalRecord struct {
	labels   []int
	outputs  [][]float64
	saliency map[SaliencyMethod]SaliencyMap
}

// NewEvalRecord copies its arguments into a new EvalRecord. Missing saliency methods are stored
// as empty maps.
func NewEvalRecord(
	labels []int, outputs [][]float64, saliency map[SaliencyMethod]SaliencyMap,
) (*EvalRecord, error) {
	if len(labels) != len(outputs) {
		return nil, errors.Errorf("eval record has %d labels but %d outputs", len(labels), len(outputs))
	}
	r := &EvalRecord{
		labels:   append([]int(nil), labels...),
		outputs:  cloneRows(outputs),
		saliency: make(map[SaliencyMethod]SaliencyMap, len(SaliencyMethods)),
	}
	for _, m := range SaliencyMethods {
		r.saliency[m] = saliency[m].clone()
	}
	return r, nil
}

// Labels returns the ground-truth labels.
func (r *EvalRecord) Labels() []int {
	return append([]int(nil), r.labels...)
}

// Outputs returns the model outputs, one row per sample.
func (r *EvalRecord) Outputs() [][]float64 {
	return cloneRows(r.outputs)
}

// Saliency returns the per-class attribution rows of one method.
func (r *EvalRecord) Saliency(method SaliencyMethod) SaliencyMap {
	return r.saliency[method].clone()
}

// Len returns the number of evaluated samples.
func (r *EvalRecord) Len() int {
	return len(r.labels)
}

// Predictions returns the argmax class of every output row.
func (r *EvalRecord) Predictions() []int {
	preds := make([]int, len(r.outputs))
	for i, row := range r.outputs {
		preds[i] = metrics.Argmax(row)
	}
	return preds
}

// NumClasses returns the width of the output rows.
func (r *EvalRecord) NumClasses() int {
	if len(r.outputs) == 0 {
		return 0
	}
	return len(r.outputs[0])
}

// ConfusionMatrix tallies labels against predictions.
func (r *EvalRecord) ConfusionMatrix() *metrics.ConfusionMatrix {
	return metrics.NewConfusionMatrix(r.labels, r.outputs, r.NumClasses())
}

// Acc returns the accuracy in percent.
func (r *EvalRecord) Acc() float64 {
	return r.ConfusionMatrix().Accuracy() * 100
}

// AUC returns the ROC AUC, or 0 when it is undefined for these samples.
func (r *EvalRecord) AUC() float64 {
	auc, err := metrics.AUC(r.labels, r.outputs)
	if err != nil {
		log.WithError(err).Debug("auc undefined for eval record")
		return 0
	}
	return auc
}

// Kappa returns Cohen's kappa.
func (r *EvalRecord) Kappa() float64 {
	return r.ConfusionMatrix().Kappa()
}

// ClassificationReport returns per-class precision, recall, F1 and support with a macro average.
func (r *EvalRecord) ClassificationReport() metrics.Report {
	return r.ConfusionMatrix().Report()
}

type evalRecordJSON struct {
	Labels   []int                          `json:"label"`
	Outputs  [][]float64                    `json:"output"`
	Saliency map[SaliencyMethod]SaliencyMap `json:"saliency"`
}

// MarshalJSON implements json.Marshaler.
func (r *EvalRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(evalRecordJSON{Labels: r.labels, Outputs: r.outputs, Saliency: r.saliency})
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *EvalRecord) UnmarshalJSON(data []byte) error {
	var raw evalRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec, err := NewEvalRecord(raw.Labels, raw.Outputs, raw.Saliency)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

// Export writes the record into dir.
func (r *EvalRecord) Export(dir string) error {
	bs, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "serializing eval record")
	}
	return writeFileAtomic(filepath.Join(dir, evalFileName), bs)
}

// LoadEvalRecord reads the record exported into dir. A missing or corrupted file yields nil; the
// failure is logged rather than returned.
func LoadEvalRecord(dir string) *EvalRecord {
	path := filepath.Join(dir, evalFileName)
	bs, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Warnf("failed to read eval record %s", path)
		}
		return nil
	}
	var r EvalRecord
	if err := json.Unmarshal(bs, &r); err != nil {
		log.WithError(err).Warnf("ignoring corrupted eval record %s", path)
		return nil
	}
	return &r
}

// AggregateEvalRecords pools the samples of several records into a new record. Nil records are
// skipped; the result is nil when nothing remains.
func AggregateEvalRecords(records ...*EvalRecord) *EvalRecord {
	agg := &EvalRecord{saliency: make(map[SaliencyMethod]SaliencyMap, len(SaliencyMethods))}
	for _, m := range SaliencyMethods {
		agg.saliency[m] = SaliencyMap{}
	}
	var found bool
	for _, r := range records {
		if r == nil {
			continue
		}
		found = true
		agg.labels = append(agg.labels, r.labels...)
		agg.outputs = append(agg.outputs, cloneRows(r.outputs)...)
		for _, m := range SaliencyMethods {
			classes := make([]int, 0, len(r.saliency[m]))
			for class := range r.saliency[m] {
				classes = append(classes, class)
			}
			sort.Ints(classes)
			for _, class := range classes {
				agg.saliency[m][class] = append(agg.saliency[m][class], cloneRows(r.saliency[m][class])...)
			}
		}
	}
	if !found {
		return nil
	}
	return agg
}

// writeFileAtomic replaces path with data so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temporary file for %s", path)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", path)
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "renaming into %s", path)
}
