package model

// Split names one partition of a dataset.
type Split string

const (
	// TrainSplit is the training partition.
	TrainSplit Split = "train"
	// ValSplit is the validation partition.
	ValSplit Split = "val"
	// TestSplit is the test partition.
	TestSplit Split = "test"
)

// MetricKey names one per-epoch metric.
type MetricKey string

const (
	// LossKey is the mean per-sample loss.
	LossKey MetricKey = "loss"
	// AccKey is the accuracy in percent.
	AccKey MetricKey = "acc"
	// AUCKey is the (one-vs-rest) area under the ROC curve.
	AUCKey MetricKey = "auc"
	// LRKey is the learning rate in effect for the epoch.
	LRKey MetricKey = "lr"
	// TimeKey is the wall time of the epoch's training pass in seconds.
	TimeKey MetricKey = "time"
)

// TrainMetricKeys are the keys recorded for the training split.
var TrainMetricKeys = []MetricKey{LossKey, AccKey, AUCKey, LRKey, TimeKey}

// EvalMetricKeys are the keys recorded for the validation and test splits.
var EvalMetricKeys = []MetricKey{LossKey, AccKey, AUCKey}

// LowerIsBetter reports whether smaller values of the metric are better.
func (k MetricKey) LowerIsBetter() bool {
	return k == LossKey
}

// Metrics is the aggregate result of one pass over a split.
type Metrics struct {
	Loss float64 `json:"loss"`
	Acc  float64 `json:"acc"`
	AUC  float64 `json:"auc"`
}

// Get returns the value for one of the evaluation keys.
func (m Metrics) Get(key MetricKey) float64 {
	switch key {
	case LossKey:
		return m.Loss
	case AccKey:
		return m.Acc
	case AUCKey:
		return m.AUC
	default:
		return 0
	}
}
