// Package prom exports training progress and API activity as prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/brainfit/brainfit/internal/epoch"
	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/pkg/model"
)

// Namespace prefixes every metric.
const Namespace = "brainfit"

// Time observes the seconds elapsed until the returned function is called.
//
//	defer prom.Time(histogram.WithLabelValues("GET"))()
func Time(o prometheus.Observer) func() {
	start := time.Now()
	return func() {
		o.Observe(time.Since(start).Seconds())
	}
}

// ErrCount increments c if *err is non-nil when called; use it in a defer.
func ErrCount(c prometheus.Counter, err *error) {
	if err != nil && *err != nil {
		c.Inc()
	}
}

// TrainingObserver records batch and epoch progress. It implements epoch.Observer.
type TrainingObserver struct {
	samples      *prometheus.CounterVec
	epochs       *prometheus.CounterVec
	epochSeconds *prometheus.HistogramVec
	lastMetric   *prometheus.GaugeVec
}

// NewTrainingObserver creates the training collectors and registers them with reg.
func NewTrainingObserver(reg prometheus.Registerer) *TrainingObserver {
	o := &TrainingObserver{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "training",
			Name:      "samples_total",
			Help:      "Training samples consumed.",
		}, []string{"record"}),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "training",
			Name:      "epochs_total",
			Help:      "Epochs completed.",
		}, []string{"record"}),
		epochSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "training",
			Name:      "epoch_seconds",
			Help:      "Wall time of the training pass of an epoch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"record"}),
		lastMetric: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "training",
			Name:      "last_epoch_metric",
			Help:      "Metrics of the most recent epoch.",
		}, []string{"record", "split", "metric"}),
	}
	reg.MustRegister(o.samples, o.epochs, o.epochSeconds, o.lastMetric)
	return o
}

var _ epoch.Observer = (*TrainingObserver)(nil)

func recordLabel(rec *record.TrainRecord) string {
	return rec.StorageKey()
}

// BatchDone implements epoch.Observer.
func (o *TrainingObserver) BatchDone(rec *record.TrainRecord, samples int) {
	o.samples.WithLabelValues(recordLabel(rec)).Add(float64(samples))
}

// EpochDone implements epoch.Observer.
func (o *TrainingObserver) EpochDone(
	rec *record.TrainRecord, train record.TrainMetrics, val, test *model.Metrics,
) {
	label := recordLabel(rec)
	o.epochs.WithLabelValues(label).Inc()
	o.epochSeconds.WithLabelValues(label).Observe(train.Time)
	o.set(label, model.TrainSplit, &train.Metrics)
	o.set(label, model.ValSplit, val)
	o.set(label, model.TestSplit, test)
}

func (o *TrainingObserver) set(label string, split model.Split, m *model.Metrics) {
	if m == nil {
		return
	}
	for _, key := range model.EvalMetricKeys {
		o.lastMetric.WithLabelValues(label, string(split), string(key)).Set(m.Get(key))
	}
}

// APIMetrics count and time HTTP requests.
type APIMetrics struct {
	Requests *prometheus.HistogramVec
	Errors   *prometheus.CounterVec
}

// NewAPIMetrics creates the API collectors and registers them with reg.
func NewAPIMetrics(reg prometheus.Registerer) *APIMetrics {
	m := &APIMetrics{
		Requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "api",
			Name:      "request_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "API requests that returned an error.",
		}, []string{"route"}),
	}
	reg.MustRegister(m.Requests, m.Errors)
	return m
}
