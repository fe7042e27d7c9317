package prom

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/pkg/model"
)

func TestTrainingObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewTrainingObserver(reg)
	rec := record.NewTrainRecord(1, nil, nil, model.TrainingOption{}, nil, nil,
		filepath.Join(t.TempDir(), "blobs-1", "Repeat-1"))

	o.BatchDone(rec, 8)
	o.BatchDone(rec, 4)
	val := model.Metrics{Loss: 0.5, Acc: 80, AUC: 0.9}
	o.EpochDone(rec, record.TrainMetrics{Metrics: model.Metrics{Loss: 0.7}, Time: 1.5}, &val, nil)

	require.Equal(t, 12.0, testutil.ToFloat64(o.samples.WithLabelValues("blobs-1/Repeat-1")))
	require.Equal(t, 1.0, testutil.ToFloat64(o.epochs.WithLabelValues("blobs-1/Repeat-1")))
	require.Equal(t, 80.0, testutil.ToFloat64(
		o.lastMetric.WithLabelValues("blobs-1/Repeat-1", "val", "acc")))
	require.Equal(t, 0.7, testutil.ToFloat64(
		o.lastMetric.WithLabelValues("blobs-1/Repeat-1", "train", "loss")))

	count, err := testutil.GatherAndCount(reg, "brainfit_training_last_epoch_metric")
	require.NoError(t, err)
	require.Equal(t, 6, count)
}

func TestErrCount(t *testing.T) {
	m := NewAPIMetrics(prometheus.NewRegistry())
	c := m.Errors.WithLabelValues("/x")
	func() {
		var err error
		defer ErrCount(c, &err)
		_, err = strconv.Atoi("abc")
	}()
	func() {
		var err error
		defer ErrCount(c, &err)
		defer Time(m.Requests.WithLabelValues("/x"))()
	}()
	require.Equal(t, 1.0, testutil.ToFloat64(c))
}
