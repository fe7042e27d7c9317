// Package epoch runs one training epoch of a repeat and records its outcome.
package epoch

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/eval"
	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/pkg/model"
)

// Observer is notified of training progress.
type Observer interface {
	// BatchDone is called after every training step with the number of samples in the batch.
	BatchDone(rec *record.TrainRecord, samples int)
	// EpochDone is called after an epoch has been appended to rec.
	EpochDone(rec *record.TrainRecord, train record.TrainMetrics, val, test *model.Metrics)
}

// Runner executes single epochs. It holds no per-run state and may be shared.
type Runner struct {
	// CheckpointEpoch exports a checkpoint every that many epochs; 0 disables it.
	CheckpointEpoch int
	Clock           clockwork.Clock
	Observer        Observer
}

// NewRunner returns a Runner on the real clock.
func NewRunner(checkpointEpoch int, observer Observer) *Runner {
	return &Runner{
		CheckpointEpoch: checkpointEpoch,
		Clock:           clockwork.NewRealClock(),
		Observer:        observer,
	}
}

// Run trains m for one pass over train, evaluates val and test when present (non-nil), and
// appends the epoch to rec. If ctx is done before every training batch has run, or train holds no
// samples, Run returns nil and leaves rec untouched.
func (r *Runner) Run(
	ctx context.Context,
	m model.Model,
	train, val, test []model.Batch,
	opt model.Optimizer,
	lossFn model.LossFunc,
	rec *record.TrainRecord,
) error {
	if rel, ok := m.(model.Releaser); ok {
		defer rel.Release()
	}
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logCtx := log.WithFields(log.Fields{"record": rec.Name(), "epoch": rec.Epoch()})

	start := clock.Now()
	var (
		totalLoss float64
		labels    []int
		outputs   [][]float64
	)
	for _, b := range train {
		if ctx.Err() != nil {
			logCtx.Debug("epoch interrupted")
			return nil
		}
		if b.Len() == 0 {
			continue
		}
		loss, out, err := m.TrainStep(b, lossFn, opt)
		if err != nil {
			return errors.Wrapf(err, "training step %d of epoch %d", len(labels), rec.Epoch())
		}
		totalLoss += loss * float64(b.Len())
		labels = append(labels, b.Labels...)
		outputs = append(outputs, out...)
		if r.Observer != nil {
			r.Observer.BatchDone(rec, b.Len())
		}
	}
	if len(labels) == 0 {
		logCtx.Warn("no training samples, skipping epoch")
		return nil
	}

	trainMetrics := record.TrainMetrics{
		Metrics: model.Metrics{
			Loss: totalLoss / float64(len(labels)),
			Acc:  eval.Accuracy(labels, outputs),
			AUC:  eval.ComputeAUC(labels, outputs),
		},
		LR:   opt.LearningRate(),
		Time: clock.Since(start).Seconds(),
	}

	var valMetrics, testMetrics *model.Metrics
	if val != nil {
		v, err := eval.Evaluate(m, val, lossFn)
		if err != nil {
			return errors.Wrap(err, "evaluating validation split")
		}
		valMetrics = &v
	}
	if test != nil {
		v, err := eval.Evaluate(m, test, lossFn)
		if err != nil {
			return errors.Wrap(err, "evaluating test split")
		}
		testMetrics = &v
	}

	if err := rec.AppendEpoch(trainMetrics, valMetrics, testMetrics); err != nil {
		return err
	}
	logCtx.WithFields(log.Fields{
		"loss": trainMetrics.Loss,
		"acc":  trainMetrics.Acc,
		"time": trainMetrics.Time,
	}).Debug("epoch done")
	if r.Observer != nil {
		r.Observer.EpochDone(rec, trainMetrics, valMetrics, testMetrics)
	}

	if r.CheckpointEpoch != 0 && rec.Epoch()%r.CheckpointEpoch == 0 {
		if err := rec.ExportCheckpoint(); err != nil {
			return err
		}
	}
	return nil
}
