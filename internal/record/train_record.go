// Package record holds the per-repeat training history, the best-model bookkeeping, the final
// evaluation artifact, and their on-disk checkpoint layout.
package record

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

// TrainRecord is the history of one repeat of a plan. The training worker is its only writer;
// other goroutines may read it concurrently through the accessors.
type TrainRecord struct {
	ID uuid.UUID

	repeat     int
	dataset    model.Dataset
	model      model.Model
	optimizer  model.Optimizer
	lossFn     model.LossFunc
	option     model.TrainingOption
	targetPath string

	mu         sync.RWMutex
	epoch      int
	train      History
	val        History
	test       History
	best       bestTable
	evalRecord *EvalRecord
	rng        *nprand.State
	seed       nprand.State
}

// NewTrainRecord builds the record for one repeat. rng is the generator the repeat draws all of
// its randomness from; its current state is captured as the record's seed.
func NewTrainRecord(
	repeat int,
	dataset model.Dataset,
	m model.Model,
	option model.TrainingOption,
	optimizer model.Optimizer,
	rng *nprand.State,
	targetPath string,
) *TrainRecord {
	if rng == nil {
		rng = nprand.New(option.Seed + uint32(repeat))
	}
	return &TrainRecord{
		ID:         uuid.New(),
		repeat:     repeat,
		dataset:    dataset,
		model:      m,
		optimizer:  optimizer,
		lossFn:     option.Loss,
		option:     option,
		targetPath: targetPath,
		train:      newHistory(model.TrainMetricKeys),
		val:        newHistory(model.EvalMetricKeys),
		test:       newHistory(model.EvalMetricKeys),
		rng:        rng,
		seed:       *rng.Clone(),
	}
}

// Name returns the display name of the repeat.
func (r *TrainRecord) Name() string {
	return fmt.Sprintf("Repeat-%d", r.repeat)
}

// Repeat returns the repeat index.
func (r *TrainRecord) Repeat() int { return r.repeat }

// Dataset returns the dataset the repeat trains on.
func (r *TrainRecord) Dataset() model.Dataset { return r.dataset }

// Model returns the model being trained.
func (r *TrainRecord) Model() model.Model { return r.model }

// Optimizer returns the optimizer of the repeat.
func (r *TrainRecord) Optimizer() model.Optimizer { return r.optimizer }

// LossFunc returns the loss function of the repeat.
func (r *TrainRecord) LossFunc() model.LossFunc { return r.lossFn }

// Option returns the training option of the repeat.
func (r *TrainRecord) Option() model.TrainingOption { return r.option }

// TargetPath returns the checkpoint directory of the repeat.
func (r *TrainRecord) TargetPath() string { return r.targetPath }

// RNG returns the live generator used for shuffling and noise.
func (r *TrainRecord) RNG() *nprand.State { return r.rng }

// Seed returns the last captured generator state.
func (r *TrainRecord) Seed() nprand.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seed
}

// Resume restores the generator to the captured state so training continues exactly where the
// last Pause (or checkpoint) left it.
func (r *TrainRecord) Resume() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.rng.Restore(r.seed)
}

// Pause captures the generator state.
func (r *TrainRecord) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seed = *r.rng.Clone()
}

// Epoch returns the number of completed epochs.
func (r *TrainRecord) Epoch() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// EpochsDone reports whether every configured epoch has run.
func (r *TrainRecord) EpochsDone() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch >= r.option.Epoch
}

// IsFinished reports whether every configured epoch has run and the final evaluation is attached.
func (r *TrainRecord) IsFinished() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch >= r.option.Epoch && r.evalRecord != nil
}

// History returns a copy of the history of one split.
func (r *TrainRecord) History(split model.Split) History {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch split {
	case model.TrainSplit:
		return r.train.clone()
	case model.ValSplit:
		return r.val.clone()
	case model.TestSplit:
		return r.test.clone()
	default:
		return History{}
	}
}

// Best returns the best value recorded for a split and metric.
func (r *TrainRecord) Best(split model.Split, key model.MetricKey) (BestEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.best.cell(split, key)
	if c == nil || !c.set {
		return BestEntry{}, false
	}
	return c.BestEntry, true
}

// BestSnapshot returns the model state captured at the best epoch of a split and metric.
func (r *TrainRecord) BestSnapshot(split model.Split, key model.MetricKey) []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.best.cell(split, key)
	if c == nil {
		return nil
	}
	return append([]byte(nil), c.snapshot...)
}

// BestRecord returns the best table flattened into best_<split>_<metric> and
// best_<split>_<metric>_epoch keys.
func (r *TrainRecord) BestRecord() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.best.flatten()
}

// EvalRecord returns the final evaluation, or nil before the repeat finishes.
func (r *TrainRecord) EvalRecord() *EvalRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.evalRecord
}

// SetEvalRecord attaches the final evaluation.
func (r *TrainRecord) SetEvalRecord(er *EvalRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evalRecord = er
}

// AppendEpoch records one completed epoch: it appends to every history, updates the best table,
// and advances the epoch counter in a single step. val and test are nil when the split is absent.
func (r *TrainRecord) AppendEpoch(train TrainMetrics, val, test *model.Metrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	type improvement struct {
		cell  *bestCell
		value float64
	}
	var improved []improvement
	for _, s := range []struct {
		split   model.Split
		metrics *model.Metrics
	}{{model.ValSplit, val}, {model.TestSplit, test}} {
		if s.metrics == nil {
			continue
		}
		for _, key := range model.EvalMetricKeys {
			c := r.best.cell(s.split, key)
			if v := s.metrics.Get(key); c.improvedBy(key, v) {
				improved = append(improved, improvement{cell: c, value: v})
			}
		}
	}

	var snapshot []byte
	if len(improved) > 0 {
		state, err := r.model.State()
		if err != nil {
			return errors.Wrapf(err, "snapshotting model at epoch %d", r.epoch)
		}
		snapshot = state
	}

	for _, key := range model.TrainMetricKeys {
		r.train[key] = append(r.train[key], train.get(key))
	}
	if val != nil {
		for _, key := range model.EvalMetricKeys {
			r.val[key] = append(r.val[key], val.Get(key))
		}
	}
	if test != nil {
		for _, key := range model.EvalMetricKeys {
			r.test[key] = append(r.test[key], test.Get(key))
		}
	}
	for _, imp := range improved {
		imp.cell.set = true
		imp.cell.Value = imp.value
		imp.cell.Epoch = r.epoch
		imp.cell.snapshot = snapshot
	}
	r.epoch++
	return nil
}

// Progress returns the completed and configured epoch counts.
func (r *TrainRecord) Progress() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch, r.option.Epoch
}

// TrainingStatus describes the repeat for progress displays.
func (r *TrainRecord) TrainingStatus() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.epoch >= r.option.Epoch && r.evalRecord != nil:
		return fmt.Sprintf("%s: finished", r.Name())
	case r.epoch >= r.option.Epoch:
		return fmt.Sprintf("%s: evaluating", r.Name())
	case r.epoch == 0:
		return fmt.Sprintf("%s: pending", r.Name())
	default:
		loss, _ := r.train.Last(model.LossKey)
		return fmt.Sprintf("%s: epoch %d/%d, train loss %.4f", r.Name(), r.epoch, r.option.Epoch, loss)
	}
}
