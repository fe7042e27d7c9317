// Package plan trains every repeat of one dataset/model/option combination.
package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/epoch"
	"github.com/brainfit/brainfit/internal/eval"
	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/pkg/check"
	"github.com/brainfit/brainfit/pkg/checkpoints"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

// Sink receives every repeat as soon as it finishes.
type Sink interface {
	RecordFinished(ctx context.Context, plan *TrainingPlanHolder, rec *record.TrainRecord) error
}

// TrainingPlanHolder owns the records of the repeats of one plan. Train is called from a single
// worker goroutine; the accessors may be called from any goroutine.
type TrainingPlanHolder struct {
	ID      uuid.UUID
	factory model.ModelFactory
	dataset model.Dataset
	option  model.TrainingOption
	runner  *epoch.Runner

	mu       sync.RWMutex
	saliency model.SaliencyParams
	records  []*record.TrainRecord
	current  int
	root     string
	storage  checkpoints.Storage
	sink     Sink
}

// NewTrainingPlanHolder validates the plan and instantiates the model once so that an
// incompatible input shape is reported before any training starts.
func NewTrainingPlanHolder(
	factory model.ModelFactory,
	dataset model.Dataset,
	option model.TrainingOption,
	saliency model.SaliencyParams,
) (*TrainingPlanHolder, error) {
	if factory == nil {
		return nil, model.NewConfigurationError(model.ErrMissingModel)
	}
	if dataset == nil {
		return nil, model.NewConfigurationError(model.ErrMissingDatasets)
	}
	if err := check.Validate(option); err != nil {
		return nil, model.NewConfigurationError(errors.Wrap(err, "invalid training option"))
	}
	if err := check.Validate(saliency); err != nil {
		return nil, model.NewConfigurationError(errors.Wrap(err, "invalid saliency parameters"))
	}
	if len(dataset.TrainingIndices()) == 0 {
		return nil, model.NewConfigurationError(
			errors.Wrapf(model.ErrMissingDatasets, "dataset %s has no training samples", dataset.Name()))
	}

	m, err := factory.Instantiate(option.Hyperparameters, dataset.InputSpec(), nprand.New(option.Seed))
	if err != nil {
		return nil, model.NewConfigurationError(
			errors.Wrapf(err, "instantiating model for dataset %s", dataset.Name()))
	}
	if rel, ok := m.(model.Releaser); ok {
		rel.Release()
	}
	if _, err := option.NewOptimizer(option.LearningRate, option.OptimizerParams); err != nil {
		return nil, model.NewConfigurationError(errors.Wrap(err, "building optimizer"))
	}

	h := &TrainingPlanHolder{
		ID:       uuid.New(),
		factory:  factory,
		dataset:  dataset,
		option:   option,
		runner:   epoch.NewRunner(option.CheckpointEpoch, nil),
		saliency: saliency,
	}
	h.root = filepath.Join(option.OutputDir, h.Name())
	return h, nil
}

// Name identifies the plan; it is also the name of its checkpoint directory.
func (h *TrainingPlanHolder) Name() string {
	return fmt.Sprintf("%s-%s", h.dataset.Name(), h.ID.String()[:8])
}

// Dataset returns the dataset of the plan.
func (h *TrainingPlanHolder) Dataset() model.Dataset { return h.dataset }

// Option returns the training option of the plan.
func (h *TrainingPlanHolder) Option() model.TrainingOption { return h.option }

// Root returns the checkpoint directory of the plan.
func (h *TrainingPlanHolder) Root() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.root
}

// SetObserver installs an observer notified of batch and epoch progress.
func (h *TrainingPlanHolder) SetObserver(o epoch.Observer) {
	h.runner.Observer = o
}

// SetStorage installs a backend every finished repeat is uploaded to.
func (h *TrainingPlanHolder) SetStorage(s checkpoints.Storage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storage = s
}

// SetSink installs a sink notified of every finished repeat.
func (h *TrainingPlanHolder) SetSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = s
}

// SetSaliencyParams replaces the saliency parameters used by repeats finishing from now on.
func (h *TrainingPlanHolder) SetSaliencyParams(p model.SaliencyParams) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saliency = p
}

// GetSaliencyParams returns the saliency parameters.
func (h *TrainingPlanHolder) GetSaliencyParams() model.SaliencyParams {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.saliency
}

// GetPlans returns the records created so far, in repeat order.
func (h *TrainingPlanHolder) GetPlans() []*record.TrainRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]*record.TrainRecord(nil), h.records...)
}

// GetEvalRecord returns the final evaluation of one repeat, or nil.
func (h *TrainingPlanHolder) GetEvalRecord(repeat int) *record.EvalRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if repeat < 0 || repeat >= len(h.records) {
		return nil
	}
	return h.records[repeat].EvalRecord()
}

// AggregateEvalRecord pools the final evaluations of every finished repeat, or returns nil if
// none has finished.
func (h *TrainingPlanHolder) AggregateEvalRecord() *record.EvalRecord {
	plans := h.GetPlans()
	ers := make([]*record.EvalRecord, 0, len(plans))
	for _, rec := range plans {
		ers = append(ers, rec.EvalRecord())
	}
	return record.AggregateEvalRecords(ers...)
}

// FinishedCount returns the number of repeats with a final evaluation.
func (h *TrainingPlanHolder) FinishedCount() int {
	var n int
	for _, rec := range h.GetPlans() {
		if rec.IsFinished() {
			n++
		}
	}
	return n
}

// CurrentRecord returns the record of the repeat in progress, or nil.
func (h *TrainingPlanHolder) CurrentRecord() *record.TrainRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current < len(h.records) {
		return h.records[h.current]
	}
	return nil
}

// IsFinished reports whether every repeat has finished.
func (h *TrainingPlanHolder) IsFinished() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current >= h.option.RepeatNum
}

// TrainingStatus describes the plan for progress displays.
func (h *TrainingPlanHolder) TrainingStatus() string {
	h.mu.RLock()
	current := h.current
	h.mu.RUnlock()
	if current >= h.option.RepeatNum {
		return fmt.Sprintf("%s: finished %d/%d repeats", h.Name(), current, h.option.RepeatNum)
	}
	status := fmt.Sprintf("%s: repeat %d/%d", h.Name(), current+1, h.option.RepeatNum)
	if rec := h.CurrentRecord(); rec != nil {
		status += ", " + rec.TrainingStatus()
	}
	return status
}

// ResumeFrom loads the records persisted under dir, which becomes the checkpoint directory of the
// plan. Loading stops at the first repeat whose checkpoint is missing or unreadable; that repeat
// is trained again. It must be called before Train.
func (h *TrainingPlanHolder) ResumeFrom(dir string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) > 0 {
		return errors.Errorf("plan %s already has records", h.Name())
	}

	prevRoot := h.root
	h.root = dir
	var (
		loaded  []*record.TrainRecord
		current int
	)
	for repeat := 0; repeat < h.option.RepeatNum; repeat++ {
		rec, err := h.newRecord(repeat)
		if err != nil {
			h.root = prevRoot
			return err
		}
		if _, err := os.Stat(filepath.Join(rec.TargetPath(), "record")); os.IsNotExist(err) {
			break
		}
		if err := rec.Load(); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"plan":   h.Name(),
				"repeat": repeat,
			}).Warn("ignoring unreadable checkpoint, the repeat will be trained again")
			break
		}
		loaded = append(loaded, rec)
		if rec.IsFinished() && current == repeat {
			current++
		}
	}
	h.records = loaded
	h.current = current
	log.WithField("plan", h.Name()).Infof("resumed %d records from %s", len(loaded), dir)
	return nil
}

// newRecord builds the record of one repeat with a fresh model. The caller holds h.mu.
func (h *TrainingPlanHolder) newRecord(repeat int) (*record.TrainRecord, error) {
	rng := nprand.New(h.option.Seed + uint32(repeat))
	m, err := h.factory.Instantiate(h.option.Hyperparameters, h.dataset.InputSpec(), rng)
	if err != nil {
		return nil, errors.Wrap(err, "instantiating model")
	}
	if h.option.PretrainedPath != "" {
		state, err := os.ReadFile(h.option.PretrainedPath)
		if err != nil {
			return nil, errors.Wrap(err, "reading pretrained weights")
		}
		if err := m.LoadState(state); err != nil {
			return nil, errors.Wrapf(err, "loading pretrained weights from %s", h.option.PretrainedPath)
		}
	}
	opt, err := h.option.NewOptimizer(h.option.LearningRate, h.option.OptimizerParams)
	if err != nil {
		return nil, errors.Wrap(err, "building optimizer")
	}
	target := filepath.Join(h.root, fmt.Sprintf("Repeat-%d", repeat))
	return record.NewTrainRecord(repeat, h.dataset, m, h.option, opt, rng, target), nil
}

// recordFor returns the unfinished record of repeat, creating it if needed.
func (h *TrainingPlanHolder) recordFor(repeat int) (*record.TrainRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if repeat < len(h.records) {
		return h.records[repeat], nil
	}
	rec, err := h.newRecord(repeat)
	if err != nil {
		return nil, err
	}
	h.records = append(h.records, rec)
	return rec, nil
}

// Train runs the remaining repeats in order. It returns nil when ctx is done, leaving the record
// in progress resumable by a later call.
func (h *TrainingPlanHolder) Train(ctx context.Context) error {
	for {
		h.mu.RLock()
		repeat := h.current
		h.mu.RUnlock()
		if repeat >= h.option.RepeatNum || ctx.Err() != nil {
			return nil
		}

		rec, err := h.recordFor(repeat)
		if err != nil {
			return errors.Wrapf(err, "preparing %s repeat %d", h.Name(), repeat)
		}
		finished, err := h.trainRecord(ctx, rec)
		if err != nil {
			return errors.Wrapf(err, "training %s repeat %d", h.Name(), repeat)
		}
		if !finished {
			return nil
		}
		h.mu.Lock()
		h.current++
		h.mu.Unlock()
	}
}

func (h *TrainingPlanHolder) trainRecord(ctx context.Context, rec *record.TrainRecord) (bool, error) {
	logCtx := log.WithFields(log.Fields{"plan": h.Name(), "repeat": rec.Repeat()})
	ds, bs := h.dataset, h.option.BatchSize
	val := model.SplitBatches(ds, model.ValSplit, bs, nil)
	test := model.SplitBatches(ds, model.TestSplit, bs, nil)

	rec.Resume()
	for !rec.EpochsDone() && ctx.Err() == nil {
		// The shuffle of an epoch that does not complete is replayed on resume.
		mark := *rec.RNG().Clone()
		before := rec.Epoch()
		train := model.SplitBatches(ds, model.TrainSplit, bs, rec.RNG())
		if err := h.runner.Run(ctx, rec.Model(), train, val, test,
			rec.Optimizer(), rec.LossFunc(), rec); err != nil {
			rec.Pause()
			return false, err
		}
		if rec.Epoch() == before {
			rec.RNG().Restore(mark)
			break
		}
	}
	rec.Pause()
	if !rec.EpochsDone() {
		logCtx.Infof("interrupted after %d epochs", rec.Epoch())
		return false, nil
	}
	if rec.EvalRecord() != nil {
		return true, nil
	}

	er, err := eval.ComputeSaliency(ctx, h.evaluationModel(rec), h.evaluationBatches(),
		h.GetSaliencyParams(), rec.RNG())
	if err != nil {
		if ctx.Err() != nil {
			logCtx.Info("interrupted during final evaluation")
			return false, nil
		}
		return false, errors.Wrap(err, "computing final evaluation")
	}
	rec.SetEvalRecord(er)
	if err := rec.ExportCheckpoint(); err != nil {
		return false, err
	}
	logCtx.WithFields(log.Fields{"acc": er.Acc(), "auc": er.AUC()}).Info("repeat finished")

	h.mu.RLock()
	storage, sink := h.storage, h.sink
	h.mu.RUnlock()
	if storage != nil {
		if err := rec.Upload(ctx, storage); err != nil {
			logCtx.WithError(err).Error("failed to upload checkpoint")
		}
	}
	if sink != nil {
		if err := sink.RecordFinished(ctx, h, rec); err != nil {
			logCtx.WithError(err).Error("failed to record finished repeat")
		}
	}
	return true, nil
}

// evaluationModel returns the model the final evaluation runs on: the trained model itself, or a
// separate instance restored from the best snapshot the evaluation option selects.
func (h *TrainingPlanHolder) evaluationModel(rec *record.TrainRecord) model.Model {
	split, metric, ok := h.option.EvaluationOption.Best()
	if !ok {
		return rec.Model()
	}
	logCtx := log.WithFields(log.Fields{"plan": h.Name(), "repeat": rec.Repeat()})
	snapshot := rec.BestSnapshot(split, metric)
	if snapshot == nil {
		logCtx.Warnf("no %s %s snapshot, evaluating the last epoch", split, metric)
		return rec.Model()
	}
	m, err := h.factory.Instantiate(h.option.Hyperparameters, h.dataset.InputSpec(),
		nprand.New(h.option.Seed))
	if err == nil {
		err = m.LoadState(snapshot)
	}
	if err != nil {
		logCtx.WithError(err).Warn("failed to restore best snapshot, evaluating the last epoch")
		return rec.Model()
	}
	return m
}

// evaluationBatches returns the test split, falling back to validation and then training.
func (h *TrainingPlanHolder) evaluationBatches() []model.Batch {
	for _, split := range []model.Split{model.TestSplit, model.ValSplit} {
		if b := model.SplitBatches(h.dataset, split, h.option.BatchSize, nil); b != nil {
			return b
		}
	}
	return h.dataset.Batches(h.dataset.TrainingIndices(), h.option.BatchSize, nil)
}
