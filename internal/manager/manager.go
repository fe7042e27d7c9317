// Package manager is the entry point for callers that configure and drive training: it turns
// datasets into plans, owns the Trainer running them, and exports results.
package manager

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/brainfit/brainfit/internal/epoch"
	"github.com/brainfit/brainfit/internal/plan"
	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/internal/trainer"
	"github.com/brainfit/brainfit/pkg/checkpoints"
	"github.com/brainfit/brainfit/pkg/model"
)

const aggregateCacheSize = 64

// ErrTrainerExists is returned when plans would replace an existing trainer without forceUpdate.
var ErrTrainerExists = errors.New("a trainer with plans already exists")

// ErrPlanNotFound is returned for an unknown plan name or repeat.
var ErrPlanNotFound = errors.New("plan not found")

type aggregateKey struct {
	plan     string
	finished int
}

// TrainingManager builds plans from its current configuration and hands them to a Trainer.
type TrainingManager struct {
	mu       sync.Mutex
	factory  model.ModelFactory
	option   *model.TrainingOption
	saliency model.SaliencyParams
	storage  checkpoints.Storage
	sink     plan.Sink
	observer epoch.Observer
	trainer  *trainer.Trainer

	aggregates *lru.Cache[aggregateKey, *record.EvalRecord]
}

// New returns a TrainingManager with default saliency parameters and no trainer.
func New() *TrainingManager {
	cache, err := lru.New[aggregateKey, *record.EvalRecord](aggregateCacheSize)
	if err != nil {
		panic(err)
	}
	return &TrainingManager{saliency: model.DefaultSaliencyParams(), aggregates: cache}
}

// SetModelFactory sets the factory used by plans generated from now on.
func (m *TrainingManager) SetModelFactory(f model.ModelFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factory = f
}

// SetTrainingOption sets the option used by plans generated from now on.
func (m *TrainingManager) SetTrainingOption(o model.TrainingOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.option = &o
}

// SetSaliencyParams sets the saliency parameters of future plans and of every existing one.
func (m *TrainingManager) SetSaliencyParams(p model.SaliencyParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saliency = p
	if m.trainer == nil {
		return
	}
	for _, h := range m.trainer.GetTrainingPlanHolders() {
		h.SetSaliencyParams(p)
	}
}

// GetSaliencyParams returns the saliency parameters of future plans.
func (m *TrainingManager) GetSaliencyParams() model.SaliencyParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saliency
}

// SetStorage sets the backend finished repeats are uploaded to.
func (m *TrainingManager) SetStorage(s checkpoints.Storage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storage = s
}

// SetSink sets the sink finished repeats are reported to.
func (m *TrainingManager) SetSink(s plan.Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = s
}

// SetObserver sets the observer of batch and epoch progress.
func (m *TrainingManager) SetObserver(o epoch.Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// GeneratePlan builds one plan per dataset. With appendPlans the plans are queued on the existing
// trainer; otherwise they replace it, which requires forceUpdate if it still holds plans.
func (m *TrainingManager) GeneratePlan(datasets []model.Dataset, forceUpdate, appendPlans bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case len(datasets) == 0:
		return model.NewConfigurationError(model.ErrMissingDatasets)
	case m.factory == nil:
		return model.NewConfigurationError(model.ErrMissingModel)
	case m.option == nil:
		return model.NewConfigurationError(model.ErrMissingOption)
	}

	holders := make([]*plan.TrainingPlanHolder, 0, len(datasets))
	for _, ds := range datasets {
		h, err := plan.NewTrainingPlanHolder(m.factory, ds, *m.option, m.saliency)
		if err != nil {
			return err
		}
		h.SetStorage(m.storage)
		h.SetSink(m.sink)
		if m.observer != nil {
			h.SetObserver(m.observer)
		}
		holders = append(holders, h)
	}

	existing := m.trainer != nil && len(m.trainer.GetTrainingPlanHolders()) > 0
	switch {
	case existing && appendPlans:
		m.trainer.AddPlan(holders...)
	case existing && !forceUpdate:
		return ErrTrainerExists
	default:
		if m.trainer != nil {
			if err := m.trainer.Clean(true); err != nil {
				return errors.Wrap(err, "cleaning the previous trainer")
			}
		}
		m.trainer = trainer.New(holders...)
	}
	for _, h := range holders {
		log.WithField("plan", h.Name()).Infof("generated plan: %s", h.Option())
	}
	return nil
}

// Trainer returns the current trainer, or nil.
func (m *TrainingManager) Trainer() *trainer.Trainer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trainer
}

// Train starts the trainer. It fails if no plan has been generated.
func (m *TrainingManager) Train(mode trainer.RunMode) error {
	t := m.Trainer()
	if t == nil {
		return model.NewConfigurationError(model.ErrMissingDatasets)
	}
	t.Run(mode)
	return nil
}

// StopTraining interrupts the trainer.
func (m *TrainingManager) StopTraining() {
	if t := m.Trainer(); t != nil {
		t.SetInterrupt()
	}
}

// IsTraining reports whether the trainer is running.
func (m *TrainingManager) IsTraining() bool {
	t := m.Trainer()
	return t != nil && t.IsRunning()
}

// Wait blocks until the trainer's worker has exited.
func (m *TrainingManager) Wait() {
	if t := m.Trainer(); t != nil {
		t.Wait()
	}
}

// CleanTrainer stops and clears the trainer; see trainer.Trainer.Clean.
func (m *TrainingManager) CleanTrainer(force bool) error {
	t := m.Trainer()
	if t == nil {
		return nil
	}
	return t.Clean(force)
}

// Plans returns the plans of the trainer.
func (m *TrainingManager) Plans() []*plan.TrainingPlanHolder {
	t := m.Trainer()
	if t == nil {
		return nil
	}
	return t.GetTrainingPlanHolders()
}

// FindPlan returns the plan with the given name.
func (m *TrainingManager) FindPlan(name string) (*plan.TrainingPlanHolder, error) {
	for _, h := range m.Plans() {
		if h.Name() == name {
			return h, nil
		}
	}
	return nil, errors.Wrapf(ErrPlanNotFound, "no plan named %q", name)
}

// FindRecord returns one repeat of a plan.
func (m *TrainingManager) FindRecord(planName string, repeat int) (*record.TrainRecord, error) {
	h, err := m.FindPlan(planName)
	if err != nil {
		return nil, err
	}
	plans := h.GetPlans()
	if repeat < 0 || repeat >= len(plans) {
		return nil, errors.Wrapf(ErrPlanNotFound, "plan %s has no repeat %d", planName, repeat)
	}
	return plans[repeat], nil
}

// EvalRecord returns the final evaluation of one repeat, or the pooled evaluation of every
// finished repeat when repeat is negative. Pooled evaluations are cached until another repeat of
// the plan finishes.
func (m *TrainingManager) EvalRecord(planName string, repeat int) (*record.EvalRecord, error) {
	h, err := m.FindPlan(planName)
	if err != nil {
		return nil, err
	}
	if repeat >= 0 {
		er := h.GetEvalRecord(repeat)
		if er == nil {
			return nil, errors.Wrapf(ErrPlanNotFound, "plan %s repeat %d has not finished", planName, repeat)
		}
		return er, nil
	}

	key := aggregateKey{plan: planName, finished: h.FinishedCount()}
	if er, ok := m.aggregates.Get(key); ok {
		return er, nil
	}
	er := h.AggregateEvalRecord()
	if er == nil {
		return nil, errors.Wrapf(ErrPlanNotFound, "plan %s has no finished repeat", planName)
	}
	m.aggregates.Add(key, er)
	return er, nil
}
