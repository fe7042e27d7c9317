package epoch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brainfit/brainfit/internal/models/softmax"
	"github.com/brainfit/brainfit/internal/record"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
	"github.com/brainfit/brainfit/pkg/optim"
)

type clockedModel struct {
	*softmax.Model
	clock    clockwork.FakeClock
	steps    int
	onStep   func(step int)
	failAt   int
	released int
}

func (m *clockedModel) TrainStep(
	b model.Batch, lossFn model.LossFunc, opt model.Optimizer,
) (float64, [][]float64, error) {
	m.steps++
	if m.failAt == m.steps {
		return 0, nil, errors.New("exploded")
	}
	m.clock.Advance(2 * time.Second)
	if m.onStep != nil {
		m.onStep(m.steps)
	}
	return m.Model.TrainStep(b, lossFn, opt)
}

func (m *clockedModel) Release() { m.released++ }

type countingObserver struct {
	samples int
	epochs  int
}

func (o *countingObserver) BatchDone(_ *record.TrainRecord, n int) { o.samples += n }

func (o *countingObserver) EpochDone(*record.TrainRecord, record.TrainMetrics, *model.Metrics, *model.Metrics) {
	o.epochs++
}

func batches() []model.Batch {
	return []model.Batch{
		{Inputs: [][]float64{{1, 0}, {0, 1}}, Labels: []int{0, 1}},
		{Inputs: [][]float64{{1, 0.2}, {0.1, 1}}, Labels: []int{0, 1}},
		{Inputs: [][]float64{{0.9, 0}}, Labels: []int{0}},
	}
}

func setup(t *testing.T, epochs int) (*clockedModel, *record.TrainRecord, model.Optimizer, *Runner, *countingObserver) {
	clock := clockwork.NewFakeClock()
	m := &clockedModel{Model: softmax.New(2, 2), clock: clock}
	opt, err := optim.NewSGD(0.1, nil)
	require.NoError(t, err)
	option := model.TrainingOption{Epoch: epochs, Loss: optim.CrossEntropy{}}
	rec := record.NewTrainRecord(0, nil, m, option, opt, nprand.New(0),
		filepath.Join(t.TempDir(), "ds-0000", "Repeat-0"))
	obs := &countingObserver{}
	return m, rec, opt, &Runner{Clock: clock, Observer: obs}, obs
}

func TestRunAppendsOneEpoch(t *testing.T) {
	m, rec, opt, r, obs := setup(t, 3)
	require.NoError(t, r.Run(context.Background(), m, batches(), batches()[:1], nil,
		opt, optim.CrossEntropy{}, rec))

	require.Equal(t, 1, rec.Epoch())
	train := rec.History(model.TrainSplit)
	require.Equal(t, []float64{6}, train[model.TimeKey])
	require.Equal(t, []float64{0.1}, train[model.LRKey])
	require.Len(t, rec.History(model.ValSplit)[model.LossKey], 1)
	require.Empty(t, rec.History(model.TestSplit)[model.LossKey])
	require.Equal(t, 5, obs.samples)
	require.Equal(t, 1, obs.epochs)
	require.Equal(t, 1, m.released)
}

func TestRunInterruptedLeavesRecordUntouched(t *testing.T) {
	m, rec, opt, r, obs := setup(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	m.onStep = func(step int) {
		if step == 2 {
			cancel()
		}
	}
	require.NoError(t, r.Run(ctx, m, batches(), nil, nil, opt, optim.CrossEntropy{}, rec))
	require.Equal(t, 0, rec.Epoch())
	require.Empty(t, rec.History(model.TrainSplit)[model.LossKey])
	require.Equal(t, 2, m.steps)
	require.Equal(t, 0, obs.epochs)
}

func TestRunWithoutSamplesIsNoop(t *testing.T) {
	m, rec, opt, r, _ := setup(t, 3)
	require.NoError(t, r.Run(context.Background(), m, nil, batches(), nil, opt, optim.CrossEntropy{}, rec))
	require.Equal(t, 0, rec.Epoch())
}

func TestRunPropagatesModelErrors(t *testing.T) {
	m, rec, opt, r, _ := setup(t, 3)
	m.failAt = 2
	err := r.Run(context.Background(), m, batches(), nil, nil, opt, optim.CrossEntropy{}, rec)
	require.ErrorContains(t, err, "exploded")
	require.Equal(t, 0, rec.Epoch())
}

func TestRunExportsCheckpointEveryNEpochs(t *testing.T) {
	m, rec, opt, r, _ := setup(t, 4)
	r.CheckpointEpoch = 2
	for i := 0; i < 3; i++ {
		require.NoError(t, r.Run(context.Background(), m, batches(), batches(), batches(),
			opt, optim.CrossEntropy{}, rec))
	}
	_, err := os.Stat(filepath.Join(rec.TargetPath(), "Epoch-2-model"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(rec.TargetPath(), "Epoch-1-model"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(rec.TargetPath(), "Epoch-3-model"))
	require.True(t, os.IsNotExist(err))
}
