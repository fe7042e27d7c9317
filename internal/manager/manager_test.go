package manager

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"gotest.tools/assert"

	"github.com/brainfit/brainfit/internal/datasets/synthetic"
	"github.com/brainfit/brainfit/internal/models/softmax"
	"github.com/brainfit/brainfit/internal/trainer"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/optim"
)

func dataset(t *testing.T, name string, seed uint32) model.Dataset {
	c := synthetic.DefaultConfig()
	c.Name = name
	c.Seed = seed
	c.SamplesPerClass = 10
	d, err := synthetic.New(c)
	require.NoError(t, err)
	return d
}

func configured(t *testing.T) *TrainingManager {
	m := New()
	m.SetModelFactory(softmax.Factory{})
	m.SetTrainingOption(model.TrainingOption{
		OutputDir:    t.TempDir(),
		Epoch:        2,
		BatchSize:    4,
		LearningRate: 0.1,
		RepeatNum:    2,
		NewOptimizer: optim.NewSGD,
		Loss:         optim.CrossEntropy{},
	})
	return m
}

func TestGeneratePlanRequiresConfiguration(t *testing.T) {
	m := New()
	err := m.GeneratePlan(nil, false, false)
	require.True(t, errors.Is(err, model.ErrMissingDatasets))

	err = m.GeneratePlan([]model.Dataset{dataset(t, "a", 1)}, false, false)
	require.True(t, errors.Is(err, model.ErrMissingModel))
	require.True(t, model.IsConfigurationError(err))

	m.SetModelFactory(softmax.Factory{})
	err = m.GeneratePlan([]model.Dataset{dataset(t, "a", 1)}, false, false)
	require.True(t, errors.Is(err, model.ErrMissingOption))

	require.True(t, model.IsConfigurationError(m.Train(trainer.RunInline)))
}

func TestGeneratePlanReplaceAndAppend(t *testing.T) {
	m := configured(t)
	require.NoError(t, m.GeneratePlan([]model.Dataset{dataset(t, "a", 1), dataset(t, "b", 2)}, false, false))
	require.Len(t, m.Plans(), 2)
	first := m.Trainer()

	require.ErrorIs(t, m.GeneratePlan([]model.Dataset{dataset(t, "c", 3)}, false, false), ErrTrainerExists)
	require.NoError(t, m.GeneratePlan([]model.Dataset{dataset(t, "c", 3)}, false, true))
	require.Len(t, m.Plans(), 3)
	require.True(t, first == m.Trainer())

	require.NoError(t, m.GeneratePlan([]model.Dataset{dataset(t, "d", 4)}, true, false))
	require.Len(t, m.Plans(), 1)
	require.False(t, first == m.Trainer())
	require.Empty(t, first.GetTrainingPlanHolders())
}

func TestTrainAndExport(t *testing.T) {
	m := configured(t)
	require.NoError(t, m.GeneratePlan([]model.Dataset{dataset(t, "a", 1)}, false, false))
	require.NoError(t, m.Train(trainer.RunBackground))
	m.Wait()
	require.False(t, m.IsTraining())

	h := m.Plans()[0]
	require.True(t, h.IsFinished())

	out := filepath.Join(t.TempDir(), "out", "repeat0.csv")
	require.NoError(t, m.ExportOutputCSV(out, h.Name(), 0))
	rows := readCSV(t, out)
	assert.DeepEqual(t, rows[0], []string{"Ground Truth", "Predict", "0", "1"})
	require.Len(t, rows, 1+h.GetEvalRecord(0).Len())
	for _, row := range rows[1:] {
		p0, err := strconv.ParseFloat(row[2], 64)
		require.NoError(t, err)
		p1, err := strconv.ParseFloat(row[3], 64)
		require.NoError(t, err)
		require.InDelta(t, 1.0, p0+p1, 1e-9)
	}

	pooled := filepath.Join(t.TempDir(), "pooled.csv")
	require.NoError(t, m.ExportOutputCSV(pooled, h.Name(), -1))
	require.Len(t, readCSV(t, pooled), 1+h.GetEvalRecord(0).Len()+h.GetEvalRecord(1).Len())

	a, err := m.EvalRecord(h.Name(), -1)
	require.NoError(t, err)
	b, err := m.EvalRecord(h.Name(), -1)
	require.NoError(t, err)
	require.True(t, a == b)

	require.ErrorIs(t, m.ExportOutputCSV(out, "missing", 0), ErrPlanNotFound)
	require.ErrorIs(t, m.ExportOutputCSV(out, h.Name(), 5), ErrPlanNotFound)

	s := m.Summary()
	assert.Equal(t, s.Status, trainer.StatusPending)
	require.Len(t, s.Plans, 1)
	require.True(t, s.Plans[0].Finished)
	require.Len(t, s.Plans[0].Records, 2)
	require.NotNil(t, s.Plans[0].Records[0].Acc)
	require.Equal(t, 2, s.Plans[0].Records[1].Epoch)
}

func TestSetSaliencyParamsPropagates(t *testing.T) {
	m := configured(t)
	require.NoError(t, m.GeneratePlan([]model.Dataset{dataset(t, "a", 1)}, false, false))
	p := model.DefaultSaliencyParams()
	p.SmoothGrad.Stdevs = 0.5
	m.SetSaliencyParams(p)
	require.Equal(t, 0.5, m.Plans()[0].GetSaliencyParams().SmoothGrad.Stdevs)
	require.Equal(t, p, m.GetSaliencyParams())
}

func TestStopTrainingWithoutTrainer(t *testing.T) {
	m := New()
	m.StopTraining()
	m.Wait()
	require.False(t, m.IsTraining())
	require.NoError(t, m.CleanTrainer(false))
	assert.Equal(t, m.Summary().Status, trainer.StatusPending)
}

func readCSV(t *testing.T, path string) [][]string {
	f, err := os.Open(path) // #nosec G304
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
