package softmax

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
	"github.com/brainfit/brainfit/pkg/optim"
)

func TestInstantiateRejectsShortInput(t *testing.T) {
	_, err := Factory{}.Instantiate(model.Hyperparameters{MinSamplesHP: 8},
		model.InputSpec{Channels: 2, Samples: 4, NumClasses: 2}, nprand.New(0))
	require.True(t, errors.Is(err, model.ErrInputTooShort))

	m, err := Factory{}.Instantiate(nil,
		model.InputSpec{Channels: 2, Samples: 4, NumClasses: 3}, nprand.New(0))
	require.NoError(t, err)
	out, err := m.Infer([][]float64{make([]float64, 8)})
	require.NoError(t, err)
	require.Len(t, out[0], 3)
}

func TestTrainStepReducesLoss(t *testing.T) {
	m := New(2, 2)
	opt, err := optim.NewSGD(0.5, nil)
	require.NoError(t, err)
	batch := model.Batch{
		Inputs: [][]float64{{1, 0}, {0, 1}, {1, 0.1}, {0.1, 1}},
		Labels: []int{0, 1, 0, 1},
	}
	first, _, err := m.TrainStep(batch, optim.CrossEntropy{}, opt)
	require.NoError(t, err)
	var last float64
	for i := 0; i < 50; i++ {
		last, _, err = m.TrainStep(batch, optim.CrossEntropy{}, opt)
		require.NoError(t, err)
	}
	require.Less(t, last, first)
}

func TestStateRoundTrip(t *testing.T) {
	a, err := Factory{}.Instantiate(model.Hyperparameters{InitStdHP: 1.0},
		model.InputSpec{Channels: 1, Samples: 3, NumClasses: 2}, nprand.New(4))
	require.NoError(t, err)
	bs, err := a.State()
	require.NoError(t, err)

	b := New(2, 3)
	require.NoError(t, b.LoadState(bs))
	in := [][]float64{{0.3, -1, 2}}
	outA, err := a.Infer(in)
	require.NoError(t, err)
	outB, err := b.Infer(in)
	require.NoError(t, err)
	require.Equal(t, outA, outB)

	require.Error(t, New(3, 3).LoadState(bs))
}

func TestInputGradientsAreWeightRows(t *testing.T) {
	m := New(2, 2)
	copy(m.params, []float64{1, 2, 3, 4, 0, 0})
	g, err := m.InputGradients([][]float64{{9, 9}, {9, 9}}, []int{1, 0})
	require.NoError(t, err)
	require.Equal(t, [][]float64{{3, 4}, {1, 2}}, g)
}
