package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/brainfit/brainfit/pkg/check"
)

type nopOptimizer struct{}

func (nopOptimizer) Step(params, grads []float64) {}
func (nopOptimizer) LearningRate() float64        { return 0.1 }

type nopLoss struct{}

func (nopLoss) Loss(outputs [][]float64, labels []int) float64     { return 0 }
func (nopLoss) Grad(outputs [][]float64, labels []int) [][]float64 { return nil }

func validOption() TrainingOption {
	return TrainingOption{
		OutputDir:    "/tmp/out",
		Epoch:        2,
		BatchSize:    8,
		RepeatNum:    1,
		LearningRate: 0.01,
		NewOptimizer: func(float64, map[string]float64) (Optimizer, error) {
			return nopOptimizer{}, nil
		},
		Loss: nopLoss{},
	}
}

func TestTrainingOptionValidate(t *testing.T) {
	require.NoError(t, check.Validate(validOption()))

	o := validOption()
	o.Epoch = 0
	o.NewOptimizer = nil
	o.EvaluationOption = "best_guess"
	err := check.Validate(o)
	require.ErrorContains(t, err, "3 errors found")
	require.ErrorContains(t, err, "epoch must be positive")
	require.ErrorContains(t, err, "an optimizer factory must be provided")
	require.ErrorContains(t, err, `unknown evaluation option "best_guess"`)
}

func TestEvaluationOptionBest(t *testing.T) {
	split, metric, ok := EvalTestAUC.Best()
	require.True(t, ok)
	require.Equal(t, TestSplit, split)
	require.Equal(t, AUCKey, metric)

	_, _, ok = EvalLastEpoch.Best()
	require.False(t, ok)
}

func TestConfigurationError(t *testing.T) {
	err := errors.Wrap(NewConfigurationError(ErrInputTooShort), "building plan")
	require.True(t, IsConfigurationError(err))
	require.ErrorIs(t, err, ErrInputTooShort)
	require.False(t, IsConfigurationError(ErrInputTooShort))
	require.NoError(t, NewConfigurationError(nil))
}

func TestHyperparameters(t *testing.T) {
	hp := Hyperparameters{"hidden": 16, "dropout": 0.5, "name": "x"}
	require.Equal(t, 16, hp.Int("hidden", 0))
	require.Equal(t, 0.5, hp.Float("dropout", 0))
	require.Equal(t, 3, hp.Int("name", 3))
	require.Equal(t, 7, hp.Int("missing", 7))
}

func TestMetricKeyPolarity(t *testing.T) {
	require.True(t, LossKey.LowerIsBetter())
	require.False(t, AccKey.LowerIsBetter())
	require.False(t, AUCKey.LowerIsBetter())
}
