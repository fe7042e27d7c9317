package synthetic

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

func TestSplitsArePartition(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	var all []int
	all = append(all, d.TrainingIndices()...)
	all = append(all, d.ValidationIndices()...)
	all = append(all, d.TestIndices()...)
	sort.Ints(all)
	require.Len(t, all, 80)
	for i, v := range all {
		require.Equal(t, i, v)
	}
	require.Len(t, d.ValidationIndices(), 16)
	require.Len(t, d.TestIndices(), 16)
}

func TestBatchesShuffleOnlyWithRNG(t *testing.T) {
	d, err := New(DefaultConfig())
	require.NoError(t, err)

	plain := model.SplitBatches(d, model.ValSplit, 5, nprand.New(1))
	require.Len(t, plain, 4)
	require.Equal(t, 1, plain[3].Len())
	again := model.SplitBatches(d, model.ValSplit, 5, nprand.New(2))
	require.Equal(t, plain, again)

	a := model.SplitBatches(d, model.TrainSplit, 8, nprand.New(1))
	b := model.SplitBatches(d, model.TrainSplit, 8, nprand.New(1))
	require.Equal(t, a, b)
}

func TestInvalidConfig(t *testing.T) {
	c := DefaultConfig()
	c.NumClasses = 1
	_, err := New(c)
	require.True(t, model.IsConfigurationError(err))
}

func TestEmptySplitHasNoBatches(t *testing.T) {
	c := DefaultConfig()
	c.ValFraction, c.TestFraction = 0, 0
	d, err := New(c)
	require.NoError(t, err)
	require.Nil(t, model.SplitBatches(d, model.TestSplit, 4, nil))
}
