// Package model defines the contracts between the training core and the numeric capabilities it
// drives but does not implement: datasets, models, optimizers and loss functions.
package model

import "github.com/brainfit/brainfit/pkg/nprand"

// Batch is one mini-batch of flattened samples and their class labels.
type Batch struct {
	Inputs [][]float64
	Labels []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	return len(b.Labels)
}

// InputSpec describes the shape of one sample and the label space.
type InputSpec struct {
	Channels   int `json:"channels"`
	Samples    int `json:"samples"`
	NumClasses int `json:"num_classes"`
}

// Features returns the flattened length of one sample.
func (s InputSpec) Features() int {
	return s.Channels * s.Samples
}

// Dataset is a split dataset. The three index partitions are disjoint.
type Dataset interface {
	Name() string
	InputSpec() InputSpec
	TrainingIndices() []int
	ValidationIndices() []int
	TestIndices() []int
	// Batches groups the given indices into batches of at most batchSize samples, shuffling the
	// order with rng when it is non-nil.
	Batches(indices []int, batchSize int, rng *nprand.State) []Batch
}

// SplitBatches returns the batches for one split of ds, or nil if the split is empty. Only the
// training split is shuffled.
func SplitBatches(ds Dataset, split Split, batchSize int, rng *nprand.State) []Batch {
	var indices []int
	switch split {
	case TrainSplit:
		indices = ds.TrainingIndices()
	case ValSplit:
		indices, rng = ds.ValidationIndices(), nil
	case TestSplit:
		indices, rng = ds.TestIndices(), nil
	}
	if len(indices) == 0 {
		return nil
	}
	return ds.Batches(indices, batchSize, rng)
}
