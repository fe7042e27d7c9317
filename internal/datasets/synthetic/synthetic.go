// Package synthetic generates Gaussian-blob classification datasets. Each class is a cloud of
// samples around its own random center.
package synthetic

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/check"
	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

// Config describes a synthetic dataset.
type Config struct {
	Name            string  `json:"name"`
	Channels        int     `json:"channels"`
	Samples         int     `json:"samples"`
	NumClasses      int     `json:"num_classes"`
	SamplesPerClass int     `json:"samples_per_class"`
	Separation      float64 `json:"separation"`
	Noise           float64 `json:"noise"`
	ValFraction     float64 `json:"val_fraction"`
	TestFraction    float64 `json:"test_fraction"`
	Seed            uint32  `json:"seed"`
}

// DefaultConfig returns a small, well separated two-class dataset.
func DefaultConfig() Config {
	return Config{
		Name:            "blobs",
		Channels:        2,
		Samples:         16,
		NumClasses:      2,
		SamplesPerClass: 40,
		Separation:      1.5,
		Noise:           1.0,
		ValFraction:     0.2,
		TestFraction:    0.2,
	}
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	return []error{
		check.NotEmpty(c.Name, "dataset name must be set"),
		check.GreaterThan(c.Channels, 0, "channels must be positive"),
		check.GreaterThan(c.Samples, 0, "samples must be positive"),
		check.GreaterThanOrEqualTo(c.NumClasses, 2, "num_classes must be at least 2"),
		check.GreaterThan(c.SamplesPerClass, 0, "samples_per_class must be positive"),
		check.True(c.Noise >= 0, "noise must not be negative"),
		check.True(c.ValFraction >= 0 && c.TestFraction >= 0 && c.ValFraction+c.TestFraction < 1,
			"val_fraction and test_fraction must be non-negative and sum to less than 1"),
	}
}

// Dataset is an in-memory model.Dataset.
type Dataset struct {
	name   string
	spec   model.InputSpec
	inputs [][]float64
	labels []int
	train  []int
	val    []int
	test   []int
}

// New generates the dataset described by c.
func New(c Config) (*Dataset, error) {
	if err := check.Validate(c); err != nil {
		return nil, model.NewConfigurationError(errors.Wrapf(err, "dataset %s", c.Name))
	}
	rng := nprand.New(c.Seed)
	spec := model.InputSpec{Channels: c.Channels, Samples: c.Samples, NumClasses: c.NumClasses}
	d := &Dataset{name: c.Name, spec: spec}

	centers := make([][]float64, c.NumClasses)
	for k := range centers {
		centers[k] = make([]float64, spec.Features())
		for f := range centers[k] {
			centers[k][f] = rng.Normal(0, c.Separation)
		}
	}
	for k := 0; k < c.NumClasses; k++ {
		for i := 0; i < c.SamplesPerClass; i++ {
			row := make([]float64, spec.Features())
			for f := range row {
				row[f] = centers[k][f] + rng.Normal(0, c.Noise+1e-12)
			}
			d.inputs = append(d.inputs, row)
			d.labels = append(d.labels, k)
		}
	}

	order := rng.Perm(len(d.labels))
	nVal := int(float64(len(order)) * c.ValFraction)
	nTest := int(float64(len(order)) * c.TestFraction)
	d.val = append([]int(nil), order[:nVal]...)
	d.test = append([]int(nil), order[nVal:nVal+nTest]...)
	d.train = append([]int(nil), order[nVal+nTest:]...)
	return d, nil
}

// FromArrays wraps precomputed samples. Empty index slices leave that split absent.
func FromArrays(
	name string, spec model.InputSpec, inputs [][]float64, labels []int, train, val, test []int,
) (*Dataset, error) {
	if len(inputs) != len(labels) {
		return nil, errors.Errorf("%d inputs but %d labels", len(inputs), len(labels))
	}
	for _, split := range [][]int{train, val, test} {
		for _, i := range split {
			if i < 0 || i >= len(labels) {
				return nil, errors.Errorf("index %d out of range for %d samples", i, len(labels))
			}
		}
	}
	return &Dataset{
		name: name, spec: spec, inputs: inputs, labels: labels,
		train: train, val: val, test: test,
	}, nil
}

// Name implements model.Dataset.
func (d *Dataset) Name() string { return d.name }

// InputSpec implements model.Dataset.
func (d *Dataset) InputSpec() model.InputSpec { return d.spec }

// TrainingIndices implements model.Dataset.
func (d *Dataset) TrainingIndices() []int { return append([]int(nil), d.train...) }

// ValidationIndices implements model.Dataset.
func (d *Dataset) ValidationIndices() []int { return append([]int(nil), d.val...) }

// TestIndices implements model.Dataset.
func (d *Dataset) TestIndices() []int { return append([]int(nil), d.test...) }

// Batches implements model.Dataset.
func (d *Dataset) Batches(indices []int, batchSize int, rng *nprand.State) []model.Batch {
	if batchSize <= 0 {
		batchSize = len(indices)
	}
	order := append([]int(nil), indices...)
	if rng != nil {
		rng.Shuffle(order)
	}
	var batches []model.Batch
	for start := 0; start < len(order); start += batchSize {
		end := start + batchSize
		if end > len(order) {
			end = len(order)
		}
		b := model.Batch{
			Inputs: make([][]float64, 0, end-start),
			Labels: make([]int, 0, end-start),
		}
		for _, i := range order[start:end] {
			b.Inputs = append(b.Inputs, d.inputs[i])
			b.Labels = append(b.Labels, d.labels[i])
		}
		batches = append(batches, b)
	}
	return batches
}

func (d *Dataset) String() string {
	return fmt.Sprintf("%s (%d train, %d val, %d test)", d.name, len(d.train), len(d.val), len(d.test))
}
