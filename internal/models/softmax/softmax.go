// Package softmax is a multinomial logistic regression over flattened samples. It is the
// reference model the binary trains when no other architecture is registered.
package softmax

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/model"
	"github.com/brainfit/brainfit/pkg/nprand"
)

// Name is the registry name of the model.
const Name = "softmax"

// Hyperparameter names understood by the factory.
const (
	// MinSamplesHP is the shortest sample length (per channel) the model accepts.
	MinSamplesHP = "min_samples"
	// InitStdHP is the standard deviation of the initial weights.
	InitStdHP = "init_std"
)

// Model is a linear layer producing one logit per class.
type Model struct {
	classes  int
	features int
	// params holds the weights row-major by class followed by the biases.
	params []float64
}

type state struct {
	Classes  int       `json:"classes"`
	Features int       `json:"features"`
	Params   []float64 `json:"params"`
}

// Factory builds softmax models.
type Factory struct{}

// Instantiate implements model.ModelFactory.
func (Factory) Instantiate(
	hp model.Hyperparameters, spec model.InputSpec, rng *nprand.State,
) (model.Model, error) {
	if minSamples := hp.Int(MinSamplesHP, 1); spec.Samples < minSamples {
		return nil, errors.Wrapf(model.ErrInputTooShort,
			"%d samples per channel, need at least %d", spec.Samples, minSamples)
	}
	if spec.NumClasses < 2 {
		return nil, errors.Errorf("softmax needs at least 2 classes, got %d", spec.NumClasses)
	}
	if spec.Features() <= 0 {
		return nil, errors.Errorf("invalid input shape %dx%d", spec.Channels, spec.Samples)
	}
	m := New(spec.NumClasses, spec.Features())
	if std := hp.Float(InitStdHP, 0.01); std > 0 && rng != nil {
		for i := 0; i < m.classes*m.features; i++ {
			m.params[i] = rng.Normal(0, std)
		}
	}
	return m, nil
}

// New returns a zero-initialized model.
func New(classes, features int) *Model {
	return &Model{
		classes:  classes,
		features: features,
		params:   make([]float64, classes*features+classes),
	}
}

func (m *Model) weight(class, feature int) float64 {
	return m.params[class*m.features+feature]
}

func (m *Model) bias(class int) float64 {
	return m.params[m.classes*m.features+class]
}

func (m *Model) forward(row []float64) ([]float64, error) {
	if len(row) != m.features {
		return nil, errors.Errorf("input has %d features, model expects %d", len(row), m.features)
	}
	logits := make([]float64, m.classes)
	for c := range logits {
		z := m.bias(c)
		for f, x := range row {
			z += m.weight(c, f) * x
		}
		logits[c] = z
	}
	return logits, nil
}

// Infer implements model.Model.
func (m *Model) Infer(inputs [][]float64) ([][]float64, error) {
	out := make([][]float64, len(inputs))
	for i, row := range inputs {
		logits, err := m.forward(row)
		if err != nil {
			return nil, err
		}
		out[i] = logits
	}
	return out, nil
}

// TrainStep implements model.Model.
func (m *Model) TrainStep(
	batch model.Batch, lossFn model.LossFunc, opt model.Optimizer,
) (float64, [][]float64, error) {
	outputs, err := m.Infer(batch.Inputs)
	if err != nil {
		return 0, nil, err
	}
	for _, l := range batch.Labels {
		if l < 0 || l >= m.classes {
			return 0, nil, errors.Errorf("label %d outside of %d classes", l, m.classes)
		}
	}
	loss := lossFn.Loss(outputs, batch.Labels)
	dLogits := lossFn.Grad(outputs, batch.Labels)

	grads := make([]float64, len(m.params))
	for i, row := range batch.Inputs {
		for c, g := range dLogits[i] {
			for f, x := range row {
				grads[c*m.features+f] += g * x
			}
			grads[m.classes*m.features+c] += g
		}
	}
	opt.Step(m.params, grads)
	return loss, outputs, nil
}

// InputGradients implements model.GradientModel. The gradient of a logit with respect to the
// input is the weight row of its class.
func (m *Model) InputGradients(inputs [][]float64, targets []int) ([][]float64, error) {
	if len(inputs) != len(targets) {
		return nil, errors.Errorf("%d inputs but %d targets", len(inputs), len(targets))
	}
	out := make([][]float64, len(inputs))
	for i, row := range inputs {
		if len(row) != m.features {
			return nil, errors.Errorf("input has %d features, model expects %d", len(row), m.features)
		}
		t := targets[i]
		if t < 0 || t >= m.classes {
			return nil, errors.Errorf("target %d outside of %d classes", t, m.classes)
		}
		out[i] = append([]float64(nil), m.params[t*m.features:(t+1)*m.features]...)
	}
	return out, nil
}

// State implements model.Model.
func (m *Model) State() ([]byte, error) {
	return json.Marshal(state{Classes: m.classes, Features: m.features, Params: m.params})
}

// LoadState implements model.Model.
func (m *Model) LoadState(bs []byte) error {
	var s state
	if err := json.Unmarshal(bs, &s); err != nil {
		return errors.Wrap(err, "parsing softmax state")
	}
	if s.Classes != m.classes || s.Features != m.features ||
		len(s.Params) != len(m.params) {
		return errors.Errorf("state shape %dx%d does not match model %dx%d",
			s.Classes, s.Features, m.classes, m.features)
	}
	copy(m.params, s.Params)
	return nil
}
