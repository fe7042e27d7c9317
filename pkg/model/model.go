package model

import "github.com/brainfit/brainfit/pkg/nprand"

// Hyperparameters are the architecture options handed to a ModelFactory.
type Hyperparameters map[string]interface{}

// Float returns the named hyperparameter as a float64, or def if it is unset or not numeric.
func (h Hyperparameters) Float(name string, def float64) float64 {
	switch v := h[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Int returns the named hyperparameter as an int, or def if it is unset or not numeric.
func (h Hyperparameters) Int(name string, def int) int {
	return int(h.Float(name, float64(def)))
}

// Model is a trainable classifier with a serializable parameter state.
type Model interface {
	// Infer returns one output vector per input row. It never updates parameters.
	Infer(inputs [][]float64) ([][]float64, error)
	// TrainStep runs one forward/backward pass over the batch, applies opt, and returns the mean
	// batch loss together with the outputs computed before the update.
	TrainStep(batch Batch, lossFn LossFunc, opt Optimizer) (float64, [][]float64, error)
	State() ([]byte, error)
	LoadState(state []byte) error
}

// GradientModel is a Model that can attribute its outputs back to its inputs.
type GradientModel interface {
	Model
	// InputGradients returns d(output[target])/d(input) for every row.
	InputGradients(inputs [][]float64, targets []int) ([][]float64, error)
}

// Releaser is implemented by models holding transient buffers that can be dropped between
// epochs.
type Releaser interface {
	Release()
}

// ModelFactory builds fresh model instances. Instantiate must return an error wrapping
// ErrInputTooShort when spec is smaller than the architecture can accept.
type ModelFactory interface {
	Instantiate(hp Hyperparameters, spec InputSpec, rng *nprand.State) (Model, error)
}

// ModelFactoryFunc adapts a function to a ModelFactory.
type ModelFactoryFunc func(hp Hyperparameters, spec InputSpec, rng *nprand.State) (Model, error)

// Instantiate implements ModelFactory.
func (f ModelFactoryFunc) Instantiate(
	hp Hyperparameters, spec InputSpec, rng *nprand.State,
) (Model, error) {
	return f(hp, spec, rng)
}

// LossFunc scores outputs against labels.
type LossFunc interface {
	// Loss returns the mean loss over the rows.
	Loss(outputs [][]float64, labels []int) float64
	// Grad returns the gradient of the mean loss with respect to every output.
	Grad(outputs [][]float64, labels []int) [][]float64
}

// Optimizer applies gradients to a flat parameter vector in place.
type Optimizer interface {
	Step(params, grads []float64)
	LearningRate() float64
}

// OptimizerFactory builds an optimizer from a learning rate and optimizer-specific options.
type OptimizerFactory func(lr float64, params map[string]float64) (Optimizer, error)
