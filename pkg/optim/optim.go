// Package optim holds the reference optimizers and loss used by the brainfit binary. The training
// core only sees them through the pkg/model interfaces.
package optim

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/pkg/model"
)

const (
	// SGDName selects stochastic gradient descent with optional momentum.
	SGDName = "sgd"
	// AdamName selects Adam.
	AdamName = "adam"
)

var factories = map[string]model.OptimizerFactory{
	SGDName:  NewSGD,
	AdamName: NewAdam,
}

// ByName resolves an optimizer name from configuration into a factory.
func ByName(name string) (model.OptimizerFactory, error) {
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, errors.Errorf("unknown optimizer %q, expected one of %v", name, Names())
	}
	return f, nil
}

// Names lists the known optimizer names.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func param(params map[string]float64, name string, def float64) float64 {
	if v, ok := params[name]; ok {
		return v
	}
	return def
}

// SGD is stochastic gradient descent with momentum and L2 weight decay.
type SGD struct {
	lr          float64
	momentum    float64
	weightDecay float64
	velocity    []float64
}

// NewSGD implements model.OptimizerFactory.
func NewSGD(lr float64, params map[string]float64) (model.Optimizer, error) {
	if lr <= 0 {
		return nil, errors.Errorf("sgd learning rate must be positive, got %v", lr)
	}
	momentum := param(params, "momentum", 0)
	if momentum < 0 || momentum >= 1 {
		return nil, errors.Errorf("sgd momentum must be in [0, 1), got %v", momentum)
	}
	return &SGD{lr: lr, momentum: momentum, weightDecay: param(params, "weight_decay", 0)}, nil
}

// Step implements model.Optimizer.
func (o *SGD) Step(params, grads []float64) {
	if len(o.velocity) != len(params) {
		o.velocity = make([]float64, len(params))
	}
	for i := range params {
		g := grads[i] + o.weightDecay*params[i]
		o.velocity[i] = o.momentum*o.velocity[i] + g
		params[i] -= o.lr * o.velocity[i]
	}
}

// LearningRate implements model.Optimizer.
func (o *SGD) LearningRate() float64 {
	return o.lr
}

// Adam is the Adam optimizer with L2 weight decay.
type Adam struct {
	lr, beta1, beta2, eps, weightDecay float64

	t    int
	m, v []float64
}

// NewAdam implements model.OptimizerFactory.
func NewAdam(lr float64, params map[string]float64) (model.Optimizer, error) {
	if lr <= 0 {
		return nil, errors.Errorf("adam learning rate must be positive, got %v", lr)
	}
	o := &Adam{
		lr:          lr,
		beta1:       param(params, "beta1", 0.9),
		beta2:       param(params, "beta2", 0.999),
		eps:         param(params, "eps", 1e-8),
		weightDecay: param(params, "weight_decay", 0),
	}
	if o.beta1 < 0 || o.beta1 >= 1 || o.beta2 < 0 || o.beta2 >= 1 {
		return nil, errors.Errorf("adam betas must be in [0, 1), got %v and %v", o.beta1, o.beta2)
	}
	return o, nil
}

// Step implements model.Optimizer.
func (o *Adam) Step(params, grads []float64) {
	if len(o.m) != len(params) {
		o.m = make([]float64, len(params))
		o.v = make([]float64, len(params))
		o.t = 0
	}
	o.t++
	c1 := 1 - math.Pow(o.beta1, float64(o.t))
	c2 := 1 - math.Pow(o.beta2, float64(o.t))
	for i := range params {
		g := grads[i] + o.weightDecay*params[i]
		o.m[i] = o.beta1*o.m[i] + (1-o.beta1)*g
		o.v[i] = o.beta2*o.v[i] + (1-o.beta2)*g*g
		params[i] -= o.lr * (o.m[i] / c1) / (math.Sqrt(o.v[i]/c2) + o.eps)
	}
}

// LearningRate implements model.Optimizer.
func (o *Adam) LearningRate() float64 {
	return o.lr
}
