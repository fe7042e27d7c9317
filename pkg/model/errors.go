package model

import (
	"github.com/pkg/errors"
)

var (
	// ErrInputTooShort is returned by a ModelFactory when a sample is shorter than the minimum
	// receptive field of the architecture.
	ErrInputTooShort = errors.New("input is shorter than the model's minimum receptive field")
	// ErrMissingDatasets is returned when a plan is generated without datasets.
	ErrMissingDatasets = errors.New("no valid dataset is generated")
	// ErrMissingModel is returned when a plan is generated without a model factory.
	ErrMissingModel = errors.New("no valid model is selected")
	// ErrMissingOption is returned when a plan is generated without a training option.
	ErrMissingOption = errors.New("no valid training setting is generated")
)

// ConfigurationError marks a problem with user-supplied configuration. It is raised before any
// training work starts and is never retried.
type ConfigurationError struct {
	Err error
}

func (e ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e ConfigurationError) Unwrap() error {
	return e.Err
}

// Cause implements the github.com/pkg/errors causer interface.
func (e ConfigurationError) Cause() error {
	return e.Err
}

// NewConfigurationError wraps err as a ConfigurationError, or returns nil for a nil err.
func NewConfigurationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigurationError{Err: err}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce ConfigurationError
	return errors.As(err, &ce)
}
