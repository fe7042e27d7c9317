// Package models maps architecture names to model factories.
package models

import (
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/brainfit/brainfit/internal/models/softmax"
	"github.com/brainfit/brainfit/pkg/model"
)

var factories = map[string]model.ModelFactory{
	softmax.Name: softmax.Factory{},
}

// ByName returns the factory registered under name (case-insensitive). A missing name is a
// configuration error.
func ByName(name string) (model.ModelFactory, error) {
	f, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, model.NewConfigurationError(
			errors.Wrapf(model.ErrMissingModel, "unknown model %q (have %s)", name,
				strings.Join(Names(), ", ")))
	}
	return f, nil
}

// Names lists the registered architectures.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
