package check

import (
	"testing"

	"gotest.tools/assert"
)

type flagged struct {
	A bool
}

func (f *flagged) Validate() []error {
	return []error{
		True(f.A, "field A must be true"),
	}
}

type counted struct {
	N     int
	Inner []flagged
}

func (c counted) Validate() []error {
	return []error{
		GreaterThan(c.N, 0, "N must be positive"),
	}
}

func TestMethodSets(t *testing.T) {
	f := flagged{A: false}
	err := Validate(f)
	assert.ErrorContains(t, err, "error found at root: field A must be true: expected true, got false")
	err = Validate(&f)
	assert.ErrorContains(t, err, "error found at root: field A must be true: expected true, got false")
}

func TestNestedErrorsAreCollected(t *testing.T) {
	c := counted{N: 0, Inner: []flagged{{A: true}, {A: false}}}
	err := Validate(c)
	assert.ErrorContains(t, err, "2 errors found")
	assert.ErrorContains(t, err, "root.Inner[1]")
	assert.ErrorContains(t, err, "N must be positive: 0 is not greater than 0")
}

func TestValid(t *testing.T) {
	assert.NilError(t, Validate(counted{N: 1, Inner: []flagged{{A: true}}}))
	assert.NilError(t, Validate((*counted)(nil)))
}

func TestPositiveFloat(t *testing.T) {
	assert.NilError(t, PositiveFloat(0.1))
	assert.ErrorContains(t, PositiveFloat(0, "lr"), "lr: 0 is not a positive number")
}
