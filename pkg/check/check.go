// Package check holds small assertion helpers that return errors instead of failing, and a
// reflection-based walker that collects them from every Validatable value in a struct tree.
package check

import (
	"fmt"

	"github.com/pkg/errors"
)

// describe renders the optional message arguments of a check: either a single value, or a format
// string followed by its arguments.
func describe(msgAndArgs []interface{}) string {
	switch len(msgAndArgs) {
	case 0:
		return ""
	case 1:
		return fmt.Sprint(msgAndArgs[0])
	default:
		if f, ok := msgAndArgs[0].(string); ok {
			return fmt.Sprintf(f, msgAndArgs[1:]...)
		}
		return fmt.Sprint(msgAndArgs...)
	}
}

func failUnless(ok bool, msgAndArgs []interface{}, reason string, args ...interface{}) error {
	if ok {
		return nil
	}
	if msg := describe(msgAndArgs); msg != "" {
		return errors.Errorf("%s: %s", msg, fmt.Sprintf(reason, args...))
	}
	return errors.Errorf(reason, args...)
}

// True checks whether the condition is true.
func True(condition bool, msgAndArgs ...interface{}) error {
	return failUnless(condition, msgAndArgs, "expected true, got false")
}

// GreaterThan checks whether `actual` is greater than `expected`.
func GreaterThan(actual, expected int, msgAndArgs ...interface{}) error {
	return failUnless(actual > expected, msgAndArgs, "%d is not greater than %d", actual, expected)
}

// GreaterThanOrEqualTo checks whether `actual` is greater than or equal to `expected`.
func GreaterThanOrEqualTo(actual, expected int, msgAndArgs ...interface{}) error {
	return failUnless(actual >= expected, msgAndArgs,
		"%d is not greater than or equal to %d", actual, expected)
}

// PositiveFloat checks whether `actual` is a finite number greater than zero.
func PositiveFloat(actual float64, msgAndArgs ...interface{}) error {
	return failUnless(actual > 0 && actual < 1e308, msgAndArgs, "%v is not a positive number", actual)
}

// NotEmpty checks whether the string is non-empty.
func NotEmpty(actual string, msgAndArgs ...interface{}) error {
	return failUnless(actual != "", msgAndArgs, "value must not be empty")
}
