package check

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Validatable is implemented by anything that has fields that should be validated.
type Validatable interface {
	Validate() []error
}

// formatErrors lists every failure, sorted so the message is stable across map iteration orders.
func formatErrors(errs []error) string {
	lines := make([]string, 0, len(errs))
	for _, err := range errs {
		lines = append(lines, err.Error())
	}
	sort.Strings(lines)
	return fmt.Sprintf("Check Failed! %d errors found:\n\t%s", len(errs), strings.Join(lines, "\n\t"))
}

// Validate walks v and returns one error combining every failure reported by a Validatable
// value found along the way, or nil.
func Validate(v interface{}) error {
	result := &multierror.Error{ErrorFormat: formatErrors}
	walk(reflect.ValueOf(v), "root", result)
	return result.ErrorOrNil()
}

func walk(v reflect.Value, path string, result *multierror.Error) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Ptr:
		if !v.IsNil() {
			walk(v.Elem(), path, result)
		}
		return
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), fmt.Sprintf("%s[%d]", path, i), result)
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			walk(iter.Value(), fmt.Sprintf("%s[%v]", path, iter.Key().Interface()), result)
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if t.Field(i).IsExported() {
				walk(v.Field(i), path+"."+t.Field(i).Name, result)
			}
		}
	}

	// Copy into an addressable value so pointer-receiver Validate methods are found too.
	addressable := reflect.New(v.Type())
	addressable.Elem().Set(v)
	validatable, ok := addressable.Interface().(Validatable)
	if !ok {
		return
	}
	for _, err := range validatable.Validate() {
		if err != nil {
			result.Errors = append(result.Errors, errors.Wrapf(err, "error found at %s", path))
		}
	}
}
