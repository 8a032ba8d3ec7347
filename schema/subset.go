package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Subset checks that every key of expected exists in actual with an equal
// value. Keys only present in actual are ignored. Numbers compare by value, so
// int64(1), 1 and 1.0 are equal.
func Subset(actual, expected map[string]any) error {
	var missing []string
	for k := range expected {
		if _, ok := actual[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ValidationError{Reason: "missing keys " + strings.Join(missing, ", ")}
	}

	for _, k := range sortedKeys(expected) {
		if !Equal(actual[k], expected[k]) {
			return ValidationError{Path: k, Reason: fmt.Sprintf("got %v, want %v", actual[k], expected[k])}
		}
	}
	return nil
}

// Equal is reflect.DeepEqual with numeric normalization inside maps and lists.
func Equal(a, b any) bool {
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}
