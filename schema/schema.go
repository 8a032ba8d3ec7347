// Package schema checks the shape of normalized results.
//
// A Schema is a tagged variant: any value, one of a set of kinds, an object with
// required keys, or a list whose items share a schema. Extra object keys are
// allowed.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

type Kind uint8

const (
	String Kind = iota + 1
	Int
	Float
	Bool
	Null
	Map
	List
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case Null:
		return "null"
	case Map:
		return "map"
	case List:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type variant uint8

const (
	variantAny variant = iota
	variantKinds
	variantObject
	variantList
)

type Schema struct {
	variant variant
	kinds   []Kind
	fields  map[string]Schema
	items   *Schema
}

// Any accepts every value, only requiring the key to exist.
func Any() Schema {
	return Schema{variant: variantAny}
}

func TypeOf(k Kind) Schema {
	return Schema{variant: variantKinds, kinds: []Kind{k}}
}

// OneOf accepts a value of any of the listed kinds.
func OneOf(kinds ...Kind) Schema {
	return Schema{variant: variantKinds, kinds: kinds}
}

// Object requires a map holding every key in fields, each matching its schema.
func Object(fields map[string]Schema) Schema {
	return Schema{variant: variantObject, fields: fields}
}

// ArrayOf requires a list whose every item matches item.
func ArrayOf(item Schema) Schema {
	return Schema{variant: variantList, items: &item}
}

type ValidationError struct {
	Path   string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return "schema: " + e.Reason
	}
	return fmt.Sprintf("schema: %s: %s", e.Path, e.Reason)
}

// Match returns nil when v conforms to s, otherwise the first ValidationError.
func Match(s Schema, v any) error {
	return match(s, "", v)
}

func match(s Schema, path string, v any) error {
	switch s.variant {
	case variantAny:
		return nil

	case variantKinds:
		got := KindOf(v)
		for _, k := range s.kinds {
			if k == got || (k == Float && got == Int) {
				return nil
			}
		}
		return ValidationError{Path: path, Reason: fmt.Sprintf("expected %s, got %s", kindList(s.kinds), got)}

	case variantObject:
		m, ok := v.(map[string]any)
		if !ok {
			return ValidationError{Path: path, Reason: fmt.Sprintf("expected map, got %s", KindOf(v))}
		}
		var missing []string
		for k := range s.fields {
			if _, ok := m[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return ValidationError{Path: path, Reason: "missing keys " + strings.Join(missing, ", ")}
		}
		for _, k := range sortedKeys(s.fields) {
			if err := match(s.fields[k], join(path, k), m[k]); err != nil {
				return err
			}
		}
		return nil

	case variantList:
		items, ok := v.([]any)
		if !ok {
			return ValidationError{Path: path, Reason: fmt.Sprintf("expected list, got %s", KindOf(v))}
		}
		for i, item := range items {
			if err := match(*s.items, fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
		return nil
	}
	return ValidationError{Path: path, Reason: "invalid schema"}
}

// KindOf classifies a decoded value. Unknown Go types report kind 0.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return Null
	case string:
		return String
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Int
	case float32, float64:
		return Float
	case bool:
		return Bool
	case map[string]any:
		return Map
	case []any:
		return List
	default:
		return 0
	}
}

func kindList(kinds []Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, "|")
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
