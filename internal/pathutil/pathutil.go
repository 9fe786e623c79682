// Package pathutil holds the small value helpers shared by the expression
// evaluator, the template resolver and the entity context builder: keyed
// lookup into string-keyed maps and numeric widening.
package pathutil

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Lookup steps into container by key. isMap reports whether container is a
// string-keyed map at all; found reports whether the key was present.
func Lookup(container any, key string) (value any, isMap bool, found bool) {
	switch m := container.(type) {
	case map[string]any:
		v, ok := m[key]
		return v, true, ok
	case map[string]string:
		v, ok := m[key]
		if !ok {
			return nil, true, false
		}
		return v, true, true
	case nil:
		return nil, false, false
	}

	rv := reflect.ValueOf(container)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false, false
	}
	mv := rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key()))
	if !mv.IsValid() {
		return nil, true, false
	}
	return mv.Interface(), true, true
}

// IsMap reports whether v is a string-keyed map.
func IsMap(v any) bool {
	_, isMap, _ := Lookup(v, "")
	return isMap
}

// ToFloat widens any Go numeric value (and json.Number) to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// IsNumber reports whether v is numeric.
func IsNumber(v any) bool {
	_, ok := ToFloat(v)
	return ok
}

// TypeName returns a short, user-facing type name for v.
func TypeName(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if IsNumber(v) {
		return "number"
	}
	if IsMap(v) {
		return "map"
	}
	if k := reflect.TypeOf(v).Kind(); k == reflect.Slice || k == reflect.Array {
		return "list"
	}
	return fmt.Sprintf("%T", v)
}

// Join renders path segments back into dotted form.
func Join(path []string) string {
	return strings.Join(path, ".")
}
