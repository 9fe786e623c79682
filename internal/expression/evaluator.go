package expression

import (
	"fmt"
	"reflect"

	"github.com/pitabwire/flowbase/internal/pathutil"
)

// Evaluate interprets expr against a nested string-keyed context map.
//
// AND and OR short-circuit. Property access is strict: a missing key, a null
// intermediate or a non-map intermediate is an *EvalError. Ordering operators
// require numeric operands and return *TypeMismatchError otherwise.
func Evaluate(expr Expression, context map[string]any) (any, error) {
	switch e := expr.(type) {
	case *Literal:
		return e.Value, nil
	case *PropertyAccess:
		return readPath(e.Path, context)
	case *BinaryOp:
		return evaluateBinary(e, context)
	default:
		return nil, fmt.Errorf("unsupported expression node %T", expr)
	}
}

// EvaluateBool evaluates expr and reduces the result to its truthiness.
func EvaluateBool(expr Expression, context map[string]any) (bool, error) {
	v, err := Evaluate(expr, context)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Truthy reports whether v counts as true: nil and false are falsy,
// everything else (including 0 and "") is truthy.
func Truthy(v any) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	default:
		return true
	}
}

func readPath(path []string, context map[string]any) (any, error) {
	var current any = context
	if context == nil {
		current = map[string]any{}
	}
	for i, seg := range path {
		if current == nil {
			return nil, &EvalError{Path: path, Message: fmt.Sprintf("%q is null", pathutil.Join(path[:i]))}
		}
		next, isMap, found := pathutil.Lookup(current, seg)
		if !isMap {
			return nil, &EvalError{
				Path:    path,
				Message: fmt.Sprintf("%q is a %s, not a map", pathutil.Join(path[:i]), pathutil.TypeName(current)),
			}
		}
		if !found {
			return nil, &EvalError{Path: path, Message: fmt.Sprintf("key %q not found", seg)}
		}
		current = next
	}
	return current, nil
}

func evaluateBinary(e *BinaryOp, context map[string]any) (any, error) {
	left, err := Evaluate(e.Left, context)
	if err != nil {
		return nil, err
	}

	if e.Op.IsLogical() {
		// AND stops on a falsy left side, OR on a truthy one.
		if Truthy(left) == (e.Op == OpOr) {
			return e.Op == OpOr, nil
		}
		right, err := Evaluate(e.Right, context)
		if err != nil {
			return nil, err
		}
		return Truthy(right), nil
	}

	right, err := Evaluate(e.Right, context)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case OpEquals:
		return valuesEqual(left, right), nil
	case OpNotEquals:
		return !valuesEqual(left, right), nil
	case OpGreaterThan, OpLessThan, OpGreaterEquals, OpLessEquals:
		return compareOrdered(e.Op, left, right)
	default:
		return nil, fmt.Errorf("unsupported operator %q", e.Op)
	}
}

// valuesEqual is null-aware equality with numeric cross-type coercion.
func valuesEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lf, lok := pathutil.ToFloat(left)
	rf, rok := pathutil.ToFloat(right)
	if lok && rok {
		return lf == rf
	}
	return reflect.DeepEqual(left, right)
}

func compareOrdered(op Operator, left, right any) (bool, error) {
	lf, ok := pathutil.ToFloat(left)
	if !ok {
		return false, &TypeMismatchError{Op: op, Operand: "left", Type: pathutil.TypeName(left)}
	}
	rf, ok := pathutil.ToFloat(right)
	if !ok {
		return false, &TypeMismatchError{Op: op, Operand: "right", Type: pathutil.TypeName(right)}
	}

	switch op {
	case OpGreaterThan:
		return lf > rf, nil
	case OpLessThan:
		return lf < rf, nil
	case OpGreaterEquals:
		return lf >= rf, nil
	default:
		return lf <= rf, nil
	}
}
