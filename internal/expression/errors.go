package expression

import (
	"fmt"
	"strings"
)

// SyntaxError is returned by Tokenize and Parse for malformed input.
type SyntaxError struct {
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Message)
}

// EvalError is returned when a property path cannot be read from the
// evaluation context.
type EvalError struct {
	Path    []string
	Message string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("cannot evaluate %q: %s", strings.Join(e.Path, "."), e.Message)
}

// TypeMismatchError is returned when an ordering comparison receives a
// non-numeric operand.
type TypeMismatchError struct {
	Op      Operator
	Operand string // "left" or "right"
	Type    string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("operator %s requires numeric operands, %s operand is %s", e.Op, e.Operand, e.Type)
}
