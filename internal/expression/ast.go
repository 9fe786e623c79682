package expression

import (
	"fmt"
	"strings"
)

// Operator is a binary operator in the expression language.
type Operator string

// Operators, lowest precedence first.
const (
	OpOr            Operator = "OR"
	OpAnd           Operator = "AND"
	OpEquals        Operator = "EQUALS"
	OpNotEquals     Operator = "NOT_EQUALS"
	OpGreaterThan   Operator = "GREATER_THAN"
	OpLessThan      Operator = "LESS_THAN"
	OpGreaterEquals Operator = "GREATER_EQUALS"
	OpLessEquals    Operator = "LESS_EQUALS"
)

var comparisonOperators = map[string]Operator{
	"=":  OpEquals,
	"!=": OpNotEquals,
	">":  OpGreaterThan,
	"<":  OpLessThan,
	">=": OpGreaterEquals,
	"<=": OpLessEquals,
}

var operatorSymbols = map[Operator]string{
	OpOr:            "OR",
	OpAnd:           "AND",
	OpEquals:        "=",
	OpNotEquals:     "!=",
	OpGreaterThan:   ">",
	OpLessThan:      "<",
	OpGreaterEquals: ">=",
	OpLessEquals:    "<=",
}

// IsLogical reports whether op is AND or OR.
func (op Operator) IsLogical() bool {
	return op == OpAnd || op == OpOr
}

// Expression is an immutable AST node: *Literal, *PropertyAccess or *BinaryOp.
type Expression interface {
	fmt.Stringer
	isExpression()
}

// Literal is a constant string, number (int64 or float64), boolean or nil.
type Literal struct {
	Value any
}

// PropertyAccess reads a dotted path from the evaluation context.
type PropertyAccess struct {
	Path []string
}

// BinaryOp combines two sub-expressions.
type BinaryOp struct {
	Left  Expression
	Op    Operator
	Right Expression
}

func (*Literal) isExpression()        {}
func (*PropertyAccess) isExpression() {}
func (*BinaryOp) isExpression()       {}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "null"
	case string:
		return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
	default:
		return fmt.Sprint(v)
	}
}

func (p *PropertyAccess) String() string {
	return strings.Join(p.Path, ".")
}

func (b *BinaryOp) String() string {
	return "(" + b.Left.String() + " " + operatorSymbols[b.Op] + " " + b.Right.String() + ")"
}

// Describe renders an AST as nested maps, suitable for JSON output.
func Describe(expr Expression) map[string]any {
	switch e := expr.(type) {
	case *Literal:
		return map[string]any{"type": "literal", "value": e.Value}
	case *PropertyAccess:
		path := make([]string, len(e.Path))
		copy(path, e.Path)
		return map[string]any{"type": "property", "path": path}
	case *BinaryOp:
		return map[string]any{
			"type":     "binary",
			"operator": string(e.Op),
			"left":     Describe(e.Left),
			"right":    Describe(e.Right),
		}
	default:
		return map[string]any{"type": fmt.Sprintf("%T", expr)}
	}
}
