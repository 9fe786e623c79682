// Package expression implements the workflow condition language: a small
// SQL-like boolean and comparison grammar compiled to an AST and evaluated
// against a nested context map.
//
// Grammar:
//
//	expr    := or
//	or      := and (OR and)*
//	and     := cmp (AND cmp)*
//	cmp     := primary (op primary)?
//	primary := '(' expr ')' | STRING | NUMBER | BOOLEAN | NULL | IDENTIFIER
//	op      := '=' | '!=' | '>' | '<' | '>=' | '<='
//
// Example:
//
//	status = 'active' AND (count > 10 OR trigger.priority = 'high')
package expression

import (
	"fmt"
	"strings"
)

// ParseOption configures Parse.
type ParseOption func(*parser)

// WithPermissive makes Parse ignore tokens left over once the top-level
// expression is complete. By default trailing tokens are a syntax error.
func WithPermissive() ParseOption {
	return func(p *parser) {
		p.permissive = true
	}
}

type parser struct {
	tokens     []Token
	pos        int
	inputLen   int
	permissive bool
}

// Parse tokenizes and parses input into an AST.
func Parse(input string, opts ...ParseOption) (Expression, error) {
	tokens, err := Tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens, inputLen: len(input)}
	for _, opt := range opts {
		opt(p)
	}

	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}

	if !p.permissive && p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.Kind == TokenRParen {
			return nil, &SyntaxError{Pos: tok.Pos, Message: "unmatched parenthesis"}
		}
		return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("unexpected token %s %q", tok.Kind, tok.Text)}
	}
	return expr, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level constants.
func MustParse(input string) Expression {
	expr, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return expr
}

func (p *parser) peek() (Token, bool) {
	if p.pos >= len(p.tokens) {
		return Token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != TokenOr {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Left: left, Op: OpOr, Right: right}
	}
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != TokenAnd {
			return left, nil
		}
		p.pos++
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{Left: left, Op: OpAnd, Right: right}
	}
}

// parseComparison parses a primary optionally followed by exactly one
// comparison operator and a second primary. Comparisons do not chain.
func (p *parser) parseComparison() (Expression, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}

	tok, ok := p.peek()
	if !ok || tok.Kind != TokenOperator {
		return left, nil
	}
	op, known := comparisonOperators[tok.Text]
	if !known {
		return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("unknown operator %q", tok.Text)}
	}
	p.pos++

	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return &BinaryOp{Left: left, Op: op, Right: right}, nil
}

func (p *parser) parsePrimary() (Expression, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, &SyntaxError{Pos: p.inputLen, Message: "unexpected end of input"}
	}

	switch tok.Kind {
	case TokenLParen:
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.Kind != TokenRParen {
			return nil, &SyntaxError{Pos: tok.Pos, Message: "unmatched parenthesis"}
		}
		p.pos++
		return inner, nil

	case TokenString, TokenNumber, TokenBoolean:
		p.pos++
		return &Literal{Value: tok.Value}, nil

	case TokenNull:
		p.pos++
		return &Literal{Value: nil}, nil

	case TokenIdentifier:
		p.pos++
		path := strings.Split(tok.Text, ".")
		for _, seg := range path {
			if seg == "" {
				return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("invalid property path %q", tok.Text)}
			}
		}
		return &PropertyAccess{Path: path}, nil

	case TokenOperator:
		if _, known := comparisonOperators[tok.Text]; !known {
			return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("unknown operator %q", tok.Text)}
		}
		return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("unexpected token %s %q", tok.Kind, tok.Text)}

	default:
		return nil, &SyntaxError{Pos: tok.Pos, Message: fmt.Sprintf("unexpected token %s %q", tok.Kind, tok.Text)}
	}
}
