package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// TokenKind classifies a lexical token.
type TokenKind int

// Token kinds.
const (
	TokenString TokenKind = iota
	TokenNumber
	TokenBoolean
	TokenNull
	TokenIdentifier
	TokenOperator
	TokenAnd
	TokenOr
	TokenLParen
	TokenRParen
)

var tokenKindNames = map[TokenKind]string{
	TokenString:     "STRING",
	TokenNumber:     "NUMBER",
	TokenBoolean:    "BOOLEAN",
	TokenNull:       "NULL",
	TokenIdentifier: "IDENTIFIER",
	TokenOperator:   "OPERATOR",
	TokenAnd:        "AND",
	TokenOr:         "OR",
	TokenLParen:     "LPAREN",
	TokenRParen:     "RPAREN",
}

func (k TokenKind) String() string {
	if name, ok := tokenKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TokenKind(%d)", int(k))
}

// Token is one lexical unit. Text is the source text (the unescaped content
// for strings), Value the typed literal for STRING, NUMBER, BOOLEAN and NULL
// tokens, and Pos the zero-based byte offset where the token starts.
type Token struct {
	Kind  TokenKind
	Text  string
	Value any
	Pos   int
}

// Tokenize scans input left to right into a token stream.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	i := 0
	for i < len(input) {
		c := input[i]

		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '\'':
			tok, next, err := scanString(input, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next

		case c == '(':
			tokens = append(tokens, Token{Kind: TokenLParen, Text: "(", Pos: i})
			i++

		case c == ')':
			tokens = append(tokens, Token{Kind: TokenRParen, Text: ")", Pos: i})
			i++

		case c == '=' || c == '!' || c == '>' || c == '<':
			op := string(c)
			if c != '=' && i+1 < len(input) && input[i+1] == '=' {
				op += "="
			}
			tokens = append(tokens, Token{Kind: TokenOperator, Text: op, Pos: i})
			i += len(op)

		case isWordChar(c):
			start := i
			for i < len(input) && isWordChar(input[i]) {
				i++
			}
			tok, err := classifyWord(input[start:i], start)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)

		default:
			return nil, &SyntaxError{
				Pos:     i,
				Message: fmt.Sprintf("unexpected character %q", rune(c)),
			}
		}
	}
	return tokens, nil
}

// scanString reads a single-quoted string starting at the opening quote. A
// backslash escapes the following character.
func scanString(input string, start int) (Token, int, error) {
	var sb strings.Builder
	i := start + 1
	for i < len(input) {
		c := input[i]
		if c == '\\' && i+1 < len(input) {
			sb.WriteByte(input[i+1])
			i += 2
			continue
		}
		if c == '\'' {
			s := sb.String()
			return Token{Kind: TokenString, Text: s, Value: s, Pos: start}, i + 1, nil
		}
		sb.WriteByte(c)
		i++
	}
	return Token{}, 0, &SyntaxError{Pos: start, Message: "unterminated string"}
}

func isWordChar(c byte) bool {
	return c == '.' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// classifyWord turns a run of word characters into a NUMBER, BOOLEAN, NULL,
// AND, OR or IDENTIFIER token. Numeric parsing is only attempted for words
// that begin with a digit or a dot, so identifiers such as "inf" or "nan"
// never become numbers.
func classifyWord(word string, pos int) (Token, error) {
	if looksNumeric(word) {
		if decimalDigits(word) {
			if n, err := strconv.ParseInt(word, 10, 64); err == nil {
				return Token{Kind: TokenNumber, Text: word, Value: n, Pos: pos}, nil
			}
			if f, err := strconv.ParseFloat(word, 64); err == nil {
				return Token{Kind: TokenNumber, Text: word, Value: f, Pos: pos}, nil
			}
		}
		if word[0] >= '0' && word[0] <= '9' {
			return Token{}, &SyntaxError{Pos: pos, Message: fmt.Sprintf("malformed number %q", word)}
		}
	}

	switch strings.ToLower(word) {
	case "true":
		return Token{Kind: TokenBoolean, Text: word, Value: true, Pos: pos}, nil
	case "false":
		return Token{Kind: TokenBoolean, Text: word, Value: false, Pos: pos}, nil
	case "null":
		return Token{Kind: TokenNull, Text: word, Pos: pos}, nil
	case "and":
		return Token{Kind: TokenAnd, Text: word, Pos: pos}, nil
	case "or":
		return Token{Kind: TokenOr, Text: word, Pos: pos}, nil
	}
	return Token{Kind: TokenIdentifier, Text: word, Pos: pos}, nil
}

// decimalDigits reports whether word uses only plain decimal notation. strconv
// also reads Go literal forms such as 1_000 and 0x1p4, which are not numbers
// here.
func decimalDigits(word string) bool {
	for i := 0; i < len(word); i++ {
		switch c := word[i]; {
		case c >= '0' && c <= '9', c == '.', c == 'e', c == 'E':
		default:
			return false
		}
	}
	return true
}

func looksNumeric(word string) bool {
	if word[0] >= '0' && word[0] <= '9' {
		return true
	}
	return word[0] == '.' && len(word) > 1 && word[1] >= '0' && word[1] <= '9'
}
