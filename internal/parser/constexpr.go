package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Env resolves identifiers inside constant expressions (earlier enumerators
// and #define integer constants).
type Env func(name string) (int64, bool)

// binary operator precedence, higher binds tighter
var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

// EvalConst evaluates an integer constant expression.
func EvalConst(tokens []Token, env Env) (int64, error) {
	e := &evaluator{tokens: tokens, env: env}
	v, err := e.expr(0)
	if err != nil {
		return 0, err
	}
	if e.pos < len(e.tokens) && e.tokens[e.pos].Type != EOF {
		return 0, fmt.Errorf("unexpected %q in constant expression", e.tokens[e.pos].Text)
	}
	return v, nil
}

// EvalConstString tokenizes and evaluates text.
func EvalConstString(text string, env Env) (int64, error) {
	return EvalConst(Tokenize(text), env)
}

type evaluator struct {
	tokens []Token
	pos    int
	env    Env
}

func (e *evaluator) peek() Token {
	if e.pos < len(e.tokens) {
		return e.tokens[e.pos]
	}
	return Token{Type: EOF}
}

func (e *evaluator) expr(minPrec int) (int64, error) {
	lhs, err := e.unary()
	if err != nil {
		return 0, err
	}
	for {
		tok := e.peek()
		if tok.Type == Punct && tok.Text == "?" && minPrec == 0 {
			e.pos++
			a, err := e.expr(0)
			if err != nil {
				return 0, err
			}
			if t := e.peek(); t.Type != Punct || t.Text != ":" {
				return 0, fmt.Errorf("expected ':' in conditional expression")
			}
			e.pos++
			b, err := e.expr(0)
			if err != nil {
				return 0, err
			}
			if lhs != 0 {
				return a, nil
			}
			return b, nil
		}
		prec, ok := binaryPrec[tok.Text]
		if tok.Type != Punct || !ok || prec <= minPrec {
			return lhs, nil
		}
		e.pos++
		rhs, err := e.expr(prec)
		if err != nil {
			return 0, err
		}
		lhs, err = apply(tok.Text, lhs, rhs)
		if err != nil {
			return 0, err
		}
	}
}

func (e *evaluator) unary() (int64, error) {
	tok := e.peek()
	switch {
	case tok.Type == Punct && tok.Text == "-":
		e.pos++
		v, err := e.unary()
		return -v, err
	case tok.Type == Punct && tok.Text == "+":
		e.pos++
		return e.unary()
	case tok.Type == Punct && tok.Text == "~":
		e.pos++
		v, err := e.unary()
		return ^v, err
	case tok.Type == Punct && tok.Text == "!":
		e.pos++
		v, err := e.unary()
		if v == 0 {
			return 1, err
		}
		return 0, err
	case tok.Type == Punct && tok.Text == "(":
		e.pos++
		// A cast such as (uint32_t)1 is skipped.
		if next := e.peek(); next.Type == Ident && isTypeWord(next.Text) {
			for e.peek().Type != EOF && e.peek().Text != ")" {
				e.pos++
			}
			e.pos++
			return e.unary()
		}
		v, err := e.expr(0)
		if err != nil {
			return 0, err
		}
		if t := e.peek(); t.Type != Punct || t.Text != ")" {
			return 0, fmt.Errorf("expected ')' in constant expression")
		}
		e.pos++
		return v, nil
	case tok.Type == Number:
		e.pos++
		return parseIntLiteral(tok.Text)
	case tok.Type == Char:
		e.pos++
		return parseCharLiteral(tok.Text)
	case tok.Type == Ident:
		e.pos++
		if tok.Text == "sizeof" {
			return 0, fmt.Errorf("sizeof is not supported in constant expressions")
		}
		if e.env != nil {
			if v, ok := e.env(tok.Text); ok {
				return v, nil
			}
		}
		return 0, fmt.Errorf("unknown identifier %q in constant expression", tok.Text)
	case tok.Type == EOF:
		return 0, fmt.Errorf("unexpected end of constant expression")
	}
	return 0, fmt.Errorf("unexpected %q in constant expression", tok.Text)
}

func apply(op string, a, b int64) (int64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/", "%":
		if b == 0 {
			return 0, fmt.Errorf("division by zero in constant expression")
		}
		if op == "/" {
			return a / b, nil
		}
		return a % b, nil
	case "<<":
		return a << uint64(b), nil
	case ">>":
		return a >> uint64(b), nil
	case "&":
		return a & b, nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "&&":
		return boolInt(a != 0 && b != 0), nil
	case "||":
		return boolInt(a != 0 || b != 0), nil
	case "==":
		return boolInt(a == b), nil
	case "!=":
		return boolInt(a != b), nil
	case "<":
		return boolInt(a < b), nil
	case ">":
		return boolInt(a > b), nil
	case "<=":
		return boolInt(a <= b), nil
	case ">=":
		return boolInt(a >= b), nil
	}
	return 0, fmt.Errorf("unsupported operator %q", op)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// parseIntLiteral parses decimal, hex, octal and binary literals with C
// integer suffixes.
func parseIntLiteral(text string) (int64, error) {
	s := strings.TrimRight(strings.ToLower(text), "ul")
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"):
		base, s = 16, s[2:]
	case strings.HasPrefix(s, "0b"):
		base, s = 2, s[2:]
	case len(s) > 1 && s[0] == '0':
		base, s = 8, s[1:]
	}
	u, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %q", text)
	}
	return int64(u), nil
}

func parseCharLiteral(text string) (int64, error) {
	if len(text) < 3 {
		return 0, fmt.Errorf("invalid character literal %s", text)
	}
	v, _, _, err := strconv.UnquoteChar(text[1:len(text)-1], '\'')
	if err != nil {
		return 0, fmt.Errorf("invalid character literal %s", text)
	}
	return int64(v), nil
}
