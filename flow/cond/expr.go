package cond

import (
	"strconv"
	"strings"
	"unicode"
)

// The expression dialect is deliberately tiny: comparisons over field
// names and literals joined by AND/OR/NOT with parentheses.
//
//	expr   := term ( ('AND'|'OR') term )*
//	term   := 'NOT' term | '(' expr ')' | operand ( cmp operand )?
//	cmp    := '==' | '!=' | '>=' | '<=' | '>' | '<'
//	operand:= field | 'string' | number | true | false | null
//
// It is parsed into a small AST and interpreted against the collected-data
// map. There is no host-language eval, no function calls, and no attribute
// access; any lexing, parsing, or evaluation failure yields false.

// EvalExpression evaluates a boolean expression against data. Malformed
// or empty expressions return false.
func EvalExpression(expr string, data map[string]any) bool {
	if strings.TrimSpace(expr) == "" {
		return false
	}

	toks, err := lex(expr)
	if err != nil {
		return false
	}

	p := &parser{toks: toks}
	node, err := p.parseExpr()
	if err != nil || !p.atEnd() {
		return false
	}

	return truthy(node.eval(data))
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokOp // == != >= <= > <
	tokAnd
	tokOr
	tokNot
	tokTrue
	tokFalse
	tokNull
)

type token struct {
	kind tokenKind
	text string
}

type lexError struct{ msg string }

func (e *lexError) Error() string { return e.msg }

func lex(input string) ([]token, error) {
	var toks []token
	runes := []rune(input)
	i := 0

	for i < len(runes) {
		c := runes[i]

		switch {
		case unicode.IsSpace(c):
			i++

		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}
			if j >= len(runes) {
				return nil, &lexError{"unterminated string"}
			}
			toks = append(toks, token{tokString, string(runes[i+1 : j])})
			i = j + 1

		case c == '=' || c == '!' || c == '>' || c == '<':
			op := string(c)
			if i+1 < len(runes) && runes[i+1] == '=' {
				op += "="
				i++
			}
			i++
			switch op {
			case "==", "!=", ">=", "<=", ">", "<":
				toks = append(toks, token{tokOp, op})
			case "=":
				// Single '=' is tolerated as equality.
				toks = append(toks, token{tokOp, "=="})
			default:
				return nil, &lexError{"bad operator " + op}
			}

		case unicode.IsDigit(c) || (c == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(runes[i:j])})
			i = j

		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			i = j
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{tokAnd, word})
			case "OR":
				toks = append(toks, token{tokOr, word})
			case "NOT":
				toks = append(toks, token{tokNot, word})
			case "TRUE":
				toks = append(toks, token{tokTrue, word})
			case "FALSE":
				toks = append(toks, token{tokFalse, word})
			case "NULL", "NONE", "NIL":
				toks = append(toks, token{tokNull, word})
			default:
				toks = append(toks, token{tokIdent, word})
			}

		default:
			return nil, &lexError{"unexpected character " + string(c)}
		}
	}

	return toks, nil
}

// AST nodes. eval returns the node's value; comparisons and boolean
// operators return bool, operands return the raw value.

type exprNode interface {
	eval(data map[string]any) any
}

type literalNode struct{ value any }

func (n *literalNode) eval(map[string]any) any { return n.value }

type fieldNode struct{ name string }

func (n *fieldNode) eval(data map[string]any) any {
	if v, ok := data[n.name]; ok {
		return v
	}
	return nil
}

type notNode struct{ inner exprNode }

func (n *notNode) eval(data map[string]any) any { return !truthy(n.inner.eval(data)) }

type binaryNode struct {
	op          string // "AND" | "OR"
	left, right exprNode
}

func (n *binaryNode) eval(data map[string]any) any {
	l := truthy(n.left.eval(data))
	if n.op == "AND" {
		return l && truthy(n.right.eval(data))
	}
	return l || truthy(n.right.eval(data))
}

type compareNode struct {
	op          string
	left, right exprNode
}

func (n *compareNode) eval(data map[string]any) any {
	l := n.left.eval(data)
	r := n.right.eval(data)

	switch n.op {
	case "==":
		return looseEqual(l, r)
	case "!=":
		return !looseEqual(l, r)
	case ">":
		return Compare(l, OpGreaterThan, r)
	case "<":
		return Compare(l, OpLessThan, r)
	case ">=":
		return Compare(l, OpGreaterOrEqual, r)
	case "<=":
		return Compare(l, OpLessOrEqual, r)
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

type parser struct {
	toks []token
	pos  int
}

func (p *parser) atEnd() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() (token, bool) {
	if p.atEnd() {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

func (p *parser) parseExpr() (exprNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}

	for {
		t, ok := p.peek()
		if !ok || (t.kind != tokAnd && t.kind != tokOr) {
			return left, nil
		}
		p.pos++

		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}

		op := "OR"
		if t.kind == tokAnd {
			op = "AND"
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (exprNode, error) {
	t, ok := p.peek()
	if !ok {
		return nil, &parseError{"unexpected end of expression"}
	}

	if t.kind == tokNot {
		p.pos++
		inner, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}

	if t.kind == tokLParen {
		p.pos++
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if closing, ok := p.next(); !ok || closing.kind != tokRParen {
			return nil, &parseError{"missing closing parenthesis"}
		}
		return p.maybeComparison(inner)
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return p.maybeComparison(left)
}

func (p *parser) maybeComparison(left exprNode) (exprNode, error) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp {
		return left, nil
	}
	p.pos++

	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &compareNode{op: t.text, left: left, right: right}, nil
}

func (p *parser) parseOperand() (exprNode, error) {
	t, ok := p.next()
	if !ok {
		return nil, &parseError{"expected operand"}
	}

	switch t.kind {
	case tokIdent:
		return &fieldNode{name: t.text}, nil
	case tokString:
		return &literalNode{value: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &parseError{"bad number " + t.text}
		}
		return &literalNode{value: f}, nil
	case tokTrue:
		return &literalNode{value: true}, nil
	case tokFalse:
		return &literalNode{value: false}, nil
	case tokNull:
		return &literalNode{value: nil}, nil
	}
	return nil, &parseError{"unexpected token " + t.text}
}
