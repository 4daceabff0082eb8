package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TOKENIZER
// =============================================================================

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

func tokenize(src string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ':
			i++
		case isDigit(c) || c == '.':
			start := i
			dots := 0
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				if src[i] == '.' {
					dots++
				}
				i++
			}
			text := src[start:i]
			if dots > 1 || text[0] == '.' || text[len(text)-1] == '.' {
				return nil, &SyntaxError{Formula: src, Pos: start, Msg: fmt.Sprintf("malformed number %q", text)}
			}
			tokens = append(tokens, token{kind: tokNumber, text: text, pos: start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: src[start:i], pos: start})
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{kind: tokOp, text: string(c), pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		default:
			return nil, &SyntaxError{Formula: src, Pos: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	if len(tokens) == 0 {
		return nil, &SyntaxError{Formula: src, Pos: -1, Msg: "empty formula"}
	}
	return tokens, nil
}

// =============================================================================
// PARSER - Recursive descent, one method per grammar rule
// =============================================================================

type parser struct {
	source string
	tokens []token
	pos    int
}

func (p *parser) done() bool { return p.pos >= len(p.tokens) }

func (p *parser) peek() token {
	if p.done() {
		return token{pos: len(p.source)}
	}
	return p.tokens[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Formula: p.source, Pos: p.peek().pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isOp(ops ...string) bool {
	if p.done() || p.tokens[p.pos].kind != tokOp {
		return false
	}
	for _, op := range ops {
		if p.tokens[p.pos].text == op {
			return true
		}
	}
	return false
}

func (p *parser) parseExpr(depth int) (node, error) {
	if depth > maxDepth {
		return nil, p.errorf("expression nested deeper than %d", maxDepth)
	}
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.tokens[p.pos].text[0]
		p.pos++
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/") {
		op := p.tokens[p.pos].text[0]
		p.pos++
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary(depth int) (node, error) {
	if p.isOp("+", "-") {
		if depth+1 > maxDepth {
			return nil, p.errorf("expression nested deeper than %d", maxDepth)
		}
		op := p.tokens[p.pos].text[0]
		p.pos++
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePrimary(depth)
}

func (p *parser) parsePrimary(depth int) (node, error) {
	if p.done() {
		return nil, p.errorf("unexpected end of formula")
	}
	tok := p.tokens[p.pos]
	switch tok.kind {
	case tokNumber:
		p.pos++
		v, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, &SyntaxError{Formula: p.source, Pos: tok.pos, Msg: fmt.Sprintf("malformed number %q", tok.text)}
		}
		return numberNode{value: v}, nil
	case tokIdent:
		p.pos++
		return varNode{name: tok.text}, nil
	case tokLParen:
		p.pos++
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if p.done() || p.tokens[p.pos].kind != tokRParen {
			return nil, p.errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	default:
		return nil, p.errorf("unexpected %q", tok.text)
	}
}

// =============================================================================
// AST
// =============================================================================

type node interface {
	eval(source string, vars map[string]decimal.Decimal) (decimal.Decimal, error)
}

type numberNode struct{ value decimal.Decimal }

func (n numberNode) eval(string, map[string]decimal.Decimal) (decimal.Decimal, error) {
	return n.value, nil
}

type varNode struct{ name string }

func (n varNode) eval(source string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, ok := vars[n.name]
	if !ok {
		return decimal.Zero, &UnknownVariableError{Formula: source, Names: []string{n.name}}
	}
	return v, nil
}

type unaryNode struct {
	op      byte
	operand node
}

func (n *unaryNode) eval(source string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, err := n.operand.eval(source, vars)
	if err != nil {
		return decimal.Zero, err
	}
	if n.op == '-' {
		return v.Neg(), nil
	}
	return v, nil
}

type binaryNode struct {
	op          byte
	left, right node
}

func (n *binaryNode) eval(source string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	l, err := n.left.eval(source, vars)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(source, vars)
	if err != nil {
		return decimal.Zero, err
	}
	switch n.op {
	case '+':
		return l.Add(r), nil
	case '-':
		return l.Sub(r), nil
	case '*':
		return l.Mul(r), nil
	case '/':
		if r.IsZero() {
			return decimal.Zero, &EvaluationError{Formula: source, Msg: "division by zero"}
		}
		return l.Div(r), nil
	}
	return decimal.Zero, &EvaluationError{Formula: source, Msg: fmt.Sprintf("unknown operator %q", n.op)}
}
