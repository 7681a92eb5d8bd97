package policy

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Rule expressions are a small comparison DSL evaluated against a typed
// context map, e.g.:
//
//	user_tier == 'GOLD' and displayed_cents < 500000
//	(module == 'hotels' or module == 'flights') and rate_source != 'fallback'
//
// Expressions are parsed once at load time; evaluation never executes
// stored text as code.

type Expr interface {
	Eval(ctx map[string]any) (bool, error)
}

type binaryExpr struct {
	op          string // "and" | "or"
	left, right Expr
}

func (b *binaryExpr) Eval(ctx map[string]any) (bool, error) {
	l, err := b.left.Eval(ctx)
	if err != nil {
		return false, err
	}
	if b.op == "and" && !l {
		return false, nil
	}
	if b.op == "or" && l {
		return true, nil
	}
	return b.right.Eval(ctx)
}

type notExpr struct{ inner Expr }

func (n *notExpr) Eval(ctx map[string]any) (bool, error) {
	v, err := n.inner.Eval(ctx)
	if err != nil {
		return false, err
	}
	return !v, nil
}

type compareExpr struct {
	field string
	op    string
	value any // float64, string or bool
}

func (c *compareExpr) Eval(ctx map[string]any) (bool, error) {
	raw, ok := ctx[c.field]
	if !ok {
		return false, fmt.Errorf("unknown field %q", c.field)
	}
	switch want := c.value.(type) {
	case float64:
		got, err := toFloat(raw)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", c.field, err)
		}
		return compareFloat(got, c.op, want)
	case string:
		got, ok := raw.(string)
		if !ok {
			return false, fmt.Errorf("field %q: expected string, got %T", c.field, raw)
		}
		switch c.op {
		case "==":
			return got == want, nil
		case "!=":
			return got != want, nil
		}
		return false, fmt.Errorf("operator %q not supported for strings", c.op)
	case bool:
		got, ok := raw.(bool)
		if !ok {
			return false, fmt.Errorf("field %q: expected bool, got %T", c.field, raw)
		}
		switch c.op {
		case "==":
			return got == want, nil
		case "!=":
			return got != want, nil
		}
		return false, fmt.Errorf("operator %q not supported for booleans", c.op)
	}
	return false, fmt.Errorf("unsupported literal type %T", c.value)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, fmt.Errorf("expected number, got %T", v)
}

func compareFloat(got float64, op string, want float64) (bool, error) {
	switch op {
	case "==":
		return got == want, nil
	case "!=":
		return got != want, nil
	case "<":
		return got < want, nil
	case "<=":
		return got <= want, nil
	case ">":
		return got > want, nil
	case ">=":
		return got >= want, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

// ---- parsing ----

type parser struct {
	toks []string
	pos  int
}

func Parse(input string) (Expr, error) {
	toks, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("empty expression")
	}
	p := &parser{toks: toks}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected token %q", p.toks[p.pos])
	}
	return e, nil
}

func (p *parser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek() == "and" {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek() {
	case "not":
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notExpr{inner: inner}, nil
	case "(":
		p.next()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, fmt.Errorf("missing closing paren")
		}
		return e, nil
	}
	return p.parseCompare()
}

func (p *parser) parseCompare() (Expr, error) {
	field := p.next()
	if field == "" || !isIdent(field) {
		return nil, fmt.Errorf("expected field name, got %q", field)
	}
	op := p.next()
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
	default:
		return nil, fmt.Errorf("expected comparison operator, got %q", op)
	}
	lit := p.next()
	if lit == "" {
		return nil, fmt.Errorf("expected literal after %q", op)
	}
	val, err := parseLiteral(lit)
	if err != nil {
		return nil, err
	}
	return &compareExpr{field: field, op: op, value: val}, nil
}

func parseLiteral(tok string) (any, error) {
	if strings.HasPrefix(tok, "'") && strings.HasSuffix(tok, "'") && len(tok) >= 2 {
		return tok[1 : len(tok)-1], nil
	}
	switch tok {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid literal %q", tok)
	}
	return f, nil
}

func isIdent(s string) bool {
	for i, r := range s {
		if unicode.IsLetter(r) || r == '_' || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return s != ""
}

func tokenize(input string) ([]string, error) {
	var toks []string
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == '\'':
			j := strings.IndexByte(input[i+1:], '\'')
			if j < 0 {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, input[i:i+j+2])
			i += j + 2
		case strings.ContainsRune("=!<>", rune(c)):
			if i+1 < len(input) && input[i+1] == '=' {
				toks = append(toks, input[i:i+2])
				i += 2
			} else {
				toks = append(toks, string(c))
				i++
			}
		default:
			j := i
			for j < len(input) && !strings.ContainsRune(" \t\n()=!<>'", rune(input[j])) {
				j++
			}
			toks = append(toks, input[i:j])
			i = j
		}
	}
	return toks, nil
}
