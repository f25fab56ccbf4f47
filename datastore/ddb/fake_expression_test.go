/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type fakeItem = map[string]types.AttributeValue

// predicate is a compiled condition expression.
type predicate func(fakeItem) bool

type operand func(fakeItem) (types.AttributeValue, bool)

// compileCondition compiles the part of the DynamoDB condition grammar the
// translator and store emit: AND, OR, NOT, parentheses, the six comparators,
// IN, attribute_exists, attribute_not_exists and attribute_type. An empty
// expression matches every item.
func compileCondition(expr string, names map[string]string, values map[string]types.AttributeValue) (predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return func(fakeItem) bool { return true }, nil
	}
	p := &exprParser{toks: tokenize(expr), names: names, values: values}
	pred, err := p.or()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("unexpected %q in %q", p.toks[p.pos], expr)
	}
	return pred, nil
}

func tokenize(s string) []string {
	var toks []string
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ':
			i++
		case c == '(' || c == ')' || c == ',':
			toks = append(toks, string(c))
			i++
		case c == '<' || c == '>' || c == '=':
			j := i + 1
			if j < len(s) && (s[j] == '=' || (c == '<' && s[j] == '>')) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		default:
			j := i
			for j < len(s) && !strings.ContainsRune(" (),<>=", rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}

type exprParser struct {
	toks   []string
	pos    int
	names  map[string]string
	values map[string]types.AttributeValue
}

func (p *exprParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *exprParser) accept(tok string) bool {
	if p.peek() == tok {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) expect(tok string) error {
	if !p.accept(tok) {
		return fmt.Errorf("expected %q, got %q", tok, p.peek())
	}
	return nil
}

func (p *exprParser) or() (predicate, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.accept("OR") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it fakeItem) bool { return l(it) || right(it) }
	}
	return left, nil
}

func (p *exprParser) and() (predicate, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.accept("AND") {
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		l := left
		left = func(it fakeItem) bool { return l(it) && right(it) }
	}
	return left, nil
}

func (p *exprParser) unary() (predicate, error) {
	if p.accept("NOT") {
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return func(it fakeItem) bool { return !inner(it) }, nil
	}
	return p.primary()
}

func (p *exprParser) primary() (predicate, error) {
	if p.accept("(") {
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		return inner, p.expect(")")
	}

	switch fn := p.peek(); fn {
	case "attribute_exists", "attribute_not_exists", "attribute_type":
		p.pos++
		if err := p.expect("("); err != nil {
			return nil, err
		}
		path, err := p.operand()
		if err != nil {
			return nil, err
		}
		var typ operand
		if fn == "attribute_type" {
			if err := p.expect(","); err != nil {
				return nil, err
			}
			if typ, err = p.operand(); err != nil {
				return nil, err
			}
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		switch fn {
		case "attribute_exists":
			return func(it fakeItem) bool {
				_, ok := path(it)
				return ok
			}, nil
		case "attribute_not_exists":
			return func(it fakeItem) bool {
				_, ok := path(it)
				return !ok
			}, nil
		}
		return func(it fakeItem) bool {
			av, ok := path(it)
			want, _ := typ(it)
			return ok && typeCode(av) == str(want)
		}, nil
	}

	left, err := p.operand()
	if err != nil {
		return nil, err
	}
	if p.accept("IN") {
		if err := p.expect("("); err != nil {
			return nil, err
		}
		var list []operand
		for {
			o, err := p.operand()
			if err != nil {
				return nil, err
			}
			list = append(list, o)
			if !p.accept(",") {
				break
			}
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return func(it fakeItem) bool {
			a, ok := left(it)
			if !ok {
				return false
			}
			for _, o := range list {
				if b, _ := o(it); compareAttributes("=", a, b) {
					return true
				}
			}
			return false
		}, nil
	}

	op := p.peek()
	switch op {
	case "=", "<>", "<", "<=", ">", ">=":
		p.pos++
	default:
		return nil, fmt.Errorf("expected comparator, got %q", op)
	}
	right, err := p.operand()
	if err != nil {
		return nil, err
	}
	return func(it fakeItem) bool {
		a, okA := left(it)
		b, okB := right(it)
		return okA && okB && compareAttributes(op, a, b)
	}, nil
}

func (p *exprParser) operand() (operand, error) {
	tok := p.peek()
	p.pos++
	switch {
	case strings.HasPrefix(tok, ":"):
		av, ok := p.values[tok]
		if !ok {
			return nil, fmt.Errorf("undefined value %s", tok)
		}
		return func(fakeItem) (types.AttributeValue, bool) { return av, true }, nil
	case strings.HasPrefix(tok, "#"):
		var path []string
		for _, part := range strings.Split(tok, ".") {
			name, ok := p.names[part]
			if !ok {
				return nil, fmt.Errorf("undefined name %s", part)
			}
			path = append(path, name)
		}
		return func(it fakeItem) (types.AttributeValue, bool) {
			av, ok := it[path[0]]
			for _, name := range path[1:] {
				if !ok {
					break
				}
				m, isMap := av.(*types.AttributeValueMemberM)
				if !isMap {
					return nil, false
				}
				av, ok = m.Value[name]
			}
			return av, ok
		}, nil
	}
	return nil, fmt.Errorf("unexpected operand %q", tok)
}

// compareAttributes compares like DynamoDB: operands of different types
// never compare, booleans and null only support equality.
func compareAttributes(op string, a, b types.AttributeValue) bool {
	var c int
	switch x := a.(type) {
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>"
		}
		fx, _ := strconv.ParseFloat(x.Value, 64)
		fy, _ := strconv.ParseFloat(y.Value, 64)
		c = cmp.Compare(fx, fy)
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>"
		}
		c = strings.Compare(x.Value, y.Value)
	case *types.AttributeValueMemberBOOL:
		y, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok {
			return op == "<>"
		}
		switch op {
		case "=":
			return x.Value == y.Value
		case "<>":
			return x.Value != y.Value
		}
		return false
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		switch op {
		case "=":
			return ok
		case "<>":
			return !ok
		}
		return false
	default:
		return op == "<>"
	}

	switch op {
	case "=":
		return c == 0
	case "<>":
		return c != 0
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

func typeCode(av types.AttributeValue) string {
	switch av.(type) {
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberL:
		return "L"
	}
	return ""
}
