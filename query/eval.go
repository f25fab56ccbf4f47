/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package query

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"
)

// Accessor resolves field names, including the key pseudo-fields and dotted
// paths, against a single record.
type Accessor interface {
	Lookup(field string) (any, bool)
}

// LookupPath walks a dotted path through nested JSON objects.
func LookupPath(doc map[string]any, path string) (any, bool) {
	cur := any(doc)
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Evaluate reports whether the record behind acc satisfies expr. A nil expr
// matches everything.
func Evaluate(expr Expr, acc Accessor) bool {
	switch e := expr.(type) {
	case nil:
		return true
	case Conjunction:
		for _, t := range e.Terms {
			if !Evaluate(t, acc) {
				return false
			}
		}
		return true
	case Comparison:
		v, _ := acc.Lookup(e.Field)
		return evalComparison(e, v)
	}
	return false
}

func evalComparison(c Comparison, v any) bool {
	switch c.Op {
	case OpEq:
		return Equal(v, c.Value)
	case OpNe:
		return !Equal(v, c.Value)
	case OpIn:
		for _, lit := range c.Values() {
			if Equal(v, lit) {
				return true
			}
		}
		return false
	}

	lit := normalizeOrKeep(c.Value)
	v = normalizeOrKeep(v)
	if v == nil || lit == nil || rank(v) != rank(lit) {
		return false
	}
	r := Compare(v, lit)
	switch c.Op {
	case OpGt:
		return r > 0
	case OpGte:
		return r >= 0
	case OpLt:
		return r < 0
	case OpLte:
		return r <= 0
	}
	return false
}

// Equal reports whether two values compare equal. Numbers are equal across
// integer and floating point representations.
func Equal(a, b any) bool {
	a, b = normalizeOrKeep(a), normalizeOrKeep(b)
	if rank(a) != rank(b) {
		return false
	}
	return Compare(a, b) == 0
}

// type ranks for mixed comparisons: missing < bool < number < string < other
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64, json.Number:
		return 2
	case string:
		return 3
	}
	return 4
}

// Compare orders two values. Values of different kinds order by kind with
// nil first, numbers compare numerically, strings lexically, false before
// true. Composite values compare by their printed form.
func Compare(a, b any) int {
	a, b = normalizeOrKeep(a), normalizeOrKeep(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case nil:
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case string:
		return strings.Compare(x, b.(string))
	case int64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, y)
		}
		return cmp.Compare(float64(x), b.(float64))
	case float64:
		if y, ok := b.(int64); ok {
			return cmp.Compare(x, float64(y))
		}
		return cmp.Compare(x, b.(float64))
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// PartitionScope returns the value of a top-level partition key equality in
// expr, if there is one.
func PartitionScope(expr Expr) (string, bool) {
	switch e := expr.(type) {
	case Comparison:
		if e.Field == FieldPartitionKey && e.Op == OpEq {
			s, ok := e.Value.(string)
			return s, ok
		}
	case Conjunction:
		for _, t := range e.Terms {
			if pk, ok := PartitionScope(t); ok {
				return pk, true
			}
		}
	}
	return "", false
}

// Terms returns the top-level terms of expr.
func Terms(expr Expr) []Expr {
	switch e := expr.(type) {
	case nil:
		return nil
	case Conjunction:
		out := make([]Expr, 0, len(e.Terms))
		for _, t := range e.Terms {
			out = append(out, Terms(t)...)
		}
		return out
	}
	return []Expr{expr}
}
