/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/suparena/entityrepo/errors"
)

// Pseudo-fields resolve to the record key instead of a document field.
const (
	FieldID           = "_id"
	FieldPartitionKey = "_pk"
)

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpIn  Op = "in"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn:
		return true
	}
	return false
}

// Range reports whether op is an ordering comparison.
func (op Op) Range() bool {
	switch op {
	case OpGt, OpGte, OpLt, OpLte:
		return true
	}
	return false
}

// Expr is a node of a predicate tree. The only implementations are
// Comparison and Conjunction.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Comparison compares a field against a literal. For OpIn, Value holds a
// []any of candidate literals.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

func (Comparison) isExpr() {}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, formatLiteral(c.Value))
}

// Values returns the candidate literals of an OpIn comparison, or the single
// literal for every other operator.
func (c Comparison) Values() []any {
	if c.Op == OpIn {
		if vs, ok := c.Value.([]any); ok {
			return vs
		}
	}
	return []any{c.Value}
}

// Conjunction matches when every term matches.
type Conjunction struct {
	Terms []Expr
}

func (Conjunction) isExpr() {}

func (a Conjunction) String() string {
	parts := make([]string, len(a.Terms))
	for i, t := range a.Terms {
		parts[i] = t.String()
	}
	return "(" + strings.Join(parts, " && ") + ")"
}

// Eq matches records whose field equals v.
func Eq(field string, v any) Expr { return compare(field, OpEq, v) }

// Ne matches records whose field differs from v.
func Ne(field string, v any) Expr { return compare(field, OpNe, v) }

// Gt matches records whose field is greater than v.
func Gt(field string, v any) Expr { return compare(field, OpGt, v) }

// Gte matches records whose field is greater than or equal to v.
func Gte(field string, v any) Expr { return compare(field, OpGte, v) }

// Lt matches records whose field is less than v.
func Lt(field string, v any) Expr { return compare(field, OpLt, v) }

// Lte matches records whose field is less than or equal to v.
func Lte(field string, v any) Expr { return compare(field, OpLte, v) }

// In matches records whose field equals any of values.
func In(field string, values ...any) Expr {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = normalizeOrKeep(v)
	}
	return Comparison{Field: field, Op: OpIn, Value: vs}
}

// And combines terms. Nested conjunctions are flattened and nil terms dropped.
func And(terms ...Expr) Expr {
	flat := make([]Expr, 0, len(terms))
	for _, t := range terms {
		switch v := t.(type) {
		case nil:
		case Conjunction:
			flat = append(flat, v.Terms...)
		default:
			flat = append(flat, v)
		}
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return Conjunction{Terms: flat}
}

func compare(field string, op Op, v any) Expr {
	return Comparison{Field: field, Op: op, Value: normalizeOrKeep(v)}
}

// FieldRef starts a fluent comparison on a field.
type FieldRef string

// Field returns a reference to a document field or dotted path.
func Field(name string) FieldRef { return FieldRef(name) }

// ID refers to the record id.
func ID() FieldRef { return FieldRef(FieldID) }

// PartitionKey refers to the record partition key.
func PartitionKey() FieldRef { return FieldRef(FieldPartitionKey) }

func (f FieldRef) Eq(v any) Expr { return Eq(string(f), v) }
func (f FieldRef) Ne(v any) Expr { return Ne(string(f), v) }
func (f FieldRef) Gt(v any) Expr { return Gt(string(f), v) }
func (f FieldRef) Gte(v any) Expr { return Gte(string(f), v) }
func (f FieldRef) Lt(v any) Expr { return Lt(string(f), v) }
func (f FieldRef) Lte(v any) Expr { return Lte(string(f), v) }
func (f FieldRef) In(vs ...any) Expr { return In(string(f), vs...) }
func (f FieldRef) Asc() OrderClause { return Asc(string(f)) }
func (f FieldRef) Desc() OrderClause { return Desc(string(f)) }

// Normalize converts a literal into the canonical representation shared by
// every store: int64, float64, string, bool or nil. Values implementing
// json.Marshaler are reduced to the scalar their JSON encoding produces.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string, bool, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, errors.NewValidationError("", fmt.Sprintf("invalid number literal %q", x.String()))
		}
		return f, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	}
	if m, ok := v.(json.Marshaler); ok {
		return normalizeJSON(m)
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, errors.NewValidationError("", fmt.Sprintf("integer literal %d overflows int64", u))
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return nil, errors.NewValidationError("", fmt.Sprintf("unsupported literal type %T", v))
}

func normalizeJSON(m json.Marshaler) (any, error) {
	raw, err := m.MarshalJSON()
	if err != nil {
		return nil, errors.NewValidationError("", fmt.Sprintf("literal %T: %v", m, err))
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, errors.NewValidationError("", fmt.Sprintf("literal %T: %v", m, err))
	}
	switch out.(type) {
	case map[string]any, []any:
		return nil, errors.NewValidationError("", fmt.Sprintf("literal %T does not encode to a scalar", m))
	}
	return Normalize(out)
}

func normalizeOrKeep(v any) any {
	n, err := Normalize(v)
	if err != nil {
		return v
	}
	return n
}

func formatLiteral(v any) string {
	switch x := v.(type) {
	case string:
		return fmt.Sprintf("%q", x)
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatLiteral(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case nil:
		return "null"
	}
	return fmt.Sprint(v)
}
