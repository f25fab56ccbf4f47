/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package query

import (
	"fmt"
	"strings"

	"github.com/suparena/entityrepo/errors"
)

// Direction is the sort direction of an order clause.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// OrderClause sorts by a single field.
type OrderClause struct {
	Field     string
	Direction Direction
}

// Asc sorts field in ascending order.
func Asc(field string) OrderClause { return OrderClause{Field: field, Direction: Ascending} }

// Desc sorts field in descending order.
func Desc(field string) OrderClause { return OrderClause{Field: field, Direction: Descending} }

// Ordering is a primary sort clause followed by tie-breakers.
type Ordering []OrderClause

// NewOrdering returns an ordering of the given clauses. At least one clause
// is required.
func NewOrdering(clauses ...OrderClause) (Ordering, error) {
	if len(clauses) == 0 {
		return nil, errors.NewValidationError("order", "ordering requires at least one clause")
	}
	o := make(Ordering, len(clauses))
	copy(o, clauses)
	if err := o.validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// IsKeyOrder reports whether the ordering sorts by record id alone.
func (o Ordering) IsKeyOrder() bool {
	return len(o) == 1 && o[0].Field == FieldID
}

func (o Ordering) validate() error {
	for i, c := range o {
		if c.Field == "" {
			return errors.NewValidationError("order", fmt.Sprintf("clause %d has an empty field", i))
		}
		if c.Direction != Ascending && c.Direction != Descending {
			return errors.NewValidationError("order", fmt.Sprintf("clause %d has an unknown direction", i))
		}
	}
	return nil
}

func (o Ordering) String() string {
	parts := make([]string, len(o))
	for i, c := range o {
		parts[i] = c.Field + " " + c.Direction.String()
	}
	return strings.Join(parts, ", ")
}

// Query is a store-agnostic read request. A nil Filter matches every record,
// a zero Take means no limit.
type Query struct {
	Filter       Expr
	Order        Ordering
	Skip         int
	Take         int
	PartitionKey *string
}

// All returns a query that matches every record.
func All() *Query {
	return &Query{}
}

// Where returns a query filtered by expr.
func Where(expr Expr) *Query {
	return &Query{Filter: expr}
}

// Partition returns the partition the query is restricted to, either set
// explicitly or implied by a top-level partition key equality.
func (q *Query) Partition() (string, bool) {
	if q == nil {
		return "", false
	}
	if q.PartitionKey != nil {
		return *q.PartitionKey, true
	}
	return PartitionScope(q.Filter)
}

// Validate checks a query for malformed paging, ordering or literals.
func (q *Query) Validate() error {
	if q == nil {
		return nil
	}
	if q.Skip < 0 {
		return errors.NewValidationError("skip", "must not be negative")
	}
	if q.Take < 0 {
		return errors.NewValidationError("take", "must be positive")
	}
	if err := q.Order.validate(); err != nil {
		return err
	}
	if q.Filter != nil {
		return ValidateExpr(q.Filter)
	}
	return nil
}

func (q *Query) String() string {
	if q == nil {
		return "<all>"
	}
	var b strings.Builder
	if q.Filter != nil {
		b.WriteString(q.Filter.String())
	} else {
		b.WriteString("<all>")
	}
	if q.PartitionKey != nil {
		fmt.Fprintf(&b, " partition %q", *q.PartitionKey)
	}
	if len(q.Order) > 0 {
		b.WriteString(" order by " + q.Order.String())
	}
	if q.Skip > 0 {
		fmt.Fprintf(&b, " skip %d", q.Skip)
	}
	if q.Take > 0 {
		fmt.Fprintf(&b, " take %d", q.Take)
	}
	return b.String()
}

// ValidateExpr checks every node of a predicate tree.
func ValidateExpr(expr Expr) error {
	switch e := expr.(type) {
	case Comparison:
		if e.Field == "" {
			return errors.NewValidationError("filter", "comparison has an empty field")
		}
		if !e.Op.Valid() {
			return errors.NewValidationError(e.Field, fmt.Sprintf("unknown operator %q", e.Op))
		}
		if e.Op == OpIn {
			vs, ok := e.Value.([]any)
			if !ok || len(vs) == 0 {
				return errors.NewValidationError(e.Field, "in requires at least one value")
			}
		}
		for _, v := range e.Values() {
			if _, err := Normalize(v); err != nil {
				return withField(e.Field, err)
			}
		}
		if (e.Field == FieldID || e.Field == FieldPartitionKey) && !stringLiterals(e.Values()) {
			return errors.NewValidationError(e.Field, "key fields compare against strings only")
		}
		return nil
	case Conjunction:
		if len(e.Terms) == 0 {
			return errors.NewValidationError("filter", "and requires at least one term")
		}
		for _, t := range e.Terms {
			if err := ValidateExpr(t); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return errors.NewValidationError("filter", "nil expression")
	}
	return errors.NewValidationError("filter", fmt.Sprintf("unsupported expression %T", expr))
}

func withField(field string, err error) error {
	if ve, ok := err.(*errors.ValidationError); ok && ve.Field == "" {
		return errors.NewValidationError(field, ve.Message)
	}
	return err
}

func stringLiterals(vs []any) bool {
	for _, v := range vs {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}

// Builder assembles a Query. The first error is kept and returned by Build.
type Builder struct {
	q   Query
	err error
}

// New starts a query builder.
func New() *Builder {
	return &Builder{}
}

// Where sets the filter, combining it with any previous filter.
func (b *Builder) Where(expr Expr) *Builder {
	return b.And(expr)
}

// And adds a term to the filter.
func (b *Builder) And(expr Expr) *Builder {
	if expr == nil {
		b.fail(errors.NewValidationError("filter", "nil expression"))
		return b
	}
	if b.q.Filter == nil {
		b.q.Filter = expr
	} else {
		b.q.Filter = And(b.q.Filter, expr)
	}
	return b
}

// InPartition restricts the query to one partition.
func (b *Builder) InPartition(pk string) *Builder {
	b.q.PartitionKey = &pk
	return b
}

// OrderBy replaces the ordering with an ascending sort on field.
func (b *Builder) OrderBy(field string) *Builder {
	b.q.Order = Ordering{Asc(field)}
	return b
}

// OrderByDescending replaces the ordering with a descending sort on field.
func (b *Builder) OrderByDescending(field string) *Builder {
	b.q.Order = Ordering{Desc(field)}
	return b
}

// ThenBy adds an ascending tie-breaker.
func (b *Builder) ThenBy(field string) *Builder {
	return b.then(Asc(field))
}

// ThenByDescending adds a descending tie-breaker.
func (b *Builder) ThenByDescending(field string) *Builder {
	return b.then(Desc(field))
}

func (b *Builder) then(c OrderClause) *Builder {
	if len(b.q.Order) == 0 {
		b.fail(errors.NewValidationError("order", "ThenBy requires a preceding OrderBy"))
		return b
	}
	b.q.Order = append(b.q.Order, c)
	return b
}

// Take limits the number of returned records.
func (b *Builder) Take(n int) *Builder {
	if n <= 0 {
		b.fail(errors.NewValidationError("take", "must be positive"))
		return b
	}
	b.q.Take = n
	return b
}

// Skip discards the first n matching records.
func (b *Builder) Skip(n int) *Builder {
	if n < 0 {
		b.fail(errors.NewValidationError("skip", "must not be negative"))
		return b
	}
	b.q.Skip = n
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates and returns the query.
func (b *Builder) Build() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	q := b.q
	q.Order = append(Ordering(nil), b.q.Order...)
	if len(q.Order) == 0 {
		q.Order = nil
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return &q, nil
}
