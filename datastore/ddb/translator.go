/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/query"
	"github.com/suparena/entityrepo/storagemodels"
)

// DynamoDB accepts at most 100 operands in one IN comparison.
const maxInOperands = 100

// Plan is a translated query. Params is sent to DynamoDB page by page;
// Residual holds terms DynamoDB cannot evaluate and is applied to fetched
// records. When Native is set the table returns records in the requested
// order and paging can stop early; otherwise every page is read and sorted.
type Plan struct {
	Params   storagemodels.QueryParams
	Residual query.Expr
	Order    query.Ordering
	Native   bool
	Skip     int
	Take     int
}

// Translator turns queries into Query or Scan parameters for one table.
type Translator struct {
	Table string
}

var _ datastore.Translator[Plan] = Translator{}

// Translate validates q and returns its DynamoDB plan. Queries scoped to a
// partition become a Query on the table key, optionally narrowed by the
// first id comparison; all others become a Scan.
func (t Translator) Translate(q *query.Query) (Plan, error) {
	if q == nil {
		q = query.All()
	}
	if err := q.Validate(); err != nil {
		return Plan{}, err
	}

	plan := Plan{Order: q.Order, Skip: q.Skip, Take: q.Take}
	plan.Params.TableName = t.Table
	plan.Params.ConsistentRead = aws.Bool(true)

	e := newExprBuilder()
	terms := query.Terms(q.Filter)

	pk, scoped := q.Partition()
	if scoped {
		cond := e.name(AttrPartitionKey) + " = " + e.value(pk)
		if i := sortKeyTerm(terms); i >= 0 {
			c := terms[i].(query.Comparison)
			cond += " AND " + e.name(AttrSortKey) + " " + keyOp(c.Op) + " " + e.value(c.Value)
			terms = append(terms[:i:i], terms[i+1:]...)
		}
		plan.Params.KeyConditionExpression = cond
	} else {
		plan.Params.Scan = true
	}

	var (
		filters  []string
		residual []query.Expr
	)
	for _, term := range terms {
		c, ok := term.(query.Comparison)
		if !ok {
			return Plan{}, fmt.Errorf("unexpected term %T", term)
		}
		s, ok := e.comparison(c)
		if !ok {
			residual = append(residual, c)
			continue
		}
		filters = append(filters, s)
	}
	if len(filters) > 0 {
		plan.Params.FilterExpression = aws.String(strings.Join(filters, " AND "))
	}
	if len(residual) > 0 {
		plan.Residual = query.And(residual...)
	}
	plan.Params.ExpressionAttributeNames = e.names
	plan.Params.ExpressionAttributeValues = e.values

	if scoped && (len(q.Order) == 0 || q.Order.IsKeyOrder()) {
		plan.Native = true
		forward := len(q.Order) == 0 || q.Order[0].Direction == query.Ascending
		plan.Params.ScanIndexForward = aws.Bool(forward)
	}
	return plan, nil
}

// sortKeyTerm returns the index of the first id comparison usable in a key
// condition, or -1.
func sortKeyTerm(terms []query.Expr) int {
	for i, t := range terms {
		c, ok := t.(query.Comparison)
		if !ok || c.Field != query.FieldID {
			continue
		}
		switch c.Op {
		case query.OpEq, query.OpGt, query.OpGte, query.OpLt, query.OpLte:
			return i
		}
	}
	return -1
}

func keyOp(op query.Op) string {
	if op == query.OpEq {
		return "="
	}
	return string(op)
}

type exprBuilder struct {
	names  map[string]string
	values map[string]types.AttributeValue
	byName map[string]string
}

func newExprBuilder() *exprBuilder {
	return &exprBuilder{
		names:  make(map[string]string),
		values: make(map[string]types.AttributeValue),
		byName: make(map[string]string),
	}
}

// name returns the placeholder of an attribute name, reusing it when the
// name was seen before.
func (e *exprBuilder) name(attr string) string {
	if p, ok := e.byName[attr]; ok {
		return p
	}
	var p string
	switch attr {
	case AttrPartitionKey:
		p = "#pk"
	case AttrSortKey:
		p = "#sk"
	default:
		p = fmt.Sprintf("#f%d", len(e.byName))
	}
	e.byName[attr] = p
	e.names[p] = attr
	return p
}

// value returns the placeholder of a literal. Literals are already
// normalised scalars, so marshalling cannot fail.
func (e *exprBuilder) value(v any) string {
	p := fmt.Sprintf(":v%d", len(e.values))
	av, err := attributevalue.Marshal(v)
	if err != nil {
		av = &types.AttributeValueMemberNULL{Value: true}
	}
	e.values[p] = av
	return p
}

// path maps a field to a document path. The key pseudo-fields read the
// key index attributes, which filters may reference unlike table keys.
func (e *exprBuilder) path(field string) string {
	switch field {
	case query.FieldID:
		return e.name(KeyIndex.PartitionKeyName)
	case query.FieldPartitionKey:
		return e.name(KeyIndex.SortKeyName)
	}
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = e.name(p)
	}
	return strings.Join(parts, ".")
}

// comparison renders c as a filter condition. It reports false for terms
// DynamoDB cannot evaluate with the same semantics.
func (e *exprBuilder) comparison(c query.Comparison) (string, bool) {
	switch c.Op {
	case query.OpEq:
		return e.equal(c.Field, c.Value), true
	case query.OpNe:
		return "NOT " + e.equal(c.Field, c.Value), true
	case query.OpIn:
		return e.in(c.Field, c.Values()), true
	}

	lit, _ := query.Normalize(c.Value)
	switch lit.(type) {
	case int64, float64, string:
	default:
		// booleans and null have no order in DynamoDB
		return "", false
	}
	return "(" + e.path(c.Field) + " " + string(c.Op) + " " + e.value(lit) + ")", true
}

func (e *exprBuilder) equal(field string, v any) string {
	lit, _ := query.Normalize(v)
	p := e.path(field)
	if lit == nil {
		return "(attribute_not_exists(" + p + ") OR attribute_type(" + p + ", " + e.value("NULL") + "))"
	}
	return "(" + p + " = " + e.value(lit) + ")"
}

func (e *exprBuilder) in(field string, values []any) string {
	var (
		parts    []string
		operands []string
	)
	p := e.path(field)
	flush := func() {
		if len(operands) > 0 {
			parts = append(parts, p+" IN ("+strings.Join(operands, ", ")+")")
			operands = nil
		}
	}
	for _, v := range values {
		lit, _ := query.Normalize(v)
		if lit == nil {
			parts = append(parts, e.equal(field, nil))
			continue
		}
		operands = append(operands, e.value(lit))
		if len(operands) == maxInOperands {
			flush()
		}
	}
	flush()
	return "(" + strings.Join(parts, " OR ") + ")"
}
