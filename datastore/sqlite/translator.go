/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package sqlite

import (
	"fmt"
	"strings"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/query"
)

// Statement is a translated query: a WHERE clause, an ORDER BY clause and
// paging, with positional arguments for each clause.
type Statement struct {
	Where     string
	WhereArgs []any
	OrderBy   string
	OrderArgs []any
	Skip      int
	Take      int
}

// Translator turns queries into SQL over a (pk, id, doc) table, reading
// document fields with json_extract.
type Translator struct{}

var _ datastore.Translator[Statement] = Translator{}

// Translate validates q and returns its SQL form.
func (Translator) Translate(q *query.Query) (Statement, error) {
	var st Statement
	if q == nil {
		st.OrderBy = "rowid"
		return st, nil
	}
	if err := q.Validate(); err != nil {
		return Statement{}, err
	}

	var w builder
	var conds []string
	if q.PartitionKey != nil {
		conds = append(conds, "pk = "+w.arg(*q.PartitionKey))
	}
	if q.Filter != nil {
		conds = append(conds, w.expr(q.Filter))
	}
	st.Where = strings.Join(conds, " AND ")
	st.WhereArgs = w.args

	var o builder
	if len(q.Order) == 0 {
		st.OrderBy = "rowid"
	} else {
		terms := make([]string, 0, 2*len(q.Order)+2)
		for _, c := range q.Order {
			dir := "ASC"
			if c.Direction == query.Descending {
				dir = "DESC"
			}
			switch c.Field {
			case query.FieldID:
				terms = append(terms, "id "+dir)
			case query.FieldPartitionKey:
				terms = append(terms, "pk "+dir)
			default:
				path := jsonPath(c.Field)
				terms = append(terms,
					o.kindRank(path)+" "+dir,
					"json_extract(doc, "+o.arg(path)+") "+dir)
			}
		}
		terms = append(terms, "pk ASC", "id ASC")
		st.OrderBy = strings.Join(terms, ", ")
	}
	st.OrderArgs = o.args
	st.Skip = q.Skip
	st.Take = q.Take
	return st, nil
}

// SelectSQL returns the statement reading one page of at most limit rows
// starting at offset. A negative limit reads to the end.
func (st Statement) SelectSQL(table string, limit, offset int) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT pk, id, doc, rowid FROM %s", quoteIdent(table))
	if st.Where != "" {
		b.WriteString(" WHERE " + st.Where)
	}
	b.WriteString(" ORDER BY " + st.OrderBy)
	b.WriteString(" LIMIT ? OFFSET ?")

	args := make([]any, 0, len(st.WhereArgs)+len(st.OrderArgs)+2)
	args = append(args, st.WhereArgs...)
	args = append(args, st.OrderArgs...)
	args = append(args, limit, offset)
	return b.String(), args
}

// CountSQL returns the statement counting matching rows.
func (st Statement) CountSQL(table string) (string, []any) {
	s := "SELECT COUNT(*) FROM " + quoteIdent(table)
	if st.Where != "" {
		s += " WHERE " + st.Where
	}
	return s, st.WhereArgs
}

type builder struct {
	args []any
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return "?"
}

// kindRank orders values by kind the way query.Compare does:
// missing or null, booleans, numbers, strings, then composites.
func (b *builder) kindRank(path string) string {
	return "CASE json_type(doc, " + b.arg(path) + ") " +
		"WHEN 'true' THEN 1 WHEN 'false' THEN 1 " +
		"WHEN 'integer' THEN 2 WHEN 'real' THEN 2 " +
		"WHEN 'text' THEN 3 " +
		"WHEN 'object' THEN 4 WHEN 'array' THEN 4 " +
		"ELSE 0 END"
}

func (b *builder) expr(e query.Expr) string {
	switch x := e.(type) {
	case query.Conjunction:
		parts := make([]string, len(x.Terms))
		for i, t := range x.Terms {
			parts[i] = b.expr(t)
		}
		return "(" + strings.Join(parts, " AND ") + ")"
	case query.Comparison:
		return b.comparison(x)
	}
	return "0"
}

// comparison renders a predicate that always yields 0 or 1, never NULL, so
// negation treats missing fields like query.Evaluate does.
func (b *builder) comparison(c query.Comparison) string {
	switch c.Op {
	case query.OpEq:
		return b.equal(c.Field, c.Value)
	case query.OpNe:
		return "NOT " + b.equal(c.Field, c.Value)
	case query.OpIn:
		parts := make([]string, 0, len(c.Values()))
		for _, v := range c.Values() {
			parts = append(parts, b.equal(c.Field, v))
		}
		return "(" + strings.Join(parts, " OR ") + ")"
	}

	lit, _ := query.Normalize(c.Value)
	op := string(c.Op)
	if col, ok := keyColumn(c.Field); ok {
		return "(" + col + " " + op + " " + b.arg(lit) + ")"
	}
	path := jsonPath(c.Field)
	kind := kindGuard(lit)
	if kind == "" {
		return "0"
	}
	if v, ok := lit.(bool); ok {
		lit = boolInt(v)
	}
	return "COALESCE(json_type(doc, " + b.arg(path) + ") IN " + kind +
		" AND json_extract(doc, " + b.arg(path) + ") " + op + " " + b.arg(lit) + ", 0)"
}

func (b *builder) equal(field string, v any) string {
	lit, _ := query.Normalize(v)
	if col, ok := keyColumn(field); ok {
		return "(" + col + " = " + b.arg(lit) + ")"
	}
	path := jsonPath(field)
	switch x := lit.(type) {
	case nil:
		return "COALESCE(json_type(doc, " + b.arg(path) + ") = 'null', 1)"
	case bool:
		kind := "'false'"
		if x {
			kind = "'true'"
		}
		return "COALESCE(json_type(doc, " + b.arg(path) + ") = " + kind + ", 0)"
	}
	return "COALESCE(json_type(doc, " + b.arg(path) + ") IN " + kindGuard(lit) +
		" AND json_extract(doc, " + b.arg(path) + ") = " + b.arg(lit) + ", 0)"
}

func kindGuard(lit any) string {
	switch lit.(type) {
	case int64, float64:
		return "('integer', 'real')"
	case string:
		return "('text')"
	case bool:
		return "('true', 'false')"
	}
	return ""
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func keyColumn(field string) (string, bool) {
	switch field {
	case query.FieldID:
		return "id", true
	case query.FieldPartitionKey:
		return "pk", true
	}
	return "", false
}

// jsonPath converts a dotted field name into a JSON path with every label
// quoted, e.g. a.b -> $."a"."b".
func jsonPath(field string) string {
	parts := strings.Split(field, ".")
	var b strings.Builder
	b.WriteString("$")
	for _, p := range parts {
		b.WriteString(`."`)
		b.WriteString(strings.ReplaceAll(p, `"`, `\"`))
		b.WriteString(`"`)
	}
	return b.String()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
