/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/suparena/entityrepo/query"
)

// importBatchSize is the number of lines read before each bulk write.
const importBatchSize = 500

// document is an untyped entity. Its id is the "id" field and its partition
// key the optional "partitionKey" field.
type document map[string]any

func (d document) GetID() string {
	return stringField(d, "id")
}

func (d document) GetPartitionKey() string {
	return stringField(d, "partitionKey")
}

func stringField(d document, name string) string {
	switch v := d[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// operators in match order: two-character operators first.
var operators = []query.Op{query.OpGte, query.OpLte, query.OpNe, query.OpEq, query.OpGt, query.OpLt}

// parseCondition parses "field op value". The value is read as JSON when it
// parses as JSON and as a plain string otherwise; "in" takes a JSON array.
func parseCondition(s string) (query.Expr, error) {
	if field, rest, ok := strings.Cut(s, " in "); ok {
		var values []any
		if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &values); err != nil {
			return nil, fmt.Errorf("condition %q: in expects a JSON array: %w", s, err)
		}
		for i, v := range values {
			values[i] = integral(v)
		}
		return query.In(strings.TrimSpace(field), values...), nil
	}
	for _, op := range operators {
		field, raw, ok := strings.Cut(s, string(op))
		if !ok {
			continue
		}
		field = strings.TrimSpace(field)
		if field == "" {
			return nil, fmt.Errorf("condition %q: missing field", s)
		}
		value := parseValue(strings.TrimSpace(raw))
		switch op {
		case query.OpEq:
			return query.Eq(field, value), nil
		case query.OpNe:
			return query.Ne(field, value), nil
		case query.OpGt:
			return query.Gt(field, value), nil
		case query.OpGte:
			return query.Gte(field, value), nil
		case query.OpLt:
			return query.Lt(field, value), nil
		case query.OpLte:
			return query.Lte(field, value), nil
		}
	}
	return nil, fmt.Errorf("condition %q: expected field op value", s)
}

func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return integral(v)
	}
	return raw
}

// integral turns whole JSON numbers into integers.
func integral(v any) any {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f)
	}
	return v
}

func parseFilter(conditions []string) (query.Expr, error) {
	var terms []query.Expr
	for _, s := range conditions {
		expr, err := parseCondition(s)
		if err != nil {
			return nil, err
		}
		terms = append(terms, expr)
	}
	if len(terms) == 0 {
		return nil, nil
	}
	return query.And(terms...), nil
}

func buildQuery(c *cli.Context) (*query.Query, error) {
	filter, err := parseFilter(c.StringSlice("where"))
	if err != nil {
		return nil, err
	}
	b := query.New()
	if filter != nil {
		b.Where(filter)
	}
	if c.IsSet("partition") {
		b.InPartition(c.String("partition"))
	}
	for i, spec := range c.StringSlice("order") {
		field, dir, _ := strings.Cut(spec, ":")
		desc := strings.EqualFold(dir, "desc")
		switch {
		case i == 0 && desc:
			b.OrderByDescending(field)
		case i == 0:
			b.OrderBy(field)
		case desc:
			b.ThenByDescending(field)
		default:
			b.ThenBy(field)
		}
	}
	if c.IsSet("skip") {
		b.Skip(c.Int("skip"))
	}
	if c.IsSet("take") {
		b.Take(c.Int("take"))
	}
	return b.Build()
}

func countCommand(c *cli.Context) error {
	filter, err := parseFilter(c.StringSlice("where"))
	if err != nil {
		return err
	}
	repo, err := openRepository(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	n, err := repo.CountWhere(c.Context, filter)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, n)
	return err
}

func findCommand(c *cli.Context) error {
	q, err := buildQuery(c)
	if err != nil {
		return err
	}
	repo, err := openRepository(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	cur, err := repo.Find(c.Context, q)
	if err != nil {
		return err
	}
	defer cur.Close()

	enc := json.NewEncoder(c.App.Writer)
	for {
		doc, ok, err := cur.Next(c.Context)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := enc.Encode(doc); err != nil {
			return err
		}
	}
}

func importCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("import expects exactly one file argument", 2)
	}
	var in io.Reader = os.Stdin
	if name := c.Args().First(); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	repo, err := openRepository(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	write := repo.InsertOrUpdateMany
	if c.Bool("insert-only") {
		write = repo.InsertMany
	}

	var (
		pending []document
		read    int
		written int
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := write(c.Context, pending)
		written += n
		pending = pending[:0]
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		read++
		var doc document
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			return fmt.Errorf("line %d: %w", read, err)
		}
		pending = append(pending, doc)
		if len(pending) == importBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "read %d, written %d\n", read, written)
	return err
}

func deleteCommand(c *cli.Context) error {
	filter, err := parseFilter(c.StringSlice("where"))
	if err != nil {
		return err
	}
	repo, err := openRepository(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	n, err := repo.DeleteWhere(c.Context, filter)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "deleted %d\n", n)
	return err
}

func deleteAllCommand(c *cli.Context) error {
	repo, err := openRepository(c)
	if err != nil {
		return err
	}
	defer repo.Close()

	if _, err := repo.DeleteAll(c.Context); err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.App.Writer, "deleted all")
	return err
}
