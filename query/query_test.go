/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package query

import (
	"testing"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/errors"
)

func TestBuilder_Build(t *testing.T) {
	q, err := New().
		Where(Gte("intData", 50)).
		And(Field("data").Ne("x")).
		InPartition("p1").
		OrderBy("intData").
		ThenByDescending(FieldID).
		Skip(5).
		Take(10).
		Build()
	require.NoError(t, err)

	assert.Equal(t, 5, q.Skip)
	assert.Equal(t, 10, q.Take)
	require.NotNil(t, q.PartitionKey)
	assert.Equal(t, "p1", *q.PartitionKey)
	assert.Equal(t, Ordering{Asc("intData"), Desc(FieldID)}, q.Order)

	conj, ok := q.Filter.(Conjunction)
	require.True(t, ok)
	require.Len(t, conj.Terms, 2)
	assert.Equal(t, Comparison{Field: "intData", Op: OpGte, Value: int64(50)}, conj.Terms[0])
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Builder
	}{
		{"negative skip", func() *Builder { return New().Skip(-1) }},
		{"zero take", func() *Builder { return New().Take(0) }},
		{"negative take", func() *Builder { return New().Take(-3) }},
		{"then without order", func() *Builder { return New().ThenBy("a") }},
		{"empty order field", func() *Builder { return New().OrderBy("") }},
		{"empty comparison field", func() *Builder { return New().Where(Eq("", 1)) }},
		{"empty in list", func() *Builder { return New().Where(In("a")) }},
		{"unsupported literal", func() *Builder { return New().Where(Eq("a", struct{ X int }{1})) }},
		{"nil expression", func() *Builder { return New().Where(nil) }},
		{"id against number", func() *Builder { return New().Where(Eq(FieldID, 7)) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := tt.build().Build()
			assert.Nil(t, q)
			assert.True(t, errors.IsValidationError(err), "expected validation error, got %v", err)
		})
	}
}

func TestBuilder_OrderByResets(t *testing.T) {
	q, err := New().OrderBy("a").ThenBy("b").OrderByDescending("c").Build()
	require.NoError(t, err)
	assert.Equal(t, Ordering{Desc("c")}, q.Order)
}

func TestNewOrdering(t *testing.T) {
	_, err := NewOrdering()
	assert.True(t, errors.IsValidationError(err))

	o, err := NewOrdering(Asc("a"), Desc("b"))
	require.NoError(t, err)
	assert.Len(t, o, 2)
	assert.False(t, o.IsKeyOrder())

	o, err = NewOrdering(ID().Asc())
	require.NoError(t, err)
	assert.True(t, o.IsKeyOrder())
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, (*Query)(nil).Validate())
	assert.NoError(t, All().Validate())

	q := &Query{Skip: -1}
	assert.True(t, errors.IsValidationError(q.Validate()))

	q = &Query{Filter: Conjunction{}}
	assert.True(t, errors.IsValidationError(q.Validate()))

	q = &Query{Filter: Comparison{Field: "a", Op: "~", Value: 1}}
	assert.True(t, errors.IsValidationError(q.Validate()))

	q = &Query{Filter: Comparison{Field: "a", Op: OpEq, Value: []int{1}}}
	err := q.Validate()
	require.Error(t, err)
	var ve *errors.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "a", ve.Field)
}

func TestQuery_Partition(t *testing.T) {
	pk, ok := Where(And(Eq("a", 1), PartitionKey().Eq("p2"))).Partition()
	assert.True(t, ok)
	assert.Equal(t, "p2", pk)

	_, ok = Where(PartitionKey().Ne("p2")).Partition()
	assert.False(t, ok)

	q, err := New().InPartition("p1").Where(PartitionKey().Eq("p2")).Build()
	require.NoError(t, err)
	pk, ok = q.Partition()
	assert.True(t, ok)
	assert.Equal(t, "p1", pk)
}

func TestNormalize(t *testing.T) {
	type status string
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	dt := strfmt.DateTime(ts)
	n := 42

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int", 7, int64(7)},
		{"uint8", uint8(7), int64(7)},
		{"float32", float32(1.5), float64(1.5)},
		{"named string", status("open"), "open"},
		{"bool", true, true},
		{"pointer", &n, int64(42)},
		{"nil pointer", (*int)(nil), nil},
		{"time", ts, "2025-03-01T12:00:00Z"},
		{"strfmt datetime", dt, "2025-03-01T12:00:00.000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Normalize(map[string]any{"a": 1})
	assert.True(t, errors.IsValidationError(err))

	_, err = Normalize(uint64(1 << 63))
	assert.True(t, errors.IsValidationError(err))
}

func TestQuery_String(t *testing.T) {
	q, err := New().Where(Eq("a", "x")).And(In("b", 1, 2)).OrderBy("a").Take(3).Build()
	require.NoError(t, err)
	assert.Equal(t, `(a == "x" && b in [1, 2]) order by a asc take 3`, q.String())
}
