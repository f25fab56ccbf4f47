/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"cmp"
	"slices"

	"github.com/suparena/entityrepo/query"
)

// MemoryPlan evaluates a query over records held in memory. Stores without
// native filtering and ordering scan their records and hand them to Run.
type MemoryPlan struct {
	Filter    query.Expr
	Order     query.Ordering
	Skip      int
	Take      int
	Partition string
	Scoped    bool
}

// MemoryTranslator produces MemoryPlans.
type MemoryTranslator struct{}

var _ Translator[MemoryPlan] = MemoryTranslator{}

// Translate validates q and returns its in-memory plan.
func (MemoryTranslator) Translate(q *query.Query) (MemoryPlan, error) {
	if q == nil {
		return MemoryPlan{}, nil
	}
	if err := q.Validate(); err != nil {
		return MemoryPlan{}, err
	}
	p := MemoryPlan{
		Filter: q.Filter,
		Order:  q.Order,
		Skip:   q.Skip,
		Take:   q.Take,
	}
	p.Partition, p.Scoped = q.Partition()
	return p, nil
}

// Matches reports whether r belongs to the plan's partition and satisfies
// its filter.
func (p MemoryPlan) Matches(r Record) bool {
	if p.Scoped && r.Key.PartitionKey != p.Partition {
		return false
	}
	return query.Evaluate(p.Filter, r)
}

// Select returns the matching records in their original order.
func (p MemoryPlan) Select(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if p.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Run filters, sorts and pages records. The input slice is not modified.
func (p MemoryPlan) Run(records []Record) *SliceCursor {
	matched := p.Select(records)
	SortRecords(matched, p.Order)
	return NewSliceCursor(matched, p.Skip, p.Take)
}

// SortRecords stable-sorts records by ordering, breaking ties by partition
// key then id. Without an ordering, records sort by insertion sequence and
// then by key, which is plain key order for stores that keep no sequence.
func SortRecords(records []Record, ordering query.Ordering) {
	slices.SortStableFunc(records, func(a, b Record) int {
		for _, c := range ordering {
			av, _ := a.Lookup(c.Field)
			bv, _ := b.Lookup(c.Field)
			r := query.Compare(av, bv)
			if c.Direction == query.Descending {
				r = -r
			}
			if r != 0 {
				return r
			}
		}
		if len(ordering) == 0 {
			if r := cmp.Compare(a.Seq, b.Seq); r != 0 {
				return r
			}
		}
		return CompareKeys(a.Key, b.Key)
	})
}

// CompareKeys orders keys by partition key, then id.
func CompareKeys(a, b Key) int {
	if r := cmp.Compare(a.PartitionKey, b.PartitionKey); r != 0 {
		return r
	}
	return cmp.Compare(a.ID, b.ID)
}
