/*
Package query is the store-agnostic predicate, ordering and paging model.

Predicates are small trees of comparisons joined by AND:

	expr := query.And(
	    query.Field("intData").Gte(50),
	    query.Field("status").In("open", "pending"),
	)

A Query adds ordering and paging, and is usually assembled with the Builder:

	q, err := query.New().
	    Where(expr).
	    InPartition("tenant-1").
	    OrderBy("intData").
	    ThenByDescending(query.FieldID).
	    Skip(5).
	    Take(10).
	    Build()

Build rejects negative skips, non-positive takes, ThenBy without OrderBy,
empty In lists and literals that are not scalars. Literals are normalised to
int64, float64, string, bool or nil; time.Time and other json.Marshaler
values become the scalar of their JSON encoding.

The pseudo-fields FieldID and FieldPartitionKey address the record key on
every store. Dotted names address nested document fields.

Evaluate and Compare give the in-memory semantics that stores without native
push-down use: numbers compare numerically regardless of representation,
strings lexically, false sorts before true and a missing field sorts first
and never satisfies a range comparison.
*/
package query
