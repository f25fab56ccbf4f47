/*
Package ddb provides a DynamoDB implementation of the DataStore interface.

Each collection lives in one table. Records are stored as items whose
document fields are top-level attributes next to the key attributes:

	PK      partition key (hash key)
	SK      entity id (range key)
	GSI1PK  entity id      } GSI1, keys only, used to find the
	GSI1SK  partition key  } partitions holding an id

Documents may not use these attribute names.

Translation:
Queries scoped to one partition become a Query on the table key; the first
id comparison joins the key condition. Everything else is a Scan with a
filter expression. Comparisons DynamoDB cannot evaluate the same way
(ordering of booleans and null) stay in the plan as a residual filter
applied after decoding.

Ordering:
Scoped queries ordered by id, or not ordered at all, are read page by page
in key order and stop once take is satisfied. Any other ordering reads all
pages and sorts in memory.

Writes:
Insert and update are conditional puts; upserts go through BatchWriteItem
in groups of 25 with unprocessed items resubmitted under exponential
backoff.

	store, err := ddb.Open(ctx, ddb.ClientOptions{Region: "us-east-1"}, "items",
	    ddb.WithAllowCreate(true))
*/
package ddb
