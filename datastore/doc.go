/*
Package datastore defines the collaborator contract between the repository
facade and its backing stores.

Stores work on untyped JSON documents keyed by (partition key, id):

	type DataStore interface {
	    Name() string
	    EnsureContainer(ctx context.Context) error
	    Get(ctx context.Context, key Key) (*Record, error)
	    ResolveKeys(ctx context.Context, ids []string) ([]Key, error)
	    Query(ctx context.Context, q *query.Query) (Cursor, error)
	    Count(ctx context.Context, q *query.Query) (int64, error)
	    Bulk(ctx context.Context, op Op, records []Record) ([]Outcome, error)
	    DeleteAll(ctx context.Context) error
	    Capabilities() Capabilities
	    Close() error
	}

Implementations:
  - ddb: DynamoDB single-table store with native key queries
  - badger: embedded badger store
  - sqlite: embedded SQLite store with full query push-down
  - memory: in-process store with error injection for tests

Each store translates query.Query through its own Translator. Stores without
native filtering or ordering share MemoryPlan, which filters, stable-sorts and
pages records in memory with (partition key, id) as the final tie-breaker.
*/
package datastore
