/*
Package entityrepo provides one CRUD and query contract over several backing
stores: DynamoDB, embedded badger and SQLite databases, and an in-process
store.

A Repository[T] stores entities of type T as JSON documents keyed by
(partition key, id). Queries are built with the query package and
translated by each store into its native form; whatever a store cannot
evaluate natively is filtered, sorted and paged in memory with the same
results.

Key Features:
  - Lazy, single-flight initialization that creates or verifies the
    collection on first use and can be retried after a failure
  - Predicates, multi-field ordering and skip/take paging with a
    deterministic (partition key, id) tie-break
  - Bulk writes split to the store's batch limit and run in parallel
  - Normalized results: absent entities are nil, insert conflicts are
    skipped, counts report what was applied
  - Semantic error types (see the errors package) and OpenTelemetry spans

Basic Usage:

	type User struct {
	    ID    string `json:"id"`
	    Name  string `json:"name"`
	    Score int    `json:"score"`
	}

	func (u User) GetID() string { return u.ID }

	repo := entityrepo.Open[User](config.Config{Provider: "sqlite", Path: "users.db", AllowCreate: true})
	defer repo.Close()

	repo.InsertOrUpdate(ctx, User{ID: "1", Name: "Ann", Score: 7})

	q, _ := query.New().
	    Where(query.Field("score").Gte(5)).
	    OrderByDescending("score").
	    Take(10).
	    Build()
	top, err := repo.FindAll(ctx, q)

Entities implementing Partitioned choose their partition key; all others are
stored in the store's default partition.

Several repositories can be kept in a Manager, keyed by entity type and
collection name.
*/
package entityrepo
