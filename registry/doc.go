/*
Package registry maps configured provider names to store factories.

Stores are selected at construction time through configuration. The
entityrepo package registers the built-in providers:

	dynamodb  DynamoDB single-table store
	badger    embedded badger store
	sqlite    embedded SQLite store
	memory    in-process store

Additional providers register a Factory, typically from an init() function:

	registry.Register("mystore", func(ctx context.Context, cfg config.Config) (datastore.DataStore, error) {
	    return mystore.Open(ctx, cfg.Path)
	})

Open resolves the configuration, so factories always receive defaults filled
in and the connection string merged. The registry is thread-safe.
*/
package registry
