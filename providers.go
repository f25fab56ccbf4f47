/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"context"

	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/datastore/badger"
	"github.com/suparena/entityrepo/datastore/ddb"
	"github.com/suparena/entityrepo/datastore/memory"
	"github.com/suparena/entityrepo/datastore/sqlite"
	"github.com/suparena/entityrepo/registry"
)

func init() {
	registry.Register(config.ProviderDynamoDB, openDynamoDB)
	registry.Register(config.ProviderBadger, openBadger)
	registry.Register(config.ProviderSQLite, openSQLite)
	registry.Register(config.ProviderMemory, openMemory)
}

func openDynamoDB(ctx context.Context, cfg config.Config) (datastore.DataStore, error) {
	return ddb.Open(ctx, ddb.ClientOptions{
		Region:     cfg.Region,
		Endpoint:   cfg.Endpoint,
		AccessKey:  cfg.AccessKey,
		SecretKey:  cfg.SecretKey,
		MaxRetries: cfg.MaxRetries,
	}, cfg.QualifiedCollection(), ddb.WithAllowCreate(cfg.AllowCreate))
}

func openBadger(_ context.Context, cfg config.Config) (datastore.DataStore, error) {
	return badger.Open(cfg.Path, cfg.InMemory, cfg.QualifiedCollection())
}

// An in-memory SQLite database starts empty, so its table is always created.
func openSQLite(_ context.Context, cfg config.Config) (datastore.DataStore, error) {
	return sqlite.Open(cfg.Path, cfg.InMemory, cfg.QualifiedCollection(),
		sqlite.WithAllowCreate(cfg.AllowCreate || cfg.InMemory))
}

func openMemory(context.Context, config.Config) (datastore.DataStore, error) {
	return memory.New(), nil
}
