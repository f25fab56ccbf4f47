//go:build integration

/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb_test

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/datastore/ddb"
	"github.com/suparena/entityrepo/datastore/storetest"
)

// Runs against a real table named by AWS_DDB_TABLE. The table is emptied
// before every subtest.
func TestIntegration_Conformance(t *testing.T) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, proceeding with environment variables")
	}
	table := os.Getenv("AWS_DDB_TABLE")
	if table == "" {
		t.Skip("AWS_DDB_TABLE not set")
	}
	opts := ddb.ClientOptions{
		Region:    os.Getenv("AWS_REGION"),
		Endpoint:  os.Getenv("AWS_DDB_ENDPOINT"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
		SecretKey: os.Getenv("AWS_SECRET_KEY"),
	}

	storetest.Run(t, func(t *testing.T) datastore.DataStore {
		ctx := context.Background()
		store, err := ddb.Open(ctx, opts, table, ddb.WithAllowCreate(true))
		require.NoError(t, err)
		require.NoError(t, store.EnsureContainer(ctx))
		require.NoError(t, store.DeleteAll(ctx))
		return store
	})
}
