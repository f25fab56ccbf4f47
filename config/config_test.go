/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/errors"
)

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: badger
collection: items
path: /var/lib/items
maxBatchSize: 50
requestsPerSecond: 12.5
`), 0o600))

	t.Chdir(dir)
	t.Setenv("ENTITYREPO_COLLECTION", "orders")
	t.Setenv("ENTITYREPO_MAX_PARALLELISM", "3")
	t.Setenv("ENTITYREPO_IN_MEMORY", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderBadger, cfg.Provider)
	assert.Equal(t, "orders", cfg.Collection)
	assert.Equal(t, "/var/lib/items", cfg.Path)
	assert.Equal(t, 50, cfg.MaxBatchSize)
	assert.Equal(t, 3, cfg.MaxParallelism)
	assert.Equal(t, 12.5, cfg.RequestsPerSecond)
	assert.True(t, cfg.InMemory)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ENTITYREPO_PROVIDER=memory\n"), 0o600))
	t.Setenv("ENTITYREPO_PROVIDER", "")
	os.Unsetenv("ENTITYREPO_PROVIDER")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ProviderMemory, cfg.Provider)
}

func TestApplyEnv_BadValue(t *testing.T) {
	env := map[string]string{"ENTITYREPO_MAX_BATCH_SIZE": "lots"}
	var cfg Config
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.True(t, errors.IsConfigurationError(err))
}

func TestResolve(t *testing.T) {
	cfg, err := Config{
		Provider:         "DynamoDB",
		ConnectionString: "Region=eu-west-1;Endpoint=http://localhost:8000;AccessKey=a;SecretKey=b=c;Table=items",
	}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, ProviderDynamoDB, cfg.Provider)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, "http://localhost:8000", cfg.Endpoint)
	assert.Equal(t, "b=c", cfg.SecretKey)
	assert.Equal(t, "items", cfg.Collection)
	assert.Empty(t, cfg.Database)
	assert.Equal(t, "items", cfg.QualifiedCollection())

	cfg, err = Config{Provider: ProviderMemory}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, DefaultCollection, cfg.Collection)
}

func TestResolve_Database(t *testing.T) {
	cfg, err := Config{Provider: ProviderSQLite, InMemory: true, ConnectionString: "Database=tenant1;Table=items"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "tenant1", cfg.Database)
	assert.Equal(t, "tenant1.items", cfg.QualifiedCollection())

	_, err = Config{Provider: ProviderMemory, Database: "bad/name"}.Resolve()
	assert.True(t, errors.IsConfigurationError(err))
}

func TestResolve_ExplicitFieldsWin(t *testing.T) {
	cfg, err := Config{
		Provider:         ProviderDynamoDB,
		Region:           "us-east-1",
		Collection:       "explicit",
		ConnectionString: "Region=eu-west-1;Table=fromstring",
	}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "explicit", cfg.Collection)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"missing provider", Config{Collection: "c"}, "provider"},
		{"bad collection", Config{Provider: ProviderMemory, Collection: "drop table;"}, "collection"},
		{"dynamodb without region", Config{Provider: ProviderDynamoDB, Collection: "c"}, "region"},
		{"half credentials", Config{Provider: ProviderDynamoDB, Collection: "c", Region: "r", AccessKey: "a"}, "accessKey"},
		{"badger without path", Config{Provider: ProviderBadger, Collection: "c"}, "path"},
		{"negative batch", Config{Provider: ProviderMemory, Collection: "c", MaxBatchSize: -1}, "maxBatchSize"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			var ce *errors.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	assert.NoError(t, Config{Provider: ProviderSQLite, Collection: "c", InMemory: true}.Validate())
}

func TestParseConnectionString(t *testing.T) {
	kv, err := ParseConnectionString(" Region = us-east-1 ; ; Table=items;")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"region": "us-east-1", "table": "items"}, kv)

	_, err = ParseConnectionString("Region")
	assert.True(t, errors.IsConfigurationError(err))
}
