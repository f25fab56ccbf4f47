/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
)

func TestRegisterAndOpen(t *testing.T) {
	var got config.Config
	Register("Registry-Test", func(ctx context.Context, cfg config.Config) (datastore.DataStore, error) {
		got = cfg
		return nil, nil
	})

	_, ok := Lookup("registry-test")
	assert.True(t, ok)
	assert.Contains(t, Providers(), "registry-test")

	_, err := Open(context.Background(), config.Config{Provider: "registry-test", ConnectionString: "Table=things"})
	require.NoError(t, err)
	assert.Equal(t, "things", got.Collection)
	assert.Empty(t, got.Database)
}

func TestRegister_DuplicatePanics(t *testing.T) {
	f := func(ctx context.Context, cfg config.Config) (datastore.DataStore, error) { return nil, nil }
	Register("registry-dup", f)
	assert.Panics(t, func() { Register("registry-dup", f) })
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), config.Config{Provider: "no-such-provider"})
	assert.True(t, errors.IsConfigurationError(err))

	_, err = Open(context.Background(), config.Config{})
	assert.True(t, errors.IsConfigurationError(err))

	Register("registry-fail", func(ctx context.Context, cfg config.Config) (datastore.DataStore, error) {
		return nil, errors.NewFatalStoreError("registry-fail", "open", fmt.Errorf("locked"))
	})
	_, err = Open(context.Background(), config.Config{Provider: "registry-fail"})
	assert.True(t, errors.IsFatal(err))
}
