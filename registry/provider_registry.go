/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/suparena/entityrepo/config"
	"github.com/suparena/entityrepo/datastore"
	"github.com/suparena/entityrepo/errors"
)

// Factory opens a store for a resolved configuration.
type Factory func(ctx context.Context, cfg config.Config) (datastore.DataStore, error)

var (
	providers = make(map[string]Factory)
	mu        sync.RWMutex
)

// Register associates a provider name with a store factory.
// If a factory is already registered under the name, it panics to prevent accidental overrides.
func Register(name string, factory Factory) {
	name = strings.ToLower(name)

	mu.Lock()
	defer mu.Unlock()
	if _, exists := providers[name]; exists {
		panic(fmt.Sprintf("provider registry: provider %q already registered", name))
	}
	providers[name] = factory
}

// Lookup returns the factory registered under name, if any.
func Lookup(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := providers[strings.ToLower(name)]
	return f, ok
}

// Providers lists the registered provider names in sorted order.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Open resolves cfg and opens a store with the factory of its provider.
func Open(ctx context.Context, cfg config.Config) (datastore.DataStore, error) {
	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	factory, ok := Lookup(resolved.Provider)
	if !ok {
		return nil, errors.NewConfigurationError("provider",
			fmt.Sprintf("unknown provider %q (registered: %s)", resolved.Provider, strings.Join(Providers(), ", ")))
	}
	store, err := factory(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", resolved.Provider, err)
	}
	return store, nil
}
