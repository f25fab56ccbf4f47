/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package entityrepo

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/suparena/entityrepo/errors"
)

// managed is the type-independent part of a Repository.
type managed interface {
	IsInitialized() bool
	Close() error
}

type managerKey struct {
	typ  reflect.Type
	name string
}

func (k managerKey) String() string {
	return k.typ.String() + "/" + k.name
}

// Manager holds repositories by entity type and collection name.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.RWMutex
	repos map[managerKey]managed
}

// NewManager creates an empty Manager
func NewManager() *Manager {
	return &Manager{
		repos: make(map[managerKey]managed),
	}
}

func keyFor[T Entity](name string) managerKey {
	return managerKey{typ: reflect.TypeFor[T](), name: name}
}

// RegisterRepository adds repo for entity type T under name.
func RegisterRepository[T Entity](m *Manager, name string, repo *Repository[T]) error {
	key := keyFor[T](name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.repos[key]; exists {
		return errors.NewAlreadyExistsError("repository", key.String())
	}
	m.repos[key] = repo
	return nil
}

// GetRepository retrieves the repository for entity type T registered under name.
func GetRepository[T Entity](m *Manager, name string) (*Repository[T], error) {
	key := keyFor[T](name)

	m.mu.RLock()
	defer m.mu.RUnlock()
	repo, exists := m.repos[key]
	if !exists {
		return nil, errors.NewNotFoundError("repository", key.String())
	}
	return repo.(*Repository[T]), nil
}

// RemoveRepository unregisters a repository without closing it.
func RemoveRepository[T Entity](m *Manager, name string) error {
	key := keyFor[T](name)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.repos[key]; !exists {
		return errors.NewNotFoundError("repository", key.String())
	}
	delete(m.repos, key)
	return nil
}

// List returns the registered repositories as "type/name", sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.repos))
	for k := range m.repos {
		keys = append(keys, k.String())
	}
	slices.Sort(keys)
	return keys
}

// Initialized returns the registered repositories that finished
// initialization.
func (m *Manager) Initialized() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k, repo := range m.repos {
		if repo.IsInitialized() {
			keys = append(keys, k.String())
		}
	}
	slices.Sort(keys)
	return keys
}

// CloseAll closes and unregisters every repository. Errors are joined.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	repos := m.repos
	m.repos = make(map[managerKey]managed)
	m.mu.Unlock()

	var errs []error
	for k, repo := range repos {
		if err := repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
