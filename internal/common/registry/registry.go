// Package registry provides a generic, thread-safe registry of factories
// keyed by a stable type identifier.
//
// Plugin implementations are linked into the binary explicitly: each one
// registers a factory under its key at process start, and the plugin runtime
// resolves persisted plugin records to constructors through the registry.
//
// Example usage:
//
//	factories := registry.New[plugin.Factory]()
//	if err := factories.Register(articles.NewFactory()); err != nil {
//		log.Fatal(err)
//	}
//	factory, err := factories.Get("articles")
package registry

import (
	"fmt"
	"sort"
	"sync"

	"plugin-runtime/internal/common/errors"
)

// Factory defines the interface that all factory types must implement
// to be used with the generic registry.
type Factory interface {
	// GetType returns the type identifier for this factory
	GetType() string
}

// Registry provides a generic, thread-safe registry for factory instances.
type Registry[T Factory] struct {
	factories map[string]T
	mu        sync.RWMutex
}

// New creates a new empty registry for factories of type T.
func New[T Factory]() *Registry[T] {
	return &Registry[T]{
		factories: make(map[string]T),
	}
}

// Register adds a factory under its own type identifier.
// Registering the same identifier twice is a conflict.
func (r *Registry[T]) Register(factory T) error {
	factoryType := factory.GetType()
	if factoryType == "" {
		return errors.ValidationError("factory type must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[factoryType]; exists {
		return errors.ConflictError(fmt.Sprintf("factory type %s", factoryType))
	}
	r.factories[factoryType] = factory
	return nil
}

// MustRegister is Register for init-time linkage; it panics on conflict.
func (r *Registry[T]) MustRegister(factory T) {
	if err := r.Register(factory); err != nil {
		panic(err)
	}
}

// Get retrieves a factory by its type identifier.
func (r *Registry[T]) Get(factoryType string) (T, error) {
	r.mu.RLock()
	factory, exists := r.factories[factoryType]
	r.mu.RUnlock()

	if !exists {
		var zero T
		return zero, errors.NotFoundError(fmt.Sprintf("factory type %s", factoryType))
	}

	return factory, nil
}

// GetAvailableTypes returns the registered type identifiers in sorted order.
func (r *Registry[T]) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for factoryType := range r.factories {
		types = append(types, factoryType)
	}
	sort.Strings(types)
	return types
}

// IsRegistered checks if a factory type is registered in the registry.
func (r *Registry[T]) IsRegistered(factoryType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[factoryType]
	return exists
}

// Count returns the number of registered factories.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.factories)
}
