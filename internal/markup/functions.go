package markup

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/storage"
)

// Func is a template function. args are the raw comma-split arguments of the
// call; the returned string replaces the directive.
type Func func(rc *Context, args []string) string

// HandlerStore is the part of storage.Store the registry persists bindings in.
type HandlerStore interface {
	LoadTemplateHandlerRecords(ctx context.Context) ([]*storage.TemplateHandlerRecord, error)
	SaveTemplateHandler(ctx context.Context, record *storage.TemplateHandlerRecord) error
	DeleteTemplateHandler(ctx context.Context, name string) error
	DeleteTemplateHandlersByOwner(ctx context.Context, ownerUUID string) error
}

// Binder resolves a persisted (owner, name) binding to the function the owning
// plugin provides.
type Binder interface {
	BindFunction(owner, name string) (Func, bool)
}

// BinderFunc adapts a function to Binder.
type BinderFunc func(owner, name string) (Func, bool)

func (f BinderFunc) BindFunction(owner, name string) (Func, bool) {
	return f(owner, name)
}

type entry struct {
	fn    Func
	owner string
}

// FunctionRegistry maps unique names to template functions. Built-in
// functions are fixed at construction; the rest are added by the host or by
// plugins, and those with an owner are persisted through the store.
type FunctionRegistry struct {
	mu       sync.RWMutex
	builtins map[string]Func
	entries  map[string]entry
	store    HandlerStore
	logger   logging.Logger
}

// NewFunctionRegistry creates a registry. store may be nil, in which case
// nothing is persisted and Reload is a no-op.
func NewFunctionRegistry(store HandlerStore, builtins map[string]Func) *FunctionRegistry {
	b := make(map[string]Func, len(builtins))
	for name, fn := range builtins {
		b[name] = fn
	}
	return &FunctionRegistry{
		builtins: b,
		entries:  make(map[string]entry),
		store:    store,
		logger:   logging.Component("template_functions"),
	}
}

// Lookup returns the function registered under name.
func (r *FunctionRegistry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.builtins[name]; ok {
		return fn, true
	}
	if e, ok := r.entries[name]; ok {
		return e.fn, true
	}
	return nil, false
}

// Owner returns the plugin owning name; built-in and host functions have no owner.
func (r *FunctionRegistry) Owner(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.builtins[name]; ok {
		return "", true
	}
	e, ok := r.entries[name]
	return e.owner, ok
}

// Names returns every registered name in sorted order.
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builtins)+len(r.entries))
	for name := range r.builtins {
		names = append(names, name)
	}
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Add registers fn under name. It fails with a conflict if the name is taken.
// When owner is set and a store is configured the binding is persisted first,
// and the function only becomes visible once the store accepted it.
func (r *FunctionRegistry) Add(ctx context.Context, name string, fn Func, owner string) error {
	if !validName(name) {
		return errors.ValidationError(fmt.Sprintf("invalid template function name %q", name))
	}
	if fn == nil {
		return errors.ValidationError(fmt.Sprintf("template function %s has no implementation", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.existsLocked(name) {
		return errors.ConflictError(fmt.Sprintf("template function %s", name))
	}

	if r.store != nil && owner != "" {
		record := &storage.TemplateHandlerRecord{Name: name, OwnerUUID: owner, CreatedAt: time.Now().UTC()}
		if err := r.store.SaveTemplateHandler(ctx, record); err != nil {
			return errors.PersistenceError(fmt.Sprintf("failed to persist template function %s", name), err)
		}
	}

	r.entries[name] = entry{fn: fn, owner: owner}
	r.logger.Debug("Template function added",
		logging.String("function", name),
		logging.String("owner", owner),
	)
	return nil
}

// Remove unregisters name. Removing an unknown name logs a warning and returns
// a not-found error; built-in functions cannot be removed.
func (r *FunctionRegistry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.builtins[name]; ok {
		return errors.ValidationError(fmt.Sprintf("built-in template function %s cannot be removed", name))
	}

	e, ok := r.entries[name]
	if !ok {
		r.logger.Warn("Template function not registered", logging.String("function", name))
		return errors.NotFoundError(fmt.Sprintf("template function %s", name))
	}

	if r.store != nil && e.owner != "" {
		if err := r.store.DeleteTemplateHandler(ctx, name); err != nil {
			return errors.PersistenceError(fmt.Sprintf("failed to delete template function %s", name), err)
		}
	}

	delete(r.entries, name)
	return nil
}

// RemoveByOwner drops every function owned by a plugin, in memory and in the
// store, and returns how many were removed from memory.
func (r *FunctionRegistry) RemoveByOwner(ctx context.Context, owner string) int {
	if owner == "" {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteTemplateHandlersByOwner(ctx, owner); err != nil {
			r.logger.Error("Failed to delete persisted template functions", err, logging.String("owner", owner))
		}
	}

	removed := 0
	for name, e := range r.entries {
		if e.owner == owner {
			delete(r.entries, name)
			removed++
		}
	}
	return removed
}

// Reload replaces every owned function with the bindings found in the store,
// resolving each through binder. Bindings the binder cannot resolve are
// skipped with a warning. Unowned functions added by the host are kept.
// Without a store Reload does nothing.
func (r *FunctionRegistry) Reload(ctx context.Context, binder Binder) error {
	if r.store == nil {
		return nil
	}

	records, err := r.store.LoadTemplateHandlerRecords(ctx)
	if err != nil {
		return errors.PersistenceError("failed to load template functions", err)
	}

	// Resolve outside the lock: binders may take locks of their own.
	bound := make(map[string]entry, len(records))
	for _, rec := range records {
		if binder == nil {
			break
		}
		fn, ok := binder.BindFunction(rec.OwnerUUID, rec.Name)
		if !ok || fn == nil {
			r.logger.Warn("No provider for persisted template function",
				logging.String("function", rec.Name),
				logging.String("owner", rec.OwnerUUID),
			)
			continue
		}
		bound[rec.Name] = entry{fn: fn, owner: rec.OwnerUUID}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]entry, len(bound)+len(r.entries))
	for name, e := range r.entries {
		if e.owner == "" {
			entries[name] = e
		}
	}
	for name, e := range bound {
		if _, taken := r.builtins[name]; taken {
			r.logger.Warn("Persisted template function shadows a built-in", logging.String("function", name))
			continue
		}
		if _, taken := entries[name]; taken {
			r.logger.Warn("Persisted template function shadows a host function", logging.String("function", name))
			continue
		}
		entries[name] = e
	}
	r.entries = entries

	r.logger.Info("Template functions reloaded",
		logging.Int("records", len(records)),
		logging.Int("bound", len(bound)),
	)
	return nil
}

func (r *FunctionRegistry) existsLocked(name string) bool {
	if _, ok := r.builtins[name]; ok {
		return true
	}
	_, ok := r.entries[name]
	return ok
}
