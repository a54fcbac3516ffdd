// Package plugins owns the set of loaded plugins: it drives their lifecycle
// transitions, broadcasts actions between them, publishes the handler cache
// and runs the background cycler.
//
// Every structural operation is serialized by one registry-wide mutex held
// for the whole transition, including hook broadcasts, the plugin's own
// method and persistence. The cycler takes the same lock for each sweep.
// Handler cache reads take no lock.
package plugins

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/markup"
	"plugin-runtime/internal/plugin"
	"plugin-runtime/internal/storage"
)

// Notifier is told about every persisted state change, so that other
// instances sharing the store can reload.
type Notifier interface {
	NotifyStateChange(ctx context.Context, uuid string, state plugin.State)
}

// Config holds the collaborators of a Registry.
type Config struct {
	Store     storage.Store
	Factories *plugin.Factories
	// Functions receives the template functions of installed plugins. Optional.
	Functions *markup.FunctionRegistry
	// Notifier is optional.
	Notifier Notifier
	// PluginDir bounds Remove's directory cleanup; directories outside it are left alone.
	PluginDir string
	Logger    logging.Logger
}

// Registry is the authoritative set of loaded plugins.
type Registry struct {
	mu      sync.Mutex
	plugins map[string]*plugin.Plugin

	store     storage.Store
	factories *plugin.Factories
	functions *markup.FunctionRegistry
	notifier  Notifier
	pluginDir string

	cache  atomic.Pointer[handlerCache]
	logger logging.Logger
}

// NewRegistry creates an empty registry. Call LoadAll to populate it from the store.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		plugins:   make(map[string]*plugin.Plugin),
		store:     cfg.Store,
		factories: cfg.Factories,
		functions: cfg.Functions,
		notifier:  cfg.Notifier,
		pluginDir: cfg.PluginDir,
		logger:    cfg.Logger,
	}
	if r.factories == nil {
		r.factories = plugin.NewFactories()
	}
	if r.logger == nil {
		r.logger = logging.Component("plugin_registry")
	}
	r.cache.Store(emptyCache)
	return r
}

// Get returns the loaded plugin with the given UUID.
func (r *Registry) Get(id string) (*plugin.Plugin, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[id]
	return p, ok
}

// List returns every loaded plugin ordered by priority, then UUID.
func (r *Registry) List() []*plugin.Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sortedLocked(func(*plugin.Plugin) bool { return true })
}

// Len returns the number of loaded plugins.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.plugins)
}

// Factories returns the registry of linked plugin implementations.
func (r *Registry) Factories() *plugin.Factories {
	return r.factories
}

// Create builds a new plugin of the given kind with a fresh UUID, in the
// NotInstalled state, and loads it. Nothing is persisted until it is installed.
func (r *Registry) Create(ctx context.Context, key string, msgs *plugin.Messages) (*plugin.Plugin, error) {
	factory, err := r.factories.Get(key)
	if err != nil {
		msgs.Errorf("unknown plugin type %s", key)
		return nil, err
	}

	desc := factory.Describe()
	if err := desc.Validate(); err != nil {
		msgs.Errorf("plugin type %s: %v", key, err)
		return nil, err
	}
	p := plugin.New(uuid.NewString(), key, factory.New())
	if desc.Name != "" {
		p.Name = desc.Name
	}
	p.Version = desc.Version
	p.Priority = desc.Priority
	if r.pluginDir != "" {
		p.Dir = filepath.Join(r.pluginDir, key+"-"+p.UUID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.loadLocked(p, msgs); err != nil {
		return nil, err
	}
	msgs.Infof("created plugin %s", p)
	return p, nil
}

// LoadAll instantiates every persisted plugin through its factory, loads it
// and rebinds persisted template functions. Records whose factory is not
// linked into the binary are skipped with a warning, as are records whose
// UUID is already loaded.
func (r *Registry) LoadAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadAllLocked(ctx, false)
}

// Reload replaces the runtime plugin set with a fresh load from the store.
// If the store cannot be read the current set is kept.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadAllLocked(ctx, true)
}

func (r *Registry) loadAllLocked(ctx context.Context, replace bool) error {
	if r.store == nil {
		return errors.ConfigError("plugin registry has no store")
	}

	records, err := r.store.LoadPluginRecords(ctx)
	if err != nil {
		return errors.PersistenceError("failed to load plugin records", err)
	}

	next := make(map[string]*plugin.Plugin, len(records))
	if !replace {
		for id, p := range r.plugins {
			next[id] = p
		}
	}

	loaded := 0
	for _, rec := range records {
		if _, exists := next[rec.UUID]; exists {
			continue
		}

		factory, err := r.factories.Get(rec.Key)
		if err != nil {
			r.logger.Warn("Skipping plugin without a linked implementation",
				logging.String("uuid", rec.UUID),
				logging.String("key", rec.Key),
			)
			continue
		}

		p, err := plugin.FromRecord(rec, factory.New())
		if err != nil {
			r.logger.Error("Skipping unreadable plugin record", err, logging.String("uuid", rec.UUID))
			continue
		}

		next[p.UUID] = p
		loaded++
	}

	r.plugins = next
	r.rebuildCache()

	if r.functions != nil {
		if err := r.functions.Reload(ctx, markup.BinderFunc(r.bindFunctionLocked)); err != nil {
			r.logger.Error("Failed to rebind template functions", err)
		}
	}

	r.logger.Info("Plugins loaded",
		logging.Int("records", len(records)),
		logging.Int("loaded", loaded),
		logging.Bool("replace", replace),
	)
	return nil
}

// sortedLocked returns the plugins matching keep in broadcast order.
func (r *Registry) sortedLocked(keep func(*plugin.Plugin) bool) []*plugin.Plugin {
	list := make([]*plugin.Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		if keep(p) {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return plugin.Less(list[i], list[j]) })
	return list
}

// bindFunctionLocked resolves a persisted template function binding to the
// function its installed owner provides. The caller holds r.mu.
func (r *Registry) bindFunctionLocked(owner, name string) (markup.Func, bool) {
	p, ok := r.plugins[owner]
	if !ok || p.State() == plugin.NotInstalled {
		return nil, false
	}
	provider, ok := p.Handler.(plugin.FunctionProvider)
	if !ok {
		return nil, false
	}
	fn, ok := provider.TemplateFunctions()[name]
	return fn, ok && fn != nil
}

func (r *Registry) notify(ctx context.Context, p *plugin.Plugin, state plugin.State) {
	if r.notifier != nil {
		r.notifier.NotifyStateChange(ctx, p.UUID, state)
	}
}

func (r *Registry) pluginLogger(p *plugin.Plugin) logging.Logger {
	return r.logger.WithFields(
		logging.String("plugin", p.Key),
		logging.String("uuid", p.UUID),
	)
}

func describe(p *plugin.Plugin) string {
	return fmt.Sprintf("plugin %s", p)
}
