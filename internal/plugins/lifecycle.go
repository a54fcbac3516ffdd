package plugins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/plugin"
)

// transition describes one state change driven by the registry.
type transition struct {
	name   string
	from   plugin.State
	to     plugin.State
	pre    plugin.Action
	post   plugin.Action
	invoke func(p *plugin.Plugin) func(context.Context, *plugin.Messages) error
}

var (
	installTransition = transition{
		name: "install", from: plugin.NotInstalled, to: plugin.Disabled,
		pre: plugin.PreInstall, post: plugin.PostInstall,
		invoke: func(p *plugin.Plugin) func(context.Context, *plugin.Messages) error { return p.Handler.Install },
	}
	uninstallTransition = transition{
		name: "uninstall", from: plugin.Disabled, to: plugin.NotInstalled,
		pre: plugin.PreUninstall, post: plugin.PostUninstall,
		invoke: func(p *plugin.Plugin) func(context.Context, *plugin.Messages) error { return p.Handler.Uninstall },
	}
	enableTransition = transition{
		name: "enable", from: plugin.Disabled, to: plugin.Enabled,
		pre: plugin.PreEnable, post: plugin.PostEnable,
		invoke: func(p *plugin.Plugin) func(context.Context, *plugin.Messages) error { return p.Handler.Enable },
	}
	disableTransition = transition{
		name: "disable", from: plugin.Enabled, to: plugin.Disabled,
		pre: plugin.PreDisable, post: plugin.PostDisable,
		invoke: func(p *plugin.Plugin) func(context.Context, *plugin.Messages) error { return p.Handler.Disable },
	}
)

// Load adds p to the runtime set without touching the store.
func (r *Registry) Load(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(p, msgs)
}

func (r *Registry) loadLocked(p *plugin.Plugin, msgs *plugin.Messages) error {
	if p == nil || p.UUID == "" || p.Handler == nil {
		msgs.Errorf("cannot load a plugin without identity or implementation")
		return errors.ValidationError("plugin requires a uuid and a handler")
	}
	if _, exists := r.plugins[p.UUID]; exists {
		msgs.Errorf("%s is already loaded", describe(p))
		return errors.ConflictError(describe(p))
	}

	r.plugins[p.UUID] = p
	r.rebuildCacheFor(p)
	return nil
}

// Unload removes p from the runtime set without touching the store.
func (r *Registry) Unload(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.UUID]; !exists {
		msgs.Errorf("%s is not loaded", describe(p))
		return errors.NotFoundError(describe(p))
	}

	delete(r.plugins, p.UUID)
	r.rebuildCacheFor(p)
	return nil
}

// Install moves p from NotInstalled to Disabled. Any enabled peer observing
// plugin actions may veto it first. On success the plugin's template
// functions are registered under its ownership.
func (r *Registry) Install(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.run(ctx, p, msgs, installTransition); err != nil {
		return err
	}
	r.registerFunctions(ctx, p, msgs)
	return nil
}

// Uninstall moves p back to NotInstalled, disabling it first when it is
// enabled, and drops its template functions.
func (r *Registry) Uninstall(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.State() == plugin.NotInstalled {
		return r.reject(p, msgs, "uninstall", "it is not installed")
	}
	if p.State() == plugin.Enabled {
		if err := r.run(ctx, p, msgs, disableTransition); err != nil {
			msgs.Errorf("uninstall of %s aborted: disable failed", describe(p))
			return err
		}
	}

	if err := r.run(ctx, p, msgs, uninstallTransition); err != nil {
		return err
	}

	if r.functions != nil {
		if n := r.functions.RemoveByOwner(ctx, p.UUID); n > 0 {
			msgs.Infof("removed %d template function(s) of %s", n, describe(p))
		}
	}
	return nil
}

// Enable moves p from Disabled to Enabled.
func (r *Registry) Enable(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, p, msgs, enableTransition)
}

// Disable moves p from Enabled to Disabled.
func (r *Registry) Disable(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run(ctx, p, msgs, disableTransition)
}

// Remove deletes p's persisted state and template functions and unloads it,
// whatever its state. The plugin directory is removed on a best-effort basis:
// a failure there is reported in msgs but does not fail the operation.
func (r *Registry) Remove(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeletePlugin(ctx, p.UUID); err != nil {
			msgs.Errorf("failed to delete stored state of %s", describe(p))
			return errors.PersistenceError(fmt.Sprintf("failed to delete %s", describe(p)), err)
		}
	}
	if r.functions != nil {
		r.functions.RemoveByOwner(ctx, p.UUID)
	}

	delete(r.plugins, p.UUID)
	r.rebuildCacheFor(p)
	r.notify(ctx, p, plugin.NotInstalled)

	if err := r.removeDir(p); err != nil {
		msgs.Warnf("could not remove directory of %s: %v", describe(p), err)
		r.pluginLogger(p).Warn("Plugin directory not removed", logging.Err(err))
	}

	msgs.Infof("removed %s", describe(p))
	return nil
}

func (r *Registry) removeDir(p *plugin.Plugin) error {
	if p.Dir == "" {
		return nil
	}
	if r.pluginDir != "" && !within(r.pluginDir, p.Dir) {
		return fmt.Errorf("%s is outside %s", p.Dir, r.pluginDir)
	}
	return os.RemoveAll(p.Dir)
}

func within(root, path string) bool {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// run performs one transition: source-state check, pre-action broadcast
// (any veto aborts), the plugin's own method, persistence, and only then the
// in-memory state change, cache rebuild and post-action broadcast.
func (r *Registry) run(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages, t transition) error {
	if loaded, ok := r.plugins[p.UUID]; !ok || loaded != p {
		msgs.Errorf("%s is not loaded", describe(p))
		return errors.NotFoundError(describe(p))
	}
	if p.State() != t.from {
		return r.reject(p, msgs, t.name, fmt.Sprintf("it is %s", p.State()))
	}

	log := r.pluginLogger(p).WithFields(logging.String("transition", t.name))

	if peer := r.broadcastPre(ctx, t.pre, p, msgs); peer != nil {
		msgs.Errorf("%s of %s vetoed by %s", t.name, describe(p), describe(peer))
		log.Info("Transition vetoed", logging.String("peer", peer.UUID))
		return errors.AbortedByPeerError(t.name, peer.UUID).WithContext("target", p.UUID)
	}

	if err := r.invoke(ctx, p, t.name, t.invoke(p), msgs); err != nil {
		msgs.Errorf("%s of %s failed: %v", t.name, describe(p), err)
		log.Error("Plugin method failed", err)
		return err
	}

	if r.store != nil {
		if err := r.store.SavePluginState(ctx, p.Record(t.to)); err != nil {
			msgs.Errorf("%s of %s could not be saved", t.name, describe(p))
			log.Error("Failed to persist plugin state", err)
			return errors.PersistenceError(fmt.Sprintf("failed to save %s after %s", describe(p), t.name), err)
		}
	}

	p.SetState(t.to)
	r.rebuildCacheFor(p)
	r.notify(ctx, p, t.to)

	r.broadcastPost(ctx, t.post, p, msgs)

	msgs.Infof("%s of %s succeeded", t.name, describe(p))
	log.Info("Transition complete", logging.String("state", t.to.String()))
	return nil
}

func (r *Registry) reject(p *plugin.Plugin, msgs *plugin.Messages, action, reason string) error {
	msgs.Errorf("cannot %s %s: %s", action, describe(p), reason)
	return errors.ValidationError(fmt.Sprintf("cannot %s %s: %s", action, describe(p), reason)).
		WithContext("state", p.State().String())
}

// invoke calls a plugin's own lifecycle method, converting an error or a
// panic into a handler error.
func (r *Registry) invoke(ctx context.Context, p *plugin.Plugin, name string, fn func(context.Context, *plugin.Messages) error, msgs *plugin.Messages) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.HandlerError(fmt.Sprintf("%s of %s panicked", name, describe(p)), fmt.Errorf("panic: %v", rec))
		}
	}()

	if callErr := fn(ctx, msgs); callErr != nil {
		return errors.HandlerError(fmt.Sprintf("%s of %s failed", name, describe(p)), callErr)
	}
	return nil
}

// registerFunctions adds the template functions a freshly installed plugin
// provides. Conflicts are reported but do not undo the install.
func (r *Registry) registerFunctions(ctx context.Context, p *plugin.Plugin, msgs *plugin.Messages) {
	provider, ok := p.Handler.(plugin.FunctionProvider)
	if !ok || r.functions == nil {
		return
	}

	funcs := provider.TemplateFunctions()
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := r.functions.Add(ctx, name, funcs[name], p.UUID); err != nil {
			msgs.Warnf("template function %s of %s not registered: %v", name, describe(p), err)
			r.pluginLogger(p).Warn("Template function not registered",
				logging.String("function", name),
				logging.Err(err),
			)
		}
	}
}
