package plugins

import (
	"context"
	"fmt"

	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/plugin"
)

// observersLocked returns the enabled plugins observing plugin actions,
// excluding target, in broadcast order.
func (r *Registry) observersLocked(target *plugin.Plugin) []*plugin.Plugin {
	return r.sortedLocked(func(p *plugin.Plugin) bool {
		return p != target && p.State() == plugin.Enabled && p.Interest.PluginAction
	})
}

// broadcastPre offers a Pre* action to every observer in order and returns
// the first one that vetoes it, or nil. A panicking observer counts as a veto.
func (r *Registry) broadcastPre(ctx context.Context, action plugin.Action, target *plugin.Plugin, msgs *plugin.Messages) *plugin.Plugin {
	for _, peer := range r.observersLocked(target) {
		ok, err := r.callAction(ctx, peer, action, target, msgs)
		if err != nil {
			r.pluginLogger(peer).Error("Action hook panicked", err, logging.String("action", action.String()))
			return peer
		}
		if !ok {
			return peer
		}
	}
	return nil
}

// broadcastPost notifies observers of a completed action. Failures are logged only.
func (r *Registry) broadcastPost(ctx context.Context, action plugin.Action, target *plugin.Plugin, msgs *plugin.Messages) {
	for _, peer := range r.observersLocked(target) {
		if _, err := r.callAction(ctx, peer, action, target, msgs); err != nil {
			r.pluginLogger(peer).Error("Action hook panicked", err, logging.String("action", action.String()))
		}
	}
}

func (r *Registry) callAction(ctx context.Context, peer *plugin.Plugin, action plugin.Action, target *plugin.Plugin, msgs *plugin.Messages) (ok bool, err error) {
	hook, implemented := peer.Handler.(plugin.ActionHook)
	if !implemented {
		return true, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			err = fmt.Errorf("panic in %s: %v", action, rec)
		}
	}()

	return hook.OnPluginAction(ctx, action, target, msgs), nil
}

// Start broadcasts OnPluginStart to every enabled plugin that implements it.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.sortedLocked(func(p *plugin.Plugin) bool {
		return p.State() == plugin.Enabled && p.Interest.PluginStart
	}) {
		hook := p.Handler.(plugin.PluginStartHook)
		r.guard(p, "plugin_start", func() { hook.OnPluginStart(ctx) })
	}
}

// Shutdown broadcasts OnPluginStop to every enabled plugin that implements it.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.sortedLocked(func(p *plugin.Plugin) bool {
		return p.State() == plugin.Enabled && p.Interest.PluginStop
	}) {
		hook := p.Handler.(plugin.PluginStopHook)
		r.guard(p, "plugin_stop", func() { hook.OnPluginStop(ctx) })
	}
}

// guard runs a hook, logging instead of propagating a panic.
func (r *Registry) guard(p *plugin.Plugin, hook string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.pluginLogger(p).Error("Hook panicked", fmt.Errorf("%v", rec), logging.String("hook", hook))
		}
	}()
	fn()
}
