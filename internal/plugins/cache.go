package plugins

import (
	"plugin-runtime/internal/plugin"
)

// handlerCache holds, per cached hook kind, the enabled plugins interested in
// it in priority order. A published cache is never modified; changes build
// and publish a new one.
type handlerCache struct {
	generation   uint64
	requestStart []*plugin.Plugin
	requestEnd   []*plugin.Plugin
	pageError    []*plugin.Plugin
	pageNotFound []*plugin.Plugin
}

var emptyCache = &handlerCache{}

func (c *handlerCache) list(kind plugin.Hook) []*plugin.Plugin {
	switch kind {
	case plugin.HookRequestStart:
		return c.requestStart
	case plugin.HookRequestEnd:
		return c.requestEnd
	case plugin.HookPageError:
		return c.pageError
	case plugin.HookPageNotFound:
		return c.pageNotFound
	default:
		return nil
	}
}

// HandlerCache returns the enabled plugins interested in a request hook kind,
// in priority order. It takes no lock and may be one generation behind a
// transition that is still running. The returned slice is the caller's own.
func (r *Registry) HandlerCache(kind plugin.Hook) []*plugin.Plugin {
	list := r.cache.Load().list(kind)
	if len(list) == 0 {
		return nil
	}
	out := make([]*plugin.Plugin, len(list))
	copy(out, list)
	return out
}

// CacheGeneration increases every time the handler cache is republished.
func (r *Registry) CacheGeneration() uint64 {
	return r.cache.Load().generation
}

// rebuildCacheFor republishes the cache when p can appear in it.
func (r *Registry) rebuildCacheFor(p *plugin.Plugin) {
	if p.Interest.AffectsCache() {
		r.rebuildCache()
	}
}

// rebuildCache scans the plugin map once and publishes a new cache. The
// caller holds r.mu.
func (r *Registry) rebuildCache() {
	next := &handlerCache{generation: r.cache.Load().generation + 1}

	for _, p := range r.sortedLocked(func(p *plugin.Plugin) bool {
		return p.State() == plugin.Enabled && p.Interest.AffectsCache()
	}) {
		if p.Interest.RequestStart {
			next.requestStart = append(next.requestStart, p)
		}
		if p.Interest.RequestEnd {
			next.requestEnd = append(next.requestEnd, p)
		}
		if p.Interest.PageError {
			next.pageError = append(next.pageError, p)
		}
		if p.Interest.PageNotFound {
			next.pageNotFound = append(next.pageNotFound, p)
		}
	}

	r.cache.Store(next)
}
