package plugins

import (
	"plugin-runtime/internal/plugin"
)

// FireRequestStart calls OnRequestStart on every cached subscriber.
func (r *Registry) FireRequestStart(req *plugin.Request) {
	for _, p := range r.HandlerCache(plugin.HookRequestStart) {
		if h, ok := p.Handler.(plugin.RequestStartHook); ok {
			r.guard(p, "request_start", func() { h.OnRequestStart(req) })
		}
	}
}

// FireRequestEnd calls OnRequestEnd on every cached subscriber.
func (r *Registry) FireRequestEnd(req *plugin.Request) {
	for _, p := range r.HandlerCache(plugin.HookRequestEnd) {
		if h, ok := p.Handler.(plugin.RequestEndHook); ok {
			r.guard(p, "request_end", func() { h.OnRequestEnd(req) })
		}
	}
}

// FirePageError calls OnPageError on every cached subscriber.
func (r *Registry) FirePageError(req *plugin.Request) {
	for _, p := range r.HandlerCache(plugin.HookPageError) {
		if h, ok := p.Handler.(plugin.PageErrorHook); ok {
			r.guard(p, "page_error", func() { h.OnPageError(req) })
		}
	}
}

// FirePageNotFound calls OnPageNotFound on every cached subscriber.
func (r *Registry) FirePageNotFound(req *plugin.Request) {
	for _, p := range r.HandlerCache(plugin.HookPageNotFound) {
		if h, ok := p.Handler.(plugin.PageNotFoundHook); ok {
			r.guard(p, "page_not_found", func() { h.OnPageNotFound(req) })
		}
	}
}
