package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/markup"
	"plugin-runtime/internal/plugin"
)

// Dispatcher fires request hooks on the plugins subscribed to them.
type Dispatcher interface {
	FireRequestStart(req *plugin.Request)
	FireRequestEnd(req *plugin.Request)
	FirePageError(req *plugin.Request)
	FirePageNotFound(req *plugin.Request)
}

type ctxKey int

const pluginRequestKey ctxKey = iota

// PluginRequest returns the hook request attached by RequestHooks, or nil.
func PluginRequest(r *http.Request) *plugin.Request {
	req, _ := r.Context().Value(pluginRequestKey).(*plugin.Request)
	return req
}

// RenderContext returns the render context shared by the hooks and the page
// handler of r. Outside RequestHooks it returns a fresh context.
func RenderContext(r *http.Request) *markup.Context {
	if req := PluginRequest(r); req != nil {
		return req.Vars
	}
	return markup.NewContext(r)
}

// RequestID tags the request context with an id for log correlation and
// echoes it in the X-Request-ID header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), logging.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestHooks fires RequestStart before and RequestEnd after each request.
// A panic in the handler fires PageError and answers 500 if nothing was
// written yet; RequestEnd still runs.
func RequestHooks(d Dispatcher) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := wrap(w)
			req := &plugin.Request{Writer: wrapped}
			req.Vars = markup.NewContext(req)
			r = r.WithContext(context.WithValue(r.Context(), pluginRequestKey, req))
			req.HTTP = r

			d.FireRequestStart(req)
			defer d.FireRequestEnd(req)

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				req.Err = fmt.Errorf("panic: %v", rec)
				logging.WithContext(r.Context()).Error("Page handler panicked", req.Err,
					logging.String("path", r.URL.Path),
				)
				d.FirePageError(req)
				if !wrapped.wroteHeader {
					http.Error(wrapped, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(wrapped, r)
		})
	}
}
