package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/plugin"
)

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

func (d *recordingDispatcher) add(ev string, req *plugin.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	if req.Err != nil {
		d.errs = append(d.errs, req.Err)
	}
}

func (d *recordingDispatcher) FireRequestStart(req *plugin.Request) {
	req.Vars.Set("greeting", "hello")
	d.add("start", req)
}
func (d *recordingDispatcher) FireRequestEnd(req *plugin.Request)   { d.add("end", req) }
func (d *recordingDispatcher) FirePageError(req *plugin.Request)    { d.add("error", req) }
func (d *recordingDispatcher) FirePageNotFound(req *plugin.Request) { d.add("not_found", req) }

func TestRequestHooks_FiresAroundHandler(t *testing.T) {
	d := &recordingDispatcher{}
	var seen string
	handler := RequestHooks(d)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.add("handler", PluginRequest(r))
		seen, _ = RenderContext(r).Get("greeting")
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/page", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"start", "handler", "end"}, d.events)
	assert.Equal(t, "hello", seen, "hooks and handler share one render context")
}

func TestRequestHooks_PanicFiresPageError(t *testing.T) {
	d := &recordingDispatcher{}
	handler := RequestHooks(d)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("template exploded")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/page", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"start", "error", "end"}, d.events)
	require.NotEmpty(t, d.errs)
	assert.Contains(t, d.errs[0].Error(), "template exploded")
}

func TestRequestHooks_PanicAfterWriteKeepsStatus(t *testing.T) {
	d := &recordingDispatcher{}
	handler := RequestHooks(d)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("partial"))
		panic("late")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestRenderContext_WithoutHooks(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, PluginRequest(r))
	rc := RenderContext(r)
	require.NotNil(t, rc)
	assert.Equal(t, 0, rc.Len())
}

func TestRequestID(t *testing.T) {
	var fromCtx interface{}
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = r.Context().Value(logging.RequestIDKey)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	id := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, id)
	assert.Equal(t, id, fromCtx)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "given")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "given", rec.Header().Get("X-Request-ID"))
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	var wrapped *responseWriter
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped = w.(*responseWriter)
		http.Error(w, "nope", http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/?a=1", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, http.StatusTeapot, wrapped.statusCode)
	assert.True(t, wrapped.Written())
}
