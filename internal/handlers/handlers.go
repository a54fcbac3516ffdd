// Package handlers serves the host pages through the markup engine and
// reports the runtime's health.
package handlers

import (
	"encoding/json"
	stderrors "errors"
	"html"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/markup"
	"plugin-runtime/internal/middleware"
	"plugin-runtime/internal/plugin"
	"plugin-runtime/internal/plugins"
	"plugin-runtime/internal/storage"
)

// IndexPage is rendered for "/".
const IndexPage = "index"

// Handlers holds what the HTTP endpoints need.
type Handlers struct {
	store       storage.Store
	registry    *plugins.Registry
	engine      *markup.Engine
	cycler      *plugins.Cycler
	templateDir string
	logger      logging.Logger
}

// Config holds the collaborators of Handlers. Cycler is optional.
type Config struct {
	Store       storage.Store
	Registry    *plugins.Registry
	Engine      *markup.Engine
	Cycler      *plugins.Cycler
	TemplateDir string
	Logger      logging.Logger
}

func New(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Component("handlers")
	}
	return &Handlers{
		store:       cfg.Store,
		registry:    cfg.Registry,
		engine:      cfg.Engine,
		cycler:      cfg.Cycler,
		templateDir: cfg.TemplateDir,
		logger:      logger,
	}
}

// ServePage renders TEMPLATE_DIR/<page>.html with the query parameters as
// variables. A missing template is a page-not-found.
func (h *Handlers) ServePage(w http.ResponseWriter, r *http.Request) {
	page := mux.Vars(r)["page"]
	if page == "" {
		page = IndexPage
	}

	source, err := os.ReadFile(filepath.Join(h.templateDir, page+".html"))
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			h.NotFound(w, r)
			return
		}
		h.pageError(w, r, errors.InternalError("failed to read template", err).WithContext("page", page))
		return
	}

	rc := middleware.RenderContext(r)
	// Query values are untrusted. Escaping them keeps them from becoming
	// directives on a later pass as well as from injecting markup.
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			rc.Set(key, html.EscapeString(values[0]))
		}
	}
	rc.Set("page", page)

	out := h.engine.Render(string(source), rc)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(out))
}

// NotFound fires the page-not-found hooks and answers 404 unless a plugin
// already wrote a response.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	req := h.hookRequest(w, r)
	h.registry.FirePageNotFound(req)
	if wh, ok := w.(interface{ Written() bool }); ok && wh.Written() {
		return
	}
	http.Error(w, "Page not found", http.StatusNotFound)
}

func (h *Handlers) pageError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithContext(r.Context()).Error("Page failed", err, logging.String("path", r.URL.Path))
	req := h.hookRequest(w, r)
	req.Err = err
	h.registry.FirePageError(req)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (h *Handlers) hookRequest(w http.ResponseWriter, r *http.Request) *plugin.Request {
	if req := middleware.PluginRequest(r); req != nil {
		return req
	}
	req := &plugin.Request{Writer: w, HTTP: r}
	req.Vars = markup.NewContext(req)
	return req
}

// HealthCheck reports store health.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "healthy",
		"plugins": h.registry.Len(),
	}
	code := http.StatusOK

	if err := h.store.Health(r.Context()); err != nil {
		h.logger.Warn("Store health check failed", logging.Err(err))
		status["status"] = "unhealthy"
		status["error"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, status)
}

type pluginStatus struct {
	UUID       string              `json:"uuid"`
	Key        string              `json:"key"`
	Name       string              `json:"name"`
	Version    string              `json:"version,omitempty"`
	Priority   int                 `json:"priority"`
	State      string              `json:"state"`
	LastCycled string              `json:"last_cycled,omitempty"`
	Cycle      *plugins.CycleStats `json:"cycle,omitempty"`
}

// ListPlugins returns the loaded plugins in broadcast order with their
// cycle counters.
func (h *Handlers) ListPlugins(w http.ResponseWriter, r *http.Request) {
	var stats map[string]plugins.CycleStats
	if h.cycler != nil {
		stats = h.cycler.Stats()
	}

	list := h.registry.List()
	out := make([]pluginStatus, 0, len(list))
	for _, p := range list {
		s := pluginStatus{
			UUID:     p.UUID,
			Key:      p.Key,
			Name:     p.Name,
			Version:  p.Version,
			Priority: p.Priority,
			State:    p.State().String(),
		}
		if last := p.LastCycled(); !last.IsZero() {
			s.LastCycled = last.Format(time.RFC3339)
		}
		if cs, ok := stats[p.UUID]; ok {
			s.Cycle = &cs
		}
		out = append(out, s)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": out})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
