package app

import (
	"net/http"

	"plugin-runtime/internal/handlers"
	"plugin-runtime/internal/server"
)

// Handler builds the HTTP surface: rendered pages with plugin request hooks,
// health and plugin status.
func (app *App) Handler() http.Handler {
	h := handlers.New(handlers.Config{
		Store:       app.Store,
		Registry:    app.Registry,
		Engine:      app.Engine,
		Cycler:      app.Cycler,
		TemplateDir: app.Config.TemplateDir,
	})
	return server.NewRouter(h, app.Registry)
}

// NewServer creates the HTTP server on the configured port.
func (app *App) NewServer() *server.Server {
	return server.New(app.Handler(), app.Config.Port)
}
