// Package server hosts the runtime's HTTP surface.
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/handlers"
	"plugin-runtime/internal/middleware"
)

// Server represents an HTTP server
type Server struct {
	srv    *http.Server
	errCh  chan error
	logger logging.Logger
}

// New creates a new server instance
func New(handler http.Handler, port string) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + port,
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		errCh:  make(chan error, 1),
		logger: logging.Component("server"),
	}
}

// Start binds the listener and serves in the background. Errors after a
// successful bind are delivered on Errors.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return errors.ConnectionError("failed to listen", err).WithContext("addr", s.srv.Addr)
	}
	s.logger.Info("Server listening", logging.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
		close(s.errCh)
	}()
	return nil
}

// Errors yields a serve failure, and is closed when serving stops.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// NewRouter wires the page, health and status routes. Every route, the
// not-found handler included, runs inside the request-hook middleware.
func NewRouter(h *handlers.Handlers, hooks middleware.Dispatcher) *mux.Router {
	router := mux.NewRouter()

	chain := func(next http.Handler) http.Handler {
		return middleware.RequestID(middleware.LoggingMiddleware(middleware.RequestHooks(hooks)(next)))
	}

	// Health and status endpoints do not fire plugin hooks
	router.Handle("/health", middleware.RequestID(middleware.LoggingMiddleware(http.HandlerFunc(h.HealthCheck)))).Methods("GET")
	router.Handle("/api/plugins", middleware.RequestID(middleware.LoggingMiddleware(http.HandlerFunc(h.ListPlugins)))).Methods("GET")

	router.Handle("/", chain(http.HandlerFunc(h.ServePage))).Methods("GET", "HEAD")
	router.Handle("/{page:[A-Za-z0-9_-]+}", chain(http.HandlerFunc(h.ServePage))).Methods("GET", "HEAD")

	router.NotFoundHandler = chain(http.HandlerFunc(h.NotFound))
	return router
}
