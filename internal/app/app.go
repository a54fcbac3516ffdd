package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/config"
	"plugin-runtime/internal/events"
	"plugin-runtime/internal/markup"
	"plugin-runtime/internal/plugin"
	"plugin-runtime/internal/plugins"
	"plugin-runtime/internal/redis"
	"plugin-runtime/internal/storage"
)

// reloadInterval spaces out reloads triggered by other instances.
const reloadInterval = 100 * time.Millisecond

// App holds all the application dependencies
type App struct {
	Config      *config.Config
	Store       storage.Store
	RedisClient *redis.Client
	Bus         *events.Bus
	Factories   *plugin.Factories
	Functions   *markup.FunctionRegistry
	Engine      *markup.Engine
	Registry    *plugins.Registry
	Cycler      *plugins.Cycler
	Logger      logging.Logger

	cyclerMu     sync.Mutex
	reloads      *rate.Limiter
	stopListener context.CancelFunc
	listenerDone chan struct{}
}

// New creates a new application instance with all dependencies. factories
// lists the plugin implementations linked into the binary.
func New(ctx context.Context, cfg *config.Config, factories *plugin.Factories) (*App, error) {
	if factories == nil {
		factories = plugin.NewFactories()
	}
	app := &App{
		Config:    cfg,
		Factories: factories,
		Logger:    logging.Component("app"),
	}

	// Initialize components in order of dependency
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}

	if err := app.initializeRedis(); err != nil {
		// Redis is optional, just log the error
		app.Logger.Warn("Redis initialization failed, continuing without Redis", logging.Err(err))
	}

	if err := app.initializeRuntime(ctx); err != nil {
		app.Cleanup()
		return nil, err
	}

	return app, nil
}

// Start broadcasts plugin start, launches the cycler and, with Redis,
// begins following other instances' state changes.
func (app *App) Start(ctx context.Context) error {
	app.Registry.Start(ctx)

	if app.Config.CyclerEnabled {
		if err := app.startCycler(); err != nil {
			return err
		}
	}

	if app.Bus != nil {
		app.startListener()
	}
	return nil
}

// Shutdown gracefully shuts down the application
func (app *App) Shutdown(ctx context.Context) error {
	if app.stopListener != nil {
		app.stopListener()
		<-app.listenerDone
		app.stopListener = nil
	}

	app.cyclerMu.Lock()
	if app.Cycler.Running() {
		if err := app.Cycler.Stop(); err != nil {
			app.Logger.Warn("Error stopping cycler", logging.Err(err))
		}
	}
	app.cyclerMu.Unlock()

	app.Registry.Shutdown(ctx)
	app.Logger.Info("Plugin runtime stopped")
	return nil
}

// Cleanup releases all resources
func (app *App) Cleanup() {
	if app.Store != nil {
		if err := app.Store.Close(); err != nil {
			app.Logger.Warn("Error closing store", logging.Err(err))
		}
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
}
