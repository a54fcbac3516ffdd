package app

import (
	"context"

	"golang.org/x/time/rate"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/events"
	"plugin-runtime/internal/locks"
	"plugin-runtime/internal/markup"
	"plugin-runtime/internal/plugins"
)

func (app *App) initializeRuntime(ctx context.Context) error {
	app.Functions = markup.NewFunctionRegistry(app.Store, markup.Builtins(app.Config.TemplateDir))
	app.Engine = markup.NewEngine(app.Functions,
		markup.WithMaxDepth(app.Config.TemplateMaxDepth),
		markup.WithLogger(logging.Component("markup")),
	)

	registryConfig := plugins.Config{
		Store:     app.Store,
		Factories: app.Factories,
		Functions: app.Functions,
		PluginDir: app.Config.PluginDir,
		Logger:    logging.Component("plugin_registry"),
	}
	if app.Bus != nil {
		registryConfig.Notifier = app.Bus
	}
	app.Registry = plugins.NewRegistry(registryConfig)

	cyclerConfig := plugins.CyclerConfig{
		PollInterval: app.Config.CyclerPollInterval,
		Logger:       logging.Component("cycler"),
	}
	if app.RedisClient != nil {
		manager, err := locks.NewManager(app.RedisClient)
		if err != nil {
			return err
		}
		cyclerConfig.Locker = manager
	}
	app.Cycler = plugins.NewCycler(app.Registry, cyclerConfig)

	if err := app.Registry.LoadAll(ctx); err != nil {
		return err
	}

	app.Logger.Info("Plugin runtime ready",
		logging.Int("plugins", app.Registry.Len()),
		logging.Int("plugin_types", app.Factories.Count()),
		logging.Int("template_functions", len(app.Functions.Names())),
	)
	return nil
}

func (app *App) startCycler() error {
	app.cyclerMu.Lock()
	defer app.cyclerMu.Unlock()
	return app.Cycler.Start()
}

// restartCycler refreshes the cycler's membership after a reload.
func (app *App) restartCycler() error {
	app.cyclerMu.Lock()
	defer app.cyclerMu.Unlock()

	if !app.Cycler.Running() {
		return nil
	}
	if err := app.Cycler.Stop(); err != nil {
		return err
	}
	return app.Cycler.Start()
}

func (app *App) startListener() {
	ctx, cancel := context.WithCancel(context.Background())
	app.stopListener = cancel
	app.reloads = rate.NewLimiter(rate.Every(reloadInterval), 1)
	app.listenerDone = make(chan struct{})

	go func() {
		defer close(app.listenerDone)
		if err := app.Bus.Listen(ctx, app.applyStateChange); err != nil {
			app.Logger.Error("Lifecycle event listener stopped", err)
		}
	}()
}

// applyStateChange reloads the plugin set after another instance changed
// the persisted state.
func (app *App) applyStateChange(ctx context.Context, change events.StateChange) error {
	app.Logger.Debug("Plugin state changed elsewhere",
		logging.String("uuid", change.UUID),
		logging.String("state", change.State),
		logging.String("from", change.Origin),
	)

	// Reloads are spaced at least reloadInterval apart so a burst of
	// changes cannot hammer the store.
	if err := app.reloads.Wait(ctx); err != nil {
		return nil
	}

	if err := app.Registry.Reload(ctx); err != nil {
		return err
	}
	return app.restartCycler()
}
