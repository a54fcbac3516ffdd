package app

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/config"
	"plugin-runtime/internal/plugin"
)

// Run is the main entry point for the application
func Run(factories *plugin.Factories) error {
	// Load environment variables
	_ = godotenv.Load()

	runtime.GOMAXPROCS(runtime.NumCPU())

	// Parse command line flags
	var listPlugins bool
	flag.BoolVar(&listPlugins, "list-plugins", false, "Print the stored plugins and their states, then exit")
	flag.Parse()

	// Load and validate configuration
	cfg := config.Load()

	if err := logging.InitGlobalLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		return err
	}
	defer logging.MustSync()

	logging.Info("Starting plugin runtime",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("version", "1.0.0"),
	)

	if err := cfg.Validate(); err != nil {
		logging.Error("Configuration validation failed", err)
		return err
	}

	ctx := context.Background()

	// Initialize application
	app, err := New(ctx, cfg, factories)
	if err != nil {
		logging.Error("Failed to initialize application", err)
		return err
	}
	defer app.Cleanup()

	if listPlugins {
		for _, p := range app.Registry.List() {
			fmt.Printf("%-36s  %-20s  %-13s  priority=%d\n", p.UUID, p.Key, p.State(), p.Priority)
		}
		return nil
	}

	if err := app.Start(ctx); err != nil {
		logging.Error("Failed to start plugin runtime", err)
		return err
	}

	// Start server
	srv := app.NewServer()
	if err := srv.Start(); err != nil {
		logging.Error("Server failed to start", err)
		return err
	}

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	var serveErr error
	select {
	case <-quit:
	case serveErr = <-srv.Errors():
		logging.Error("Server stopped unexpectedly", serveErr)
	}

	logging.Info("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", err)
		return err
	}

	if err := app.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Error during app shutdown", logging.Err(err))
	}

	logging.Info("Server exited")
	return serveErr
}
