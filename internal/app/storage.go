package app

import (
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/storage"
	_ "plugin-runtime/internal/storage/memory"
	_ "plugin-runtime/internal/storage/postgres"
	_ "plugin-runtime/internal/storage/sqlite"
)

func (app *App) initializeStorage() error {
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.String("host", app.Config.PostgresHost),
			logging.String("port", app.Config.PostgresPort),
			logging.String("database", app.Config.PostgresDB),
		)
	case "memory":
		app.Logger.Warn("Database: in-memory, plugin state is lost on exit")
	default:
		app.Logger.Info("Database: SQLite", logging.String("path", app.Config.DatabasePath))
	}

	store, err := storage.NewStorage(app.Config)
	if err != nil {
		return err
	}

	app.Store = store
	return nil
}
