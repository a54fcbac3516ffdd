package storage

import (
	"fmt"

	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/config"
)

// NewStorage creates the store selected by cfg.DatabaseType through the default
// registry. The adapter package must have been linked in (blank import) so its
// init registered the factory.
func NewStorage(cfg *config.Config) (Store, error) {
	var storageConfig StorageConfig

	switch cfg.DatabaseType {
	case "memory":
		storageConfig = GenericConfig{"type": "memory"}

	case "sqlite":
		storageConfig = GenericConfig{
			"type": "sqlite",
			"path": cfg.DatabasePath,
		}

	case "postgres", "postgresql":
		storageConfig = GenericConfig{
			"type":     "postgres",
			"host":     cfg.PostgresHost,
			"port":     cfg.PostgresPort,
			"database": cfg.PostgresDB,
			"username": cfg.PostgresUser,
			"password": cfg.PostgresPassword,
			"sslmode":  cfg.PostgresSSLMode,
		}

	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}

	return Create(storageConfig.GetType(), storageConfig)
}
