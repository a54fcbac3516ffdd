// Package postgres provides the PostgreSQL storage adapter, using pgx through
// its database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"plugin-runtime/internal/storage"
	"plugin-runtime/internal/storage/sqlstore"
)

const driverName = "pgx"

// Dialect is the PostgreSQL schema and placeholder style.
var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS plugins (
			uuid VARCHAR(64) PRIMARY KEY,
			plugin_key VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			version VARCHAR(64) NOT NULL DEFAULT '',
			dir TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0,
			state VARCHAR(32) NOT NULL DEFAULT 'not_installed',
			hooks INTEGER NOT NULL DEFAULT 0,
			cycle_interval_seconds BIGINT NOT NULL DEFAULT 0,
			last_cycled TIMESTAMPTZ NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS template_handlers (
			name VARCHAR(255) PRIMARY KEY,
			owner_uuid VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_template_handlers_owner ON template_handlers(owner_uuid)`,
	},
}

type Adapter struct {
	*sqlstore.Adapter
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL config: %w", err)
	}

	db, err := sql.Open(driverName, config.GetConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	base, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Adapter{Adapter: base, config: config}, nil
}

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Store, error) {
	switch c := config.(type) {
	case *Config:
		return NewAdapter(c)
	case storage.GenericConfig:
		pgConfig, err := configFromGeneric(c)
		if err != nil {
			return nil, err
		}
		return NewAdapter(pgConfig)
	default:
		return nil, fmt.Errorf("invalid config type for PostgreSQL storage")
	}
}

func (f *Factory) GetType() string {
	return "postgres"
}

func init() {
	storage.Register("postgres", &Factory{})
}
