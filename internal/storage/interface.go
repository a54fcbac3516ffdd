package storage

import (
	"context"
)

// Store persists plugin lifecycle state and template function bindings.
// It is plain CRUD: the plugin runtime owns every rule about when records
// change, and adapters only read and write them.
type Store interface {
	// LoadPluginRecords returns every persisted plugin ordered by UUID.
	LoadPluginRecords(ctx context.Context) ([]*PluginRecord, error)

	// SavePluginState inserts or replaces the record identified by record.UUID.
	SavePluginState(ctx context.Context, record *PluginRecord) error

	// DeletePlugin removes a plugin record. Deleting a missing record is not an error.
	DeletePlugin(ctx context.Context, uuid string) error

	// LoadTemplateHandlerRecords returns every persisted template function binding ordered by name.
	LoadTemplateHandlerRecords(ctx context.Context) ([]*TemplateHandlerRecord, error)

	// SaveTemplateHandler inserts or replaces the binding identified by record.Name.
	SaveTemplateHandler(ctx context.Context, record *TemplateHandlerRecord) error

	// DeleteTemplateHandler removes a binding by name. Deleting a missing binding is not an error.
	DeleteTemplateHandler(ctx context.Context, name string) error

	// DeleteTemplateHandlersByOwner removes every binding owned by a plugin.
	DeleteTemplateHandlersByOwner(ctx context.Context, ownerUUID string) error

	// Connection management
	Health(ctx context.Context) error
	Close() error
}

// StorageConfig is implemented by every adapter configuration.
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory creates a Store from an adapter configuration.
type StorageFactory interface {
	Create(config StorageConfig) (Store, error)
	GetType() string
}

// GenericConfig is a simple map-based implementation of StorageConfig
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	return nil // adapters validate their own typed config
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

func (gc GenericConfig) GetConnectionString() string {
	if cs, ok := gc["connection_string"].(string); ok {
		return cs
	}
	return ""
}

// String returns the string value stored under key, or "" when absent.
func (gc GenericConfig) String(key string) string {
	if v, ok := gc[key].(string); ok {
		return v
	}
	return ""
}
