// Package sqlstore implements storage.Store on top of database/sql. The SQLite
// and PostgreSQL adapters share it and differ only in their Dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/storage"
)

var _ storage.Store = (*Adapter)(nil)

// Dialect captures what differs between SQL backends.
type Dialect struct {
	Name string
	// Numbered reports whether bind parameters are $1, $2 ... instead of ?.
	Numbered bool
	Schema   []string
}

// Rebind rewrites ? placeholders into the dialect's form.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Adapter is a storage.Store backed by a *sql.DB.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps an open database, applying the dialect schema.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Adapter, error) {
	a := &Adapter{db: db, dialect: dialect}
	if err := a.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return a, nil
}

// DB exposes the underlying handle for tests and health reporting.
func (a *Adapter) DB() *sql.DB { return a.db }

func (a *Adapter) migrate(ctx context.Context) error {
	for _, query := range a.dialect.Schema {
		if _, err := a.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}
	return nil
}

const pluginColumns = `uuid, plugin_key, name, version, dir, priority, state, hooks,
	cycle_interval_seconds, last_cycled, updated_at`

func (a *Adapter) LoadPluginRecords(ctx context.Context) ([]*storage.PluginRecord, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT `+pluginColumns+` FROM plugins ORDER BY uuid`)
	if err != nil {
		return nil, errors.PersistenceError("failed to load plugin records", err)
	}
	defer rows.Close()

	var records []*storage.PluginRecord
	for rows.Next() {
		var (
			r          storage.PluginRecord
			lastCycled sql.NullTime
		)
		if err := rows.Scan(&r.UUID, &r.Key, &r.Name, &r.Version, &r.Dir, &r.Priority, &r.State,
			&r.Hooks, &r.CycleIntervalSeconds, &lastCycled, &r.UpdatedAt); err != nil {
			return nil, errors.PersistenceError("failed to scan plugin record", err)
		}
		if lastCycled.Valid {
			t := lastCycled.Time.UTC()
			r.LastCycled = &t
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceError("failed to iterate plugin records", err)
	}
	return records, nil
}

func (a *Adapter) SavePluginState(ctx context.Context, record *storage.PluginRecord) error {
	if record == nil || record.UUID == "" {
		return errors.ValidationError("plugin record requires a uuid")
	}

	var lastCycled sql.NullTime
	if record.LastCycled != nil {
		lastCycled = sql.NullTime{Time: record.LastCycled.UTC(), Valid: true}
	}

	query := a.dialect.Rebind(`INSERT INTO plugins (` + pluginColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE SET
			plugin_key = excluded.plugin_key,
			name = excluded.name,
			version = excluded.version,
			dir = excluded.dir,
			priority = excluded.priority,
			state = excluded.state,
			hooks = excluded.hooks,
			cycle_interval_seconds = excluded.cycle_interval_seconds,
			last_cycled = excluded.last_cycled,
			updated_at = excluded.updated_at`)

	_, err := a.db.ExecContext(ctx, query,
		record.UUID, record.Key, record.Name, record.Version, record.Dir, record.Priority,
		record.State, record.Hooks, record.CycleIntervalSeconds, lastCycled, time.Now().UTC())
	if err != nil {
		return errors.PersistenceError("failed to save plugin state", err).WithContext("uuid", record.UUID)
	}
	return nil
}

func (a *Adapter) DeletePlugin(ctx context.Context, uuid string) error {
	_, err := a.db.ExecContext(ctx, a.dialect.Rebind(`DELETE FROM plugins WHERE uuid = ?`), uuid)
	if err != nil {
		return errors.PersistenceError("failed to delete plugin", err).WithContext("uuid", uuid)
	}
	return nil
}

func (a *Adapter) LoadTemplateHandlerRecords(ctx context.Context) ([]*storage.TemplateHandlerRecord, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT name, owner_uuid, created_at FROM template_handlers ORDER BY name`)
	if err != nil {
		return nil, errors.PersistenceError("failed to load template handlers", err)
	}
	defer rows.Close()

	var records []*storage.TemplateHandlerRecord
	for rows.Next() {
		var r storage.TemplateHandlerRecord
		if err := rows.Scan(&r.Name, &r.OwnerUUID, &r.CreatedAt); err != nil {
			return nil, errors.PersistenceError("failed to scan template handler", err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.PersistenceError("failed to iterate template handlers", err)
	}
	return records, nil
}

func (a *Adapter) SaveTemplateHandler(ctx context.Context, record *storage.TemplateHandlerRecord) error {
	if record == nil || record.Name == "" {
		return errors.ValidationError("template handler record requires a name")
	}

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := a.dialect.Rebind(`INSERT INTO template_handlers (name, owner_uuid, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner_uuid = excluded.owner_uuid`)

	if _, err := a.db.ExecContext(ctx, query, record.Name, record.OwnerUUID, createdAt.UTC()); err != nil {
		return errors.PersistenceError("failed to save template handler", err).WithContext("name", record.Name)
	}
	return nil
}

func (a *Adapter) DeleteTemplateHandler(ctx context.Context, name string) error {
	_, err := a.db.ExecContext(ctx, a.dialect.Rebind(`DELETE FROM template_handlers WHERE name = ?`), name)
	if err != nil {
		return errors.PersistenceError("failed to delete template handler", err).WithContext("name", name)
	}
	return nil
}

func (a *Adapter) DeleteTemplateHandlersByOwner(ctx context.Context, ownerUUID string) error {
	_, err := a.db.ExecContext(ctx, a.dialect.Rebind(`DELETE FROM template_handlers WHERE owner_uuid = ?`), ownerUUID)
	if err != nil {
		return errors.PersistenceError("failed to delete template handlers", err).WithContext("owner", ownerUUID)
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return errors.ConnectionError(fmt.Sprintf("%s database unreachable", a.dialect.Name), err)
	}
	return nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}
