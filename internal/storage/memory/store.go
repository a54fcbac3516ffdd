// Package memory provides an in-process Store used for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps records in maps guarded by a mutex. Records are copied on the
// way in and out so callers never share memory with the store.
type Store struct {
	mu       sync.RWMutex
	plugins  map[string]*storage.PluginRecord
	handlers map[string]*storage.TemplateHandlerRecord
	closed   bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		plugins:  make(map[string]*storage.PluginRecord),
		handlers: make(map[string]*storage.TemplateHandlerRecord),
	}
}

func (s *Store) LoadPluginRecords(ctx context.Context) ([]*storage.PluginRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	records := make([]*storage.PluginRecord, 0, len(s.plugins))
	for _, r := range s.plugins {
		records = append(records, r.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].UUID < records[j].UUID })
	return records, nil
}

func (s *Store) SavePluginState(ctx context.Context, record *storage.PluginRecord) error {
	if record == nil || record.UUID == "" {
		return errors.ValidationError("plugin record requires a uuid")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	c := record.Clone()
	c.UpdatedAt = time.Now().UTC()
	s.plugins[c.UUID] = c
	return nil
}

func (s *Store) DeletePlugin(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.plugins, uuid)
	return nil
}

func (s *Store) LoadTemplateHandlerRecords(ctx context.Context) ([]*storage.TemplateHandlerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	records := make([]*storage.TemplateHandlerRecord, 0, len(s.handlers))
	for _, r := range s.handlers {
		c := *r
		records = append(records, &c)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Name < records[j].Name })
	return records, nil
}

func (s *Store) SaveTemplateHandler(ctx context.Context, record *storage.TemplateHandlerRecord) error {
	if record == nil || record.Name == "" {
		return errors.ValidationError("template handler record requires a name")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	c := *record
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.handlers[c.Name] = &c
	return nil
}

func (s *Store) DeleteTemplateHandler(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	delete(s.handlers, name)
	return nil
}

func (s *Store) DeleteTemplateHandlersByOwner(ctx context.Context, ownerUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	for name, r := range s.handlers {
		if r.OwnerUUID == ownerUUID {
			delete(s.handlers, name)
		}
	}
	return nil
}

func (s *Store) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.check(ctx)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// check must be called with s.mu held.
func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return errors.ConnectionError("memory store is closed", nil)
	}
	return ctx.Err()
}

type Factory struct{}

func (f *Factory) Create(config storage.StorageConfig) (storage.Store, error) {
	return NewStore(), nil
}

func (f *Factory) GetType() string {
	return "memory"
}

func init() {
	storage.Register("memory", &Factory{})
}
