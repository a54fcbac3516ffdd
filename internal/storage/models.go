package storage

import "time"

// Plugin states as persisted. They mirror plugin.State names.
const (
	StateNotInstalled = "not_installed"
	StateDisabled     = "disabled"
	StateEnabled      = "enabled"
)

// PluginRecord is the persisted form of a plugin.
type PluginRecord struct {
	UUID     string `json:"uuid"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Dir      string `json:"dir"`
	Priority int    `json:"priority"`
	State    string `json:"state"`

	// Hooks is the bitmask of hook kinds the implementation declared when last saved.
	Hooks                int   `json:"hooks"`
	CycleIntervalSeconds int64 `json:"cycle_interval_seconds"`

	// LastCycled is nil when the plugin has never been cycled.
	LastCycled *time.Time `json:"last_cycled,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *PluginRecord) Clone() *PluginRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastCycled != nil {
		t := *r.LastCycled
		c.LastCycled = &t
	}
	return &c
}

// TemplateHandlerRecord binds a template function name to the plugin that provides it.
type TemplateHandlerRecord struct {
	Name      string    `json:"name"`
	OwnerUUID string    `json:"owner_uuid"`
	CreatedAt time.Time `json:"created_at"`
}
