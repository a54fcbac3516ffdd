// Package plugin defines the runtime model of a plugin: its identity, its
// lifecycle state, the hooks it is interested in and the interfaces an
// implementation can satisfy.
package plugin

import (
	"fmt"
	"sync/atomic"
	"time"

	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/storage"
)

// State is the lifecycle state of a plugin.
type State int32

const (
	NotInstalled State = iota
	Disabled
	Enabled
)

func (s State) String() string {
	switch s {
	case NotInstalled:
		return storage.StateNotInstalled
	case Disabled:
		return storage.StateDisabled
	case Enabled:
		return storage.StateEnabled
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ParseState converts a persisted state name.
func ParseState(s string) (State, error) {
	switch s {
	case storage.StateNotInstalled, "":
		return NotInstalled, nil
	case storage.StateDisabled:
		return Disabled, nil
	case storage.StateEnabled:
		return Enabled, nil
	default:
		return NotInstalled, errors.ValidationError(fmt.Sprintf("unknown plugin state %q", s))
	}
}

// Hook identifies a hook kind a plugin may be interested in.
type Hook int

const (
	HookRequestStart Hook = 1 << iota
	HookRequestEnd
	HookPageError
	HookPageNotFound
	HookPluginStart
	HookPluginStop
	HookPluginAction
)

var hookNames = map[Hook]string{
	HookRequestStart: "request_start",
	HookRequestEnd:   "request_end",
	HookPageError:    "page_error",
	HookPageNotFound: "page_not_found",
	HookPluginStart:  "plugin_start",
	HookPluginStop:   "plugin_stop",
	HookPluginAction: "plugin_action",
}

func (h Hook) String() string {
	if name, ok := hookNames[h]; ok {
		return name
	}
	return fmt.Sprintf("hook(%d)", int(h))
}

// CachedHooks are the hook kinds served from the handler cache.
var CachedHooks = []Hook{HookRequestStart, HookRequestEnd, HookPageError, HookPageNotFound}

// Interest is the set of hooks a plugin subscribes to plus its cycle interval.
type Interest struct {
	RequestStart bool
	RequestEnd   bool
	PageError    bool
	PageNotFound bool
	PluginStart  bool
	PluginStop   bool
	PluginAction bool

	// CycleInterval <= 0 means the plugin is never cycled.
	CycleInterval time.Duration
}

// Has reports interest in a single hook kind.
func (i Interest) Has(h Hook) bool {
	return i.Mask()&int(h) != 0
}

// Mask encodes the boolean flags as a bitmask of Hook values.
func (i Interest) Mask() int {
	mask := 0
	set := func(b bool, h Hook) {
		if b {
			mask |= int(h)
		}
	}
	set(i.RequestStart, HookRequestStart)
	set(i.RequestEnd, HookRequestEnd)
	set(i.PageError, HookPageError)
	set(i.PageNotFound, HookPageNotFound)
	set(i.PluginStart, HookPluginStart)
	set(i.PluginStop, HookPluginStop)
	set(i.PluginAction, HookPluginAction)
	return mask
}

// AffectsCache reports whether the plugin appears in any handler cache list.
func (i Interest) AffectsCache() bool {
	return i.RequestStart || i.RequestEnd || i.PageError || i.PageNotFound
}

// Cycled reports whether the plugin has a periodic callback.
func (i Interest) Cycled() bool {
	return i.CycleInterval > 0
}

// Plugin is a loaded plugin. Identity fields are fixed once the plugin has
// been persisted; State and LastCycled are read atomically and are only
// written by the plugin registry and the cycler.
type Plugin struct {
	UUID     string
	Key      string
	Name     string
	Version  string
	Dir      string
	Priority int

	Handler  Handler
	Interest Interest

	state      atomic.Int32
	lastCycled atomic.Int64 // unix nanoseconds, 0 = never
}

// New creates a plugin in the NotInstalled state, deriving its interest from
// the interfaces handler implements.
func New(uuid, key string, handler Handler) *Plugin {
	return &Plugin{
		UUID:     uuid,
		Key:      key,
		Name:     key,
		Handler:  handler,
		Interest: DeriveInterest(handler),
	}
}

// FromRecord rebuilds a plugin from its persisted record and a fresh handler.
func FromRecord(rec *storage.PluginRecord, handler Handler) (*Plugin, error) {
	state, err := ParseState(rec.State)
	if err != nil {
		return nil, err
	}

	p := New(rec.UUID, rec.Key, handler)
	p.Name = rec.Name
	p.Version = rec.Version
	p.Dir = rec.Dir
	p.Priority = rec.Priority
	p.SetState(state)
	if rec.LastCycled != nil {
		p.SetLastCycled(*rec.LastCycled)
	}
	return p, nil
}

// Record returns the persisted form of p with its state replaced by state.
func (p *Plugin) Record(state State) *storage.PluginRecord {
	rec := &storage.PluginRecord{
		UUID:                 p.UUID,
		Key:                  p.Key,
		Name:                 p.Name,
		Version:              p.Version,
		Dir:                  p.Dir,
		Priority:             p.Priority,
		State:                state.String(),
		Hooks:                p.Interest.Mask(),
		CycleIntervalSeconds: int64(p.Interest.CycleInterval / time.Second),
	}
	if last := p.LastCycled(); !last.IsZero() {
		rec.LastCycled = &last
	}
	return rec
}

// State returns the current lifecycle state.
func (p *Plugin) State() State {
	return State(p.state.Load())
}

// SetState overwrites the lifecycle state. Only the registry's transitions
// and loading from the store call it.
func (p *Plugin) SetState(s State) {
	p.state.Store(int32(s))
}

// LastCycled returns when the periodic callback was last attempted, or the zero
// time if it never ran.
func (p *Plugin) LastCycled() time.Time {
	n := p.lastCycled.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// SetLastCycled records a cycle time; the zero time resets to never.
func (p *Plugin) SetLastCycled(t time.Time) {
	if t.IsZero() {
		p.lastCycled.Store(0)
		return
	}
	p.lastCycled.Store(t.UnixNano())
}

// DueForCycle reports whether more than the cycle interval has elapsed since
// the last cycle. A never-cycled plugin is always due.
func (p *Plugin) DueForCycle(now time.Time) bool {
	if !p.Interest.Cycled() {
		return false
	}
	last := p.LastCycled()
	return last.IsZero() || now.Sub(last) > p.Interest.CycleInterval
}

func (p *Plugin) String() string {
	return fmt.Sprintf("%s(%s)", p.Key, p.UUID)
}

// Less orders plugins by Priority, then UUID.
func Less(a, b *Plugin) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.UUID < b.UUID
}
