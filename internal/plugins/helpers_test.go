package plugins

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/markup"
	"plugin-runtime/internal/plugin"
	"plugin-runtime/internal/storage"
	"plugin-runtime/internal/storage/memory"
)

// fakeHandler records lifecycle calls and fails on demand.
type fakeHandler struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	panics map[string]bool
}

func newFake() *fakeHandler {
	return &fakeHandler{fail: map[string]error{}, panics: map[string]bool{}}
}

func (f *fakeHandler) do(name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	err, shouldPanic := f.fail[name], f.panics[name]
	f.mu.Unlock()
	if shouldPanic {
		panic(name + " exploded")
	}
	return err
}

func (f *fakeHandler) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeHandler) Install(ctx context.Context, msgs *plugin.Messages) error   { return f.do("install") }
func (f *fakeHandler) Uninstall(ctx context.Context, msgs *plugin.Messages) error { return f.do("uninstall") }
func (f *fakeHandler) Enable(ctx context.Context, msgs *plugin.Messages) error    { return f.do("enable") }
func (f *fakeHandler) Disable(ctx context.Context, msgs *plugin.Messages) error   { return f.do("disable") }

// observer watches other plugins' actions and can veto them.
type observer struct {
	*fakeHandler
	mu      sync.Mutex
	seen    []string
	veto    map[plugin.Action]bool
	panicOn map[plugin.Action]bool
}

func newObserver() *observer {
	return &observer{fakeHandler: newFake(), veto: map[plugin.Action]bool{}, panicOn: map[plugin.Action]bool{}}
}

func (o *observer) OnPluginAction(ctx context.Context, action plugin.Action, target *plugin.Plugin, msgs *plugin.Messages) bool {
	o.mu.Lock()
	o.seen = append(o.seen, action.String()+":"+target.UUID)
	veto, boom := o.veto[action], o.panicOn[action]
	o.mu.Unlock()
	if boom {
		panic("observer exploded")
	}
	return !veto
}

func (o *observer) Seen() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.seen...)
}

// requestHooks subscribes to the cached request hooks.
type requestHooks struct {
	*fakeHandler
	mu     sync.Mutex
	events []string
	panics bool
}

func (h *requestHooks) record(ev string) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	boom := h.panics
	h.mu.Unlock()
	if boom {
		panic(ev)
	}
}

func (h *requestHooks) OnRequestStart(req *plugin.Request) { h.record("start") }
func (h *requestHooks) OnRequestEnd(req *plugin.Request)   { h.record("end") }
func (h *requestHooks) OnPageError(req *plugin.Request)    { h.record("error") }
func (h *requestHooks) OnPageNotFound(req *plugin.Request) { h.record("not_found") }

func (h *requestHooks) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

// cycling has a periodic callback.
type cycling struct {
	*fakeHandler
	interval time.Duration
	mu       sync.Mutex
	runs     int
	err      error
	panics   bool
}

func (c *cycling) CycleInterval() time.Duration { return c.interval }

func (c *cycling) OnPluginCycle(ctx context.Context) error {
	c.mu.Lock()
	c.runs++
	err, boom := c.err, c.panics
	c.mu.Unlock()
	if boom {
		panic("cycle exploded")
	}
	return err
}

func (c *cycling) Runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

// provider contributes template functions.
type provider struct {
	*fakeHandler
	funcs map[string]markup.Func
}

func (p *provider) TemplateFunctions() map[string]markup.Func { return p.funcs }

// lifecycleHooks observes host start and stop.
type lifecycleHooks struct {
	*fakeHandler
	mu     sync.Mutex
	events []string
}

func (l *lifecycleHooks) OnPluginStart(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "start")
}

func (l *lifecycleHooks) OnPluginStop(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "stop")
}

// faultyStore fails selected writes.
type faultyStore struct {
	*memory.Store
	mu         sync.Mutex
	failSave   error
	failDelete error
	saves      int
}

func (s *faultyStore) SavePluginState(ctx context.Context, r *storage.PluginRecord) error {
	s.mu.Lock()
	err := s.failSave
	s.saves++
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.SavePluginState(ctx, r)
}

func (s *faultyStore) DeletePlugin(ctx context.Context, id string) error {
	s.mu.Lock()
	err := s.failDelete
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.DeletePlugin(ctx, id)
}

func (s *faultyStore) setFailSave(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = err
}

var errBoom = stderrors.New("boom")

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) NotifyStateChange(ctx context.Context, id string, state plugin.State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, id+"="+state.String())
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *faultyStore
	functions *markup.FunctionRegistry
	notifier  *recordingNotifier
	registry  *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := &faultyStore{Store: memory.NewStore()}
	functions := markup.NewFunctionRegistry(store, nil)
	notifier := &recordingNotifier{}
	registry := NewRegistry(Config{
		Store:     store,
		Functions: functions,
		Notifier:  notifier,
		PluginDir: t.TempDir(),
		Logger:    logging.NewNopLogger(),
	})
	return &fixture{t: t, ctx: context.Background(), store: store, functions: functions, notifier: notifier, registry: registry}
}

// add loads a plugin with the given handler and drives it to state.
func (f *fixture) add(id string, priority int, h plugin.Handler, state plugin.State) *plugin.Plugin {
	f.t.Helper()
	p := plugin.New(id, "fake-"+id, h)
	p.Priority = priority
	require.NoError(f.t, f.registry.Load(f.ctx, p, nil))
	if state >= plugin.Disabled {
		require.NoError(f.t, f.registry.Install(f.ctx, p, nil))
	}
	if state == plugin.Enabled {
		require.NoError(f.t, f.registry.Enable(f.ctx, p, nil))
	}
	return p
}

func (f *fixture) persistedState(id string) string {
	f.t.Helper()
	records, err := f.store.LoadPluginRecords(f.ctx)
	require.NoError(f.t, err)
	for _, r := range records {
		if r.UUID == id {
			return r.State
		}
	}
	return fmt.Sprintf("<%s not persisted>", id)
}

func uuids(list []*plugin.Plugin) []string {
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.UUID
	}
	return out
}
