package plugins

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/markup"
	"plugin-runtime/internal/plugin"
)

func newsFactory() plugin.Factory {
	return plugin.NewFactory("news", plugin.Descriptor{Name: "News", Version: "1.2.0", Priority: 3}, func() plugin.Handler {
		return &provider{fakeHandler: newFake(), funcs: map[string]markup.Func{
			"news/headline": func(rc *markup.Context, args []string) string { return "breaking" },
		}}
	})
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	f.registry.Factories().MustRegister(newsFactory())

	msgs := plugin.NewMessages()
	p, err := f.registry.Create(f.ctx, "news", msgs)
	require.NoError(t, err)

	assert.NotEmpty(t, p.UUID)
	assert.Equal(t, "News", p.Name)
	assert.Equal(t, "1.2.0", p.Version)
	assert.Equal(t, 3, p.Priority)
	assert.Equal(t, plugin.NotInstalled, p.State())
	assert.Contains(t, p.Dir, f.registry.pluginDir)

	got, ok := f.registry.Get(p.UUID)
	assert.True(t, ok)
	assert.Same(t, p, got)

	_, err = f.registry.Create(f.ctx, "missing", msgs)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
	assert.True(t, msgs.HasErrors())
}

func TestCreate_RejectsInvalidDescriptor(t *testing.T) {
	f := newFixture(t)
	f.registry.Factories().MustRegister(plugin.NewFactory("broken", plugin.Descriptor{Version: "latest"}, func() plugin.Handler {
		return &fakeHandler{}
	}))

	msgs := plugin.NewMessages()
	_, err := f.registry.Create(f.ctx, "broken", msgs)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	assert.True(t, msgs.HasErrors())
	assert.Zero(t, f.registry.Len())
}

func TestLoadAll_RestoresStateAndFunctions(t *testing.T) {
	f := newFixture(t)
	f.registry.Factories().MustRegister(newsFactory())

	p, err := f.registry.Create(f.ctx, "news", nil)
	require.NoError(t, err)
	require.NoError(t, f.registry.Install(f.ctx, p, nil))
	require.NoError(t, f.registry.Enable(f.ctx, p, nil))

	// a second instance sharing the store
	functions := markup.NewFunctionRegistry(f.store, nil)
	other := NewRegistry(Config{
		Store:     f.store,
		Factories: f.registry.Factories(),
		Functions: functions,
		Logger:    logging.NewNopLogger(),
	})
	require.NoError(t, other.LoadAll(f.ctx))

	restored, ok := other.Get(p.UUID)
	require.True(t, ok)
	assert.Equal(t, plugin.Enabled, restored.State())
	assert.Equal(t, "News", restored.Name)
	assert.NotSame(t, p.Handler, restored.Handler)

	fn, ok := functions.Lookup("news/headline")
	require.True(t, ok)
	assert.Equal(t, "breaking", fn(markup.NewContext(nil), nil))
}

func TestLoadAll_SkipsUnknownFactories(t *testing.T) {
	f := newFixture(t)
	f.add("orphan", 0, newFake(), plugin.Disabled)

	other := NewRegistry(Config{Store: f.store, Logger: logging.NewNopLogger()})
	require.NoError(t, other.LoadAll(f.ctx))
	assert.Equal(t, 0, other.Len())
}

func TestLoadAll_KeepsLoadedPlugins(t *testing.T) {
	f := newFixture(t)
	f.registry.Factories().MustRegister(newsFactory())
	p, err := f.registry.Create(f.ctx, "news", nil)
	require.NoError(t, err)
	require.NoError(t, f.registry.Install(f.ctx, p, nil))

	require.NoError(t, f.registry.LoadAll(f.ctx))
	got, _ := f.registry.Get(p.UUID)
	assert.Same(t, p, got)
}

func TestReload_ReplacesSet(t *testing.T) {
	f := newFixture(t)
	f.registry.Factories().MustRegister(newsFactory())
	p, err := f.registry.Create(f.ctx, "news", nil)
	require.NoError(t, err)
	require.NoError(t, f.registry.Install(f.ctx, p, nil))
	f.add("transient", 0, newFake(), plugin.NotInstalled)

	require.NoError(t, f.registry.Reload(f.ctx))

	_, ok := f.registry.Get("transient")
	assert.False(t, ok, "plugins without stored state are dropped")
	got, ok := f.registry.Get(p.UUID)
	require.True(t, ok)
	assert.NotSame(t, p, got)
	assert.Equal(t, plugin.Disabled, got.State())
}

func TestReload_WithoutStore(t *testing.T) {
	r := NewRegistry(Config{Logger: logging.NewNopLogger()})
	assert.True(t, errors.IsType(r.Reload(context.Background()), errors.ErrTypeConfig))
}

func TestList_Order(t *testing.T) {
	f := newFixture(t)
	f.add("b", 0, newFake(), plugin.NotInstalled)
	f.add("a", 0, newFake(), plugin.NotInstalled)
	f.add("z", -1, newFake(), plugin.NotInstalled)
	assert.Equal(t, []string{"z", "a", "b"}, uuids(f.registry.List()))
}

func TestStartShutdown(t *testing.T) {
	f := newFixture(t)
	on := &lifecycleHooks{fakeHandler: newFake()}
	off := &lifecycleHooks{fakeHandler: newFake()}
	f.add("on", 0, on, plugin.Enabled)
	f.add("off", 0, off, plugin.Disabled)

	f.registry.Start(f.ctx)
	f.registry.Shutdown(f.ctx)

	assert.Equal(t, []string{"start", "stop"}, on.events)
	assert.Empty(t, off.events)
}

func TestFireHooks(t *testing.T) {
	f := newFixture(t)
	first := &requestHooks{fakeHandler: newFake()}
	second := &requestHooks{fakeHandler: newFake()}
	f.add("first", 0, first, plugin.Enabled)
	f.add("second", 1, second, plugin.Enabled)
	first.panics = true

	req := &plugin.Request{Writer: httptest.NewRecorder(), HTTP: httptest.NewRequest("GET", "/", nil)}
	assert.NotPanics(t, func() {
		f.registry.FireRequestStart(req)
		f.registry.FirePageNotFound(req)
		f.registry.FirePageError(req)
		f.registry.FireRequestEnd(req)
	})

	assert.Equal(t, []string{"start", "not_found", "error", "end"}, first.Events())
	assert.Equal(t, []string{"start", "not_found", "error", "end"}, second.Events(), "a panicking hook does not starve later plugins")
}

func TestHandlerCache_ConcurrentReads(t *testing.T) {
	f := newFixture(t)
	hooks := &requestHooks{fakeHandler: newFake()}
	p := f.add("p1", 0, hooks, plugin.Disabled)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				list := f.registry.HandlerCache(plugin.HookRequestStart)
				if len(list) > 1 {
					t.Errorf("cache holds %d entries for one plugin", len(list))
					return
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		require.NoError(t, f.registry.Enable(f.ctx, p, nil))
		require.NoError(t, f.registry.Disable(f.ctx, p, nil))
	}
	close(stop)
	wg.Wait()
}
