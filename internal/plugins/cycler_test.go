package plugins

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/plugin"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubLocker struct {
	mu      sync.Mutex
	grant   bool
	err     error
	keys    []string
	lastTTL time.Duration
}

func (l *stubLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	l.lastTTL = ttl
	return l.grant, l.err
}

func newCycling(interval time.Duration) *cycling {
	return &cycling{fakeHandler: newFake(), interval: interval}
}

func newTestCycler(f *fixture, clk *clock, locker Locker) *Cycler {
	cfg := CyclerConfig{Now: clk.Now, Logger: logging.NewNopLogger()}
	if locker != nil {
		cfg.Locker = locker
	}
	return NewCycler(f.registry, cfg)
}

func TestSweep_CyclesDuePlugins(t *testing.T) {
	f := newFixture(t)
	clk := newClock()
	c1 := newCycling(time.Minute)
	p := f.add("c1", 0, c1, plugin.Enabled)

	c := newTestCycler(f, clk, nil)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	c.Sweep()
	assert.Equal(t, 1, c1.Runs(), "never cycled plugins are due immediately")
	assert.Equal(t, clk.Now(), p.LastCycled())

	c.Sweep()
	clk.Advance(time.Minute)
	c.Sweep()
	assert.Equal(t, 1, c1.Runs(), "exactly one interval elapsed is not yet due")

	clk.Advance(time.Second)
	c.Sweep()
	assert.Equal(t, 2, c1.Runs())

	records, err := f.store.LoadPluginRecords(f.ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].LastCycled)
	assert.True(t, records[0].LastCycled.Equal(clk.Now()))
	assert.Equal(t, int64(60), records[0].CycleIntervalSeconds)
}

func TestSweep_FailureIsolation(t *testing.T) {
	f := newFixture(t)
	clk := newClock()
	failing := newCycling(time.Minute)
	failing.err = errBoom
	panicking := newCycling(time.Minute)
	panicking.panics = true
	healthy := newCycling(time.Minute)

	f.add("a-failing", 0, failing, plugin.Enabled)
	f.add("b-panicking", 0, panicking, plugin.Enabled)
	f.add("c-healthy", 0, healthy, plugin.Enabled)

	c := newTestCycler(f, clk, nil)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	assert.NotPanics(t, c.Sweep)
	assert.Equal(t, 1, failing.Runs())
	assert.Equal(t, 1, panicking.Runs())
	assert.Equal(t, 1, healthy.Runs())

	stats := c.Stats()
	assert.Equal(t, int64(1), stats["a-failing"].Failures)
	assert.Contains(t, stats["a-failing"].LastError, "boom")
	assert.Equal(t, int64(1), stats["b-panicking"].Failures)
	assert.Equal(t, int64(0), stats["c-healthy"].Failures)
	assert.Equal(t, int64(1), stats["c-healthy"].Runs)

	// a failed attempt still waits a full interval
	c.Sweep()
	assert.Equal(t, 1, failing.Runs())
}

func TestCycler_SnapshotMembership(t *testing.T) {
	f := newFixture(t)
	clk := newClock()
	early := newCycling(time.Minute)
	gone := newCycling(time.Minute)
	pEarly := f.add("early", 0, early, plugin.Enabled)
	pGone := f.add("gone", 1, gone, plugin.Enabled)
	f.add("idle", 2, newCycling(time.Minute), plugin.Disabled)
	f.add("no-interval", 3, newCycling(0), plugin.Enabled)

	c := newTestCycler(f, clk, nil)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })
	assert.Equal(t, []string{"early", "gone"}, c.Snapshot())

	late := newCycling(time.Minute)
	f.add("late", 0, late, plugin.Enabled)
	require.NoError(t, f.registry.Disable(f.ctx, pGone, nil))

	c.Sweep()
	assert.Equal(t, 1, early.Runs())
	assert.Equal(t, 0, gone.Runs(), "disabled members are skipped")
	assert.Equal(t, 0, late.Runs(), "plugins enabled after start wait for a restart")

	require.NoError(t, f.registry.Remove(f.ctx, pEarly, nil))
	clk.Advance(2 * time.Minute)
	c.Sweep()
	assert.Equal(t, 1, early.Runs(), "removed members are skipped")

	require.NoError(t, c.Stop())
	require.NoError(t, c.Start())
	c.Sweep()
	assert.Equal(t, 1, late.Runs())
}

func TestCycler_StartStop(t *testing.T) {
	f := newFixture(t)
	c := newTestCycler(f, newClock(), nil)

	assert.True(t, errors.IsType(c.Stop(), errors.ErrTypeValidation))
	require.NoError(t, c.Start())
	assert.True(t, c.Running())
	assert.True(t, errors.IsType(c.Start(), errors.ErrTypeValidation))
	require.NoError(t, c.Stop())
	assert.False(t, c.Running())
}

func TestCycler_RunsOnSchedule(t *testing.T) {
	f := newFixture(t)
	h := newCycling(time.Millisecond)
	f.add("fast", 0, h, plugin.Enabled)

	c := NewCycler(f.registry, CyclerConfig{PollInterval: 10 * time.Millisecond, Logger: logging.NewNopLogger()})
	require.NoError(t, c.Start())

	assert.Eventually(t, func() bool { return h.Runs() >= 2 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop())

	runs := h.Runs()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, runs, h.Runs(), "no callbacks after Stop returns")
}

func TestCycler_Locker(t *testing.T) {
	f := newFixture(t)
	clk := newClock()
	h := newCycling(time.Minute)
	p := f.add("p1", 0, h, plugin.Enabled)

	locker := &stubLocker{grant: false}
	c := newTestCycler(f, clk, locker)
	require.NoError(t, c.Start())
	t.Cleanup(func() { _ = c.Stop() })

	c.Sweep()
	assert.Equal(t, 0, h.Runs(), "another instance holds the lock")
	assert.Equal(t, clk.Now(), p.LastCycled())
	assert.Equal(t, []string{"cycle:p1"}, locker.keys)
	assert.Equal(t, time.Minute, locker.lastTTL)

	clk.Advance(time.Minute + time.Second)
	locker.mu.Lock()
	locker.grant = true
	locker.mu.Unlock()
	c.Sweep()
	assert.Equal(t, 1, h.Runs())

	clk.Advance(time.Minute + time.Second)
	locker.mu.Lock()
	locker.grant, locker.err = false, errBoom
	locker.mu.Unlock()
	c.Sweep()
	assert.Equal(t, 1, h.Runs())
	assert.Empty(t, c.Stats()["p1"].LastError)
}
