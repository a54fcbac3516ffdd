package plugins

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"plugin-runtime/internal/common/errors"
	"plugin-runtime/internal/common/logging"
	"plugin-runtime/internal/plugin"
)

// DefaultPollInterval is how often the cycler checks for due plugins.
const DefaultPollInterval = time.Second

// Locker coordinates cycling across instances sharing a store.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// CyclerConfig configures a Cycler.
type CyclerConfig struct {
	PollInterval time.Duration
	// Locker is optional. When set, a plugin is cycled by whichever instance
	// first takes its lock, which then expires after the plugin's interval.
	Locker Locker
	Now    func() time.Time
	Logger logging.Logger
}

// CycleStats counts the periodic callbacks of one plugin.
type CycleStats struct {
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Cycler invokes the periodic callback of enabled plugins at their own
// intervals. Membership is snapshotted at Start: a plugin enabled later is
// not cycled until the cycler is restarted, and one disabled or removed
// later is skipped.
type Cycler struct {
	registry *Registry
	cfg      CyclerConfig
	logger   logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool

	// snapMu is separate from mu so Stop can wait for a sweep that reads the snapshot.
	snapMu   sync.RWMutex
	snapshot []*plugin.Plugin

	statsMu sync.Mutex
	stats   map[string]*CycleStats
}

// every is a cron schedule firing at a fixed sub-second capable interval.
type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

// NewCycler creates a stopped cycler over registry.
func NewCycler(registry *Registry, cfg CyclerConfig) *Cycler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Component("cycler")
	}

	return &Cycler{
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		stats:    make(map[string]*CycleStats),
	}
}

// Start snapshots the cyclable plugins and begins polling.
func (c *Cycler) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.ValidationError("cycler is already running")
	}

	snapshot := c.registry.cycleCandidates()
	c.snapMu.Lock()
	c.snapshot = snapshot
	c.snapMu.Unlock()

	cl := cronLogger{c.logger}
	c.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.cron.Schedule(every(c.cfg.PollInterval), cron.FuncJob(c.Sweep))
	c.cron.Start()
	c.running = true

	c.logger.Info("Cycler started",
		logging.Int("plugins", len(snapshot)),
		logging.Duration("poll_interval", c.cfg.PollInterval),
	)
	return nil
}

// Stop halts polling and waits for a sweep in progress to finish. Plugin
// callbacks are never interrupted.
func (c *Cycler) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return errors.ValidationError("cycler is not running")
	}

	<-c.cron.Stop().Done()
	c.running = false

	c.logger.Info("Cycler stopped")
	return nil
}

// Running reports whether the cycler is polling.
func (c *Cycler) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Sweep runs one pass over the snapshot under the registry lock, cycling
// every member that is due. It is what the scheduler runs on each tick.
func (c *Cycler) Sweep() {
	c.snapMu.RLock()
	snapshot := c.snapshot
	c.snapMu.RUnlock()

	c.registry.mu.Lock()
	defer c.registry.mu.Unlock()

	ctx := context.Background()
	now := c.cfg.Now()
	for _, p := range snapshot {
		if p.State() != plugin.Enabled {
			continue
		}
		if loaded, ok := c.registry.plugins[p.UUID]; !ok || loaded != p {
			continue
		}
		if !p.DueForCycle(now) {
			continue
		}
		c.cycle(ctx, p, now)
	}
}

func (c *Cycler) cycle(ctx context.Context, p *plugin.Plugin, now time.Time) {
	log := c.logger.WithFields(logging.String("plugin", p.Key), logging.String("uuid", p.UUID))

	if c.cfg.Locker != nil {
		acquired, err := c.cfg.Locker.AcquireLock(ctx, "cycle:"+p.UUID, p.Interest.CycleInterval)
		if err != nil {
			log.Warn("Cycle lock unavailable", logging.Err(err))
			return
		}
		if !acquired {
			log.Debug("Plugin cycled by another instance")
			p.SetLastCycled(now)
			return
		}
	}

	// The attempt counts as a cycle whatever its outcome, so a failing
	// plugin is retried after its interval rather than on every poll.
	p.SetLastCycled(now)

	err := c.invoke(ctx, p)
	c.record(p, now, err)
	if err != nil {
		log.Error("Plugin cycle failed", err)
		return
	}

	if c.registry.store != nil {
		if err := c.registry.store.SavePluginState(ctx, p.Record(p.State())); err != nil {
			log.Error("Failed to persist last cycle time", err)
		}
	}
}

func (c *Cycler) invoke(ctx context.Context, p *plugin.Plugin) (err error) {
	hook, ok := p.Handler.(plugin.CycleHook)
	if !ok {
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = errors.HandlerError(fmt.Sprintf("cycle of %s panicked", describe(p)), fmt.Errorf("panic: %v", rec))
		}
	}()

	if err := hook.OnPluginCycle(ctx); err != nil {
		return errors.HandlerError(fmt.Sprintf("cycle of %s failed", describe(p)), err)
	}
	return nil
}

func (c *Cycler) record(p *plugin.Plugin, now time.Time, err error) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	s, ok := c.stats[p.UUID]
	if !ok {
		s = &CycleStats{}
		c.stats[p.UUID] = s
	}
	s.Runs++
	s.LastRun = now
	if err != nil {
		s.Failures++
		s.LastError = err.Error()
	}
}

// Stats returns a copy of the per-plugin counters keyed by UUID.
func (c *Cycler) Stats() map[string]CycleStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	out := make(map[string]CycleStats, len(c.stats))
	for id, s := range c.stats {
		out[id] = *s
	}
	return out
}

// Snapshot returns the UUIDs the running cycler considers, in order.
func (c *Cycler) Snapshot() []string {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()

	ids := make([]string, len(c.snapshot))
	for i, p := range c.snapshot {
		ids[i] = p.UUID
	}
	return ids
}

// cycleCandidates returns the enabled plugins with a cycle interval.
func (r *Registry) cycleCandidates() []*plugin.Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sortedLocked(func(p *plugin.Plugin) bool {
		_, ok := p.Handler.(plugin.CycleHook)
		return ok && p.State() == plugin.Enabled && p.Interest.Cycled()
	})
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(keysAndValues []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logging.Field{Key: fmt.Sprint(keysAndValues[i]), Value: keysAndValues[i+1]})
	}
	return fields
}
