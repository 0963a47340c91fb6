package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/kaya/internal/metrics"
)

// ErrReloadInProgress is returned when a reload is requested while another
// one is still running. The request is dropped, not queued.
var ErrReloadInProgress = errors.New("knowledge reload already in progress")

// Event announces a published snapshot and the agents whose dataset changed.
type Event struct {
	Changed []string  `json:"changed"`
	At      time.Time `json:"at"`
}

// AgentStatus describes the active dataset of one agent.
type AgentStatus struct {
	Agent      string    `json:"agent"`
	Records    int       `json:"records"`
	Usable     int       `json:"usable"`
	SourcePath string    `json:"source_path,omitempty"`
	LoadedAt   time.Time `json:"loaded_at"`
	Default    bool      `json:"default"`
}

// Stats are cumulative cache counters.
type Stats struct {
	Requests         uint64        `json:"requests"`
	Hits             uint64        `json:"hits"`
	Loads            uint64        `json:"loads"`
	Failures         uint64        `json:"failures"`
	LastLoadDuration time.Duration `json:"last_load_duration"`
	LastLoadAt       time.Time     `json:"last_load_at"`
}

type snapshot struct {
	datasets map[string]*Dataset
	newest   map[string]candidate
	loadedAt time.Time
}

// Cache serves the active dataset per agent. Readers see either the previous
// or the next snapshot in full, never a mix.
type Cache struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time

	snap      atomic.Pointer[snapshot]
	reloading atomic.Bool

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int

	requests atomic.Uint64
	hits     atomic.Uint64
	loads    atomic.Uint64
	failures atomic.Uint64
	lastDur  atomic.Int64
}

// NewCache creates a cache over dir holding only the default datasets. Call
// Reload to read the directory.
func NewCache(dir string, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		dir:    dir,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]chan Event),
	}
	now := c.now()
	c.snap.Store(&snapshot{
		datasets: withDefaults(nil, now),
		newest:   map[string]candidate{},
		loadedAt: now,
	})
	return c
}

// Dir returns the watched data directory.
func (c *Cache) Dir() string { return c.dir }

func withDefaults(loaded map[string]*Dataset, now time.Time) map[string]*Dataset {
	out := make(map[string]*Dataset, len(loaded)+len(defaultRecords))
	for _, name := range KnownAgents() {
		out[name] = DefaultDataset(name, now)
	}
	for name, ds := range loaded {
		out[name] = ds
	}
	return out
}

// Get returns the active dataset for agent.
func (c *Cache) Get(agent string) (*Dataset, bool) {
	c.requests.Add(1)
	ds, ok := c.snap.Load().datasets[agent]
	if ok {
		c.hits.Add(1)
		metrics.KnowledgeRequests.WithLabelValues("hit").Inc()
	} else {
		metrics.KnowledgeRequests.WithLabelValues("miss").Inc()
	}
	return ds, ok
}

// Agents lists the status of every active dataset, sorted by agent name.
func (c *Cache) Agents() []AgentStatus {
	s := c.snap.Load()
	out := make([]AgentStatus, 0, len(s.datasets))
	for _, ds := range s.datasets {
		usable := 0
		for _, r := range ds.Records {
			if r.Usable() {
				usable++
			}
		}
		out = append(out, AgentStatus{
			Agent:      ds.Agent,
			Records:    len(ds.Records),
			Usable:     usable,
			SourcePath: ds.SourcePath,
			LoadedAt:   ds.LoadedAt,
			Default:    ds.Default,
		})
	}
	slices.SortFunc(out, func(a, b AgentStatus) int {
		return strings.Compare(a.Agent, b.Agent)
	})
	return out
}

// Reload rescans the data directory and atomically publishes a new snapshot.
// A missing or unreadable directory yields the default datasets.
func (c *Cache) Reload(ctx context.Context) (Event, error) {
	if !c.reloading.CompareAndSwap(false, true) {
		return Event{}, ErrReloadInProgress
	}
	defer c.reloading.Store(false)

	start := time.Now()
	now := c.now()

	res, err := loadDir(ctx, c.dir, now, c.logger)
	if err != nil {
		if ctx.Err() != nil {
			metrics.KnowledgeLoads.WithLabelValues("cancelled").Inc()
			return Event{}, err
		}
		c.logger.Warn("Dataset directory unavailable, serving defaults", "dir", c.dir, "error", err)
		metrics.KnowledgeLoads.WithLabelValues("defaults").Inc()
		res = loadResult{datasets: map[string]*Dataset{}, newest: map[string]candidate{}}
	}

	prev := c.snap.Load()
	next := &snapshot{
		datasets: withDefaults(res.datasets, now),
		newest:   res.newest,
		loadedAt: now,
	}
	changed := diff(prev.datasets, next.datasets)
	c.snap.Store(next)

	dur := time.Since(start)
	c.loads.Add(1)
	c.failures.Add(uint64(res.failures))
	c.lastDur.Store(int64(dur))
	metrics.KnowledgeLoads.WithLabelValues("ok").Inc()
	metrics.KnowledgeLoadDuration.Set(dur.Seconds())

	c.logger.Info("Datasets reloaded",
		"agents", len(next.datasets),
		"from_files", len(res.datasets),
		"changed", len(changed),
		"failures", res.failures,
		"duration", dur)

	ev := Event{Changed: changed, At: now}
	if len(changed) > 0 {
		c.publish(ev)
	}
	return ev, nil
}

// Stale reports whether the directory holds files newer than, or different
// from, the ones seen by the last reload.
func (c *Cache) Stale() (bool, error) {
	groups, err := scanDir(c.dir)
	if err != nil {
		return false, err
	}
	seen := c.snap.Load().newest
	if len(groups) != len(seen) {
		return true, nil
	}
	for agent, cs := range groups {
		prev, ok := seen[agent]
		if !ok || prev.path != cs[0].path || !prev.modTime.Equal(cs[0].modTime) {
			return true, nil
		}
	}
	return false, nil
}

// PollOnce reloads when the directory is stale. It is the scheduled fallback
// for missed watcher events.
func (c *Cache) PollOnce(ctx context.Context) {
	stale, err := c.Stale()
	if err != nil {
		c.logger.Debug("Dataset poll skipped", "dir", c.dir, "error", err)
		return
	}
	if !stale {
		return
	}
	if _, err := c.Reload(ctx); err != nil && !errors.Is(err, ErrReloadInProgress) {
		c.logger.Error("Dataset poll reload failed", "error", err)
	}
}

// Subscribe returns a channel receiving reload events and a function that
// cancels the subscription. Slow subscribers miss intermediate events.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 1)
	c.subMu.Lock()
	id := c.subID
	c.subID++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Cache) publish(ev Event) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Stats returns cumulative counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Requests:         c.requests.Load(),
		Hits:             c.hits.Load(),
		Loads:            c.loads.Load(),
		Failures:         c.failures.Load(),
		LastLoadDuration: time.Duration(c.lastDur.Load()),
		LastLoadAt:       c.snap.Load().loadedAt,
	}
}

func diff(prev, next map[string]*Dataset) []string {
	var changed []string
	for name, n := range next {
		p, ok := prev[name]
		if !ok || p.Default != n.Default || p.SourcePath != n.SourcePath ||
			!p.ModTime.Equal(n.ModTime) || len(p.Records) != len(n.Records) {
			changed = append(changed, name)
		}
	}
	for name := range prev {
		if _, ok := next[name]; !ok {
			changed = append(changed, name)
		}
	}
	slices.Sort(changed)
	return changed
}
