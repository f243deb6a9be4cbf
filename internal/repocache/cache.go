// Package repocache caches expensive repository reads keyed by repository
// path, with a TTL per cache kind and explicit invalidation.
package repocache

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

type Kind string

const (
	KindStatus   Kind = "status"
	KindWorktree Kind = "worktree"
	KindBranches Kind = "branches"
	KindRefs     Kind = "refs"
	KindLog      Kind = "log"
)

// Kinds lists every cache kind, used when invalidating a whole repository.
var Kinds = []Kind{KindStatus, KindWorktree, KindBranches, KindRefs, KindLog}

type Config struct {
	TTL          map[Kind]time.Duration
	MaxEntries   int
	LowWatermark int
}

func DefaultConfig() Config {
	return Config{
		TTL: map[Kind]time.Duration{
			KindStatus:   2 * time.Second,
			KindWorktree: 3 * time.Second,
			KindBranches: 15 * time.Second,
			KindRefs:     15 * time.Second,
			KindLog:      2 * time.Second,
		},
		MaxEntries:   64,
		LowWatermark: 48,
	}
}

type entry struct {
	data   any
	stored time.Time
	path   string
}

type Stats struct {
	Hits     int64
	Misses   int64
	Computes int64
}

// Cache is safe for concurrent use. Construct one per process and share it.
type Cache struct {
	cfg Config
	now func() time.Time

	mu     sync.Mutex
	stores map[Kind]*gocache.Cache
	// gen is bumped on invalidation so computations that started earlier do
	// not store their results.
	gen map[string]uint64

	group singleflight.Group

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
}

type Option func(*Cache)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(cfg Config, opts ...Option) *Cache {
	def := DefaultConfig()
	if cfg.TTL == nil {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.LowWatermark <= 0 || cfg.LowWatermark > cfg.MaxEntries {
		cfg.LowWatermark = cfg.MaxEntries * 3 / 4
	}
	c := &Cache{
		cfg:    cfg,
		now:    time.Now,
		stores: map[Kind]*gocache.Cache{},
		gen:    map[string]uint64{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured time-to-live for kind.
func (c *Cache) TTL(kind Kind) time.Duration {
	if ttl, ok := c.cfg.TTL[kind]; ok {
		return ttl
	}
	return 2 * time.Second
}

func (c *Cache) store(kind Kind) *gocache.Cache {
	s, ok := c.stores[kind]
	if !ok {
		ttl := c.TTL(kind)
		s = gocache.New(ttl, 4*ttl)
		c.stores[kind] = s
	}
	return s
}

// GetOrCompute returns the cached value for (kind, repoPath) when it is
// younger than ttl, otherwise runs compute and stores its result. A ttl <= 0
// selects the kind's configured TTL. Concurrent misses for the same key share
// a single computation.
func GetOrCompute[T any](c *Cache, kind Kind, repoPath string, ttl time.Duration, compute func() (T, error)) (T, error) {
	if ttl <= 0 {
		ttl = c.TTL(kind)
	}
	if v, ok := c.lookup(kind, repoPath, ttl); ok {
		if typed, ok := v.(T); ok {
			c.hits.Add(1)
			return typed, nil
		}
	}
	c.misses.Add(1)
	key := string(kind) + "\x00" + repoPath
	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.Lock()
		gen := c.gen[repoPath]
		c.mu.Unlock()
		c.computes.Add(1)
		res, err := compute()
		if err != nil {
			return res, err
		}
		c.put(kind, repoPath, ttl, gen, res)
		return res, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}

func (c *Cache) lookup(kind Kind, repoPath string, ttl time.Duration) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.store(kind).Get(repoPath)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if e.path != repoPath || c.now().Sub(e.stored) >= ttl {
		return nil, false
	}
	return e.data, true
}

func (c *Cache) put(kind Kind, repoPath string, ttl time.Duration, gen uint64, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[repoPath] != gen {
		slog.Debug("cache result discarded after invalidation",
			slog.String("kind", string(kind)),
			slog.String("repo", repoPath),
		)
		return
	}
	s := c.store(kind)
	s.Set(repoPath, entry{data: data, stored: c.now(), path: repoPath}, ttl)
	if s.ItemCount() > c.cfg.MaxEntries {
		c.evictLocked(kind, s)
	}
}

// evictLocked drops the oldest entries until the store is at the low
// watermark.
func (c *Cache) evictLocked(kind Kind, s *gocache.Cache) {
	items := s.Items()
	type aged struct {
		key    string
		stored time.Time
	}
	all := make([]aged, 0, len(items))
	for k, it := range items {
		all = append(all, aged{key: k, stored: it.Object.(entry).stored})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].stored.Before(all[j].stored) })
	evict := len(all) - c.cfg.LowWatermark
	for _, a := range all[:max(evict, 0)] {
		s.Delete(a.key)
	}
	slog.Debug("cache evicted entries",
		slog.String("kind", string(kind)),
		slog.Int("evicted", max(evict, 0)),
		slog.Int("remaining", s.ItemCount()),
	)
}

// Invalidate drops cached data for repoPath. With no kinds every kind is
// dropped. Computations already in flight for the path will not store their
// results.
func (c *Cache) Invalidate(repoPath string, kinds ...Kind) {
	if len(kinds) == 0 {
		kinds = Kinds
	}
	c.mu.Lock()
	c.gen[repoPath]++
	for _, kind := range kinds {
		c.store(kind).Delete(repoPath)
		c.group.Forget(string(kind) + "\x00" + repoPath)
	}
	c.mu.Unlock()
}

// Len reports the number of live entries for kind.
func (c *Cache) Len(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store(kind).ItemCount()
}

func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Computes: c.computes.Load()}
}
