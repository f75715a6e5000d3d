package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/fluent/internal/metrics"
)

// EntryState is the lifecycle state of a cache entry.
type EntryState int

const (
	StateFetching EntryState = iota
	StateFresh
	StateStale
	StateFailed
)

func (s EntryState) String() string {
	switch s {
	case StateFetching:
		return "fetching"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CacheEntry is a point-in-time copy of one cached result.
type CacheEntry struct {
	Key       CacheKey
	Entity    Entity
	Rows      []Row
	FetchedAt time.Time
	State     EntryState
	Err       error

	// Version increases with every transition of any entry. Observers use it
	// to discard snapshots that arrive out of order.
	Version uint64
}

// Loader fetches the rows for one cache key.
type Loader func(ctx context.Context) ([]Row, error)

type entry struct {
	CacheEntry
	gen        uint64 // cache-wide unique; a flight only writes back to its own gen
	loader     Loader
	lastAccess time.Time
}

func (e *entry) snapshot() CacheEntry {
	s := e.CacheEntry
	s.Rows = cloneRows(e.Rows)
	return s
}

// QueryCache maps cache keys to fetched rows. It guarantees at most one
// in-flight fetch per key and never lets a fetch started before an
// invalidation mark the entry Fresh.
type QueryCache struct {
	mu        sync.Mutex
	entries   map[CacheKey]*entry
	watchers  map[CacheKey]map[uint64]func(CacheEntry)
	nextWatch uint64
	version   uint64
	gen       uint64
	flights   singleflight.Group
	staleTime time.Duration
	now       func() time.Time
}

// NewQueryCache creates a cache. A Fresh entry older than staleTime is
// refetched on the next Fetch; staleTime <= 0 disables age-based staleness.
func NewQueryCache(staleTime time.Duration) *QueryCache {
	return &QueryCache{
		entries:   make(map[CacheKey]*entry),
		watchers:  make(map[CacheKey]map[uint64]func(CacheEntry)),
		staleTime: staleTime,
		now:       time.Now,
	}
}

// Get returns a snapshot of the entry for key without blocking on fetches.
// A Fresh entry past the stale time is reported as Stale.
func (c *QueryCache) Get(key CacheKey) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, false
	}
	snap := e.snapshot()
	if snap.State == StateFresh && !c.freshLocked(e) {
		snap.State = StateStale
	}
	return snap, true
}

// IsFresh reports whether key holds a Fresh entry within the stale time.
func (c *QueryCache) IsFresh(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	return ok && c.freshLocked(e)
}

func (c *QueryCache) freshLocked(e *entry) bool {
	if e.State != StateFresh {
		return false
	}
	return c.staleTime <= 0 || c.now().Sub(e.FetchedAt) < c.staleTime
}

// Fetch returns the rows for key. A Fresh entry is returned without calling
// loader; otherwise the caller joins the in-flight fetch for key or starts
// one. The loader runs detached from ctx, so a caller that gives up does not
// cancel the fetch for other waiters.
func (c *QueryCache) Fetch(ctx context.Context, key CacheKey, entity Entity, loader Loader) ([]Row, error) {
	return c.fetch(ctx, key, entity, loader, false)
}

// Refetch is Fetch without the freshness shortcut. It still joins a fetch
// already in flight.
func (c *QueryCache) Refetch(ctx context.Context, key CacheKey, entity Entity, loader Loader) ([]Row, error) {
	return c.fetch(ctx, key, entity, loader, true)
}

func (c *QueryCache) fetch(ctx context.Context, key CacheKey, entity Entity, loader Loader, force bool) ([]Row, error) {
	c.mu.Lock()

	e, ok := c.entries[key]
	if !ok {
		c.gen++
		e = &entry{CacheEntry: CacheEntry{Key: key, Entity: entity, State: StateStale}, gen: c.gen}
		c.entries[key] = e
	}
	if loader != nil {
		e.loader = loader
	}
	loader = e.loader
	e.lastAccess = c.now()

	if loader == nil {
		c.mu.Unlock()
		return nil, &FetchError{Entity: entity, Key: key, Err: errors.New("no loader registered")}
	}

	if !force && c.freshLocked(e) {
		rows := cloneRows(e.Rows)
		c.mu.Unlock()
		metrics.CacheLookups.WithLabelValues(string(entity), "hit").Inc()
		return rows, nil
	}

	var (
		changed bool
		snap    CacheEntry
	)
	if e.State == StateFetching {
		metrics.CacheLookups.WithLabelValues(string(entity), "join").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues(string(entity), "miss").Inc()
		e.State = StateFetching
		c.bumpLocked(e)
		snap, changed = e.snapshot(), true
	}

	// DoChan registers the flight before the lock is released, so every
	// caller arriving after this point joins it.
	gen := e.gen
	loadCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(string(key), func() (any, error) {
		return c.load(loadCtx, key, entity, gen, loader)
	})
	c.mu.Unlock()

	if changed {
		c.notify(key, snap)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneRows(res.Val.([]Row)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *QueryCache) load(ctx context.Context, key CacheKey, entity Entity, gen uint64, loader Loader) ([]Row, error) {
	logger := slog.With("entity", entity, "key", key)
	logger.Debug("fetch started")

	rows, err := loader(ctx)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			fe = &FetchError{Entity: entity, Key: key, Err: err}
		}
		err = fe
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen {
		// Evicted or invalidated while in flight: the result is handed to the
		// waiters of this flight but never recorded.
		c.mu.Unlock()
		logger.Debug("fetch superseded", "error", err)
		return rows, err
	}

	// This flight is done. Forget it now so a retry after Failed starts a new
	// one instead of joining this settled call.
	c.flights.Forget(string(key))

	if err != nil {
		e.State = StateFailed
		e.Err = err
	} else {
		e.Rows = cloneRows(rows)
		e.State = StateFresh
		e.Err = nil
		e.FetchedAt = c.now()
	}
	c.bumpLocked(e)
	snap := e.snapshot()
	c.mu.Unlock()

	if err != nil {
		logger.Warn("fetch failed", "error", err)
	} else {
		logger.Debug("fetch settled", "rows", len(rows))
	}

	c.notify(key, snap)
	return rows, err
}

// Invalidate marks key Stale. Rows are kept; a fetch in flight for the key
// is forgotten and will not mark the entry Fresh. Returns false if the key
// is unknown or was already Stale.
func (c *QueryCache) Invalidate(key CacheKey) bool {
	c.mu.Lock()
	snap, ok := c.invalidateLocked(key)
	c.mu.Unlock()

	if ok {
		c.notify(key, snap)
	}
	return ok
}

// InvalidateEntity invalidates every key of entity and returns the keys that
// transitioned to Stale.
func (c *QueryCache) InvalidateEntity(entity Entity) []CacheKey {
	c.mu.Lock()
	var (
		keys  []CacheKey
		snaps []CacheEntry
	)
	for key, e := range c.entries {
		if e.Entity != entity {
			continue
		}
		if snap, ok := c.invalidateLocked(key); ok {
			keys = append(keys, key)
			snaps = append(snaps, snap)
		}
	}
	c.mu.Unlock()

	for i, key := range keys {
		c.notify(key, snaps[i])
	}
	return keys
}

func (c *QueryCache) invalidateLocked(key CacheKey) (CacheEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, false
	}

	c.gen++
	e.gen = c.gen
	c.flights.Forget(string(key))

	if e.State == StateStale {
		return CacheEntry{}, false
	}

	e.State = StateStale
	e.Err = nil
	c.bumpLocked(e)
	metrics.Invalidations.WithLabelValues(string(e.Entity)).Inc()
	return e.snapshot(), true
}

// Evict removes key from the cache. Watchers stay registered and see the
// entry again once it is refetched.
func (c *QueryCache) Evict(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.flights.Forget(string(key))
	metrics.Evictions.Inc()
}

// Watch registers fn to receive every transition of key. fn is called
// outside the cache lock and must not block. The returned function removes
// the watch.
func (c *QueryCache) Watch(key CacheKey, fn func(CacheEntry)) (cancel func()) {
	c.mu.Lock()
	c.nextWatch++
	id := c.nextWatch
	if c.watchers[key] == nil {
		c.watchers[key] = make(map[uint64]func(CacheEntry))
	}
	c.watchers[key][id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			delete(c.watchers[key], id)
			if len(c.watchers[key]) == 0 {
				delete(c.watchers, key)
			}
			if e, ok := c.entries[key]; ok {
				e.lastAccess = c.now()
			}
		})
	}
}

// Watched reports whether key has at least one watcher.
func (c *QueryCache) Watched(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watchers[key]) > 0
}

// Keys returns the keys currently cached.
func (c *QueryCache) Keys() []CacheKey {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]CacheKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of cached entries.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep evicts entries that have no watchers, are not being fetched and
// were last used more than gcTime ago. Returns the number evicted.
func (c *QueryCache) Sweep(gcTime time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-gcTime)
	evicted := 0
	for key, e := range c.entries {
		if len(c.watchers[key]) > 0 || e.State == StateFetching {
			continue
		}
		if e.lastAccess.After(cutoff) {
			continue
		}
		delete(c.entries, key)
		c.flights.Forget(string(key))
		evicted++
	}
	metrics.Evictions.Add(float64(evicted))
	return evicted
}

func (c *QueryCache) bumpLocked(e *entry) {
	c.version++
	e.Version = c.version
}

func (c *QueryCache) notify(key CacheKey, snap CacheEntry) {
	c.mu.Lock()
	fns := make([]func(CacheEntry), 0, len(c.watchers[key]))
	for _, fn := range c.watchers[key] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
