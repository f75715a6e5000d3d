package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/fluent/internal/logging"
	"github.com/JonMunkholm/fluent/internal/metrics"
)

// Options configures a DataLayer. Zero values select the defaults.
type Options struct {
	StaleTime          time.Duration // Fresh entries older than this are refetched (default: 5m, negative: never)
	EventBuffer        int           // Dispatch channel capacity (default: 256)
	RefetchConcurrency int           // Parallel refetches after an invalidation (default: 4)
	Realtime           bool          // Open change channels for live queries
}

const (
	defaultStaleTime          = 5 * time.Minute
	defaultEventBuffer        = 256
	defaultRefetchConcurrency = 4
)

func (o Options) withDefaults() Options {
	if o.StaleTime == 0 {
		o.StaleTime = defaultStaleTime
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	if o.RefetchConcurrency <= 0 {
		o.RefetchConcurrency = defaultRefetchConcurrency
	}
	return o
}

// DataLayer owns the query cache and the change feed for one backend. It is
// created once per process and shared by every consumer.
type DataLayer struct {
	backend Backend
	cache   *QueryCache
	feed    *ChangeFeed
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	results map[uuid.UUID]*LiveResult
	closed  bool
}

// NewDataLayer creates a data layer over backend and starts its dispatch
// loop. Call Close to stop it.
func NewDataLayer(backend Backend, opts Options) *DataLayer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	l := &DataLayer{
		backend: backend,
		cache:   NewQueryCache(opts.StaleTime),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
		results: make(map[uuid.UUID]*LiveResult),
	}
	l.feed = NewChangeFeed(backend, opts.EventBuffer, l.subscriptionDropped)

	l.wg.Add(1)
	go l.dispatch()

	return l
}

// Cache exposes the query cache, mainly for the janitor and diagnostics.
func (l *DataLayer) Cache() *QueryCache { return l.cache }

// Feed exposes the change feed.
func (l *DataLayer) Feed() *ChangeFeed { return l.feed }

// Backend returns the backend the layer reads from.
func (l *DataLayer) Backend() Backend { return l.backend }

// Open returns a live result for d. It never waits for the backend: the
// result starts out loading unless a fresh entry is already cached. Only a
// malformed descriptor fails synchronously, with *InvalidFilterError.
func (l *DataLayer) Open(ctx context.Context, d QueryDescriptor) (*LiveResult, error) {
	req, err := Build(d)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	r := newLiveResult(l, req, l.loaderFor(req))
	l.results[r.id] = r
	l.mu.Unlock()
	metrics.LiveResults.Inc()

	unwatch := l.cache.Watch(req.Key, r.apply)
	r.mu.Lock()
	if r.closed {
		// Closed by DataLayer.Close while opening.
		r.mu.Unlock()
		unwatch()
		return nil, ErrClosed
	}
	r.unwatch = unwatch
	r.mu.Unlock()

	if entry, ok := l.cache.Get(req.Key); ok {
		r.apply(entry)
	}

	if req.Live && l.opts.Realtime {
		l.goTracked(func() { r.subscribe(l.ctx) })
	}

	if !l.cache.IsFresh(req.Key) {
		r.markLoading()
		l.goTracked(func() {
			// Errors are recorded in the cache entry and reach r through apply.
			_, _ = l.cache.Fetch(l.ctx, req.Key, req.Entity, r.loader)
		})
	}

	logging.WithFields(ctx, "entity", req.Entity, "key", req.Key, "result", r.id).
		Debug("live result opened", "live", req.Live)

	return r, nil
}

// Query reads d once through the cache: a fresh entry is returned as is,
// otherwise it joins or starts the fetch for d's key.
func (l *DataLayer) Query(ctx context.Context, d QueryDescriptor) ([]Row, error) {
	req, err := Build(d)
	if err != nil {
		return nil, err
	}
	return l.cache.Fetch(ctx, req.Key, req.Entity, l.loaderFor(req))
}

// Mutate updates every row of entity matching match, then invalidates the
// entity's cached queries so open results refetch without waiting for the
// change feed.
func (l *DataLayer) Mutate(ctx context.Context, entity Entity, changes map[string]any, match map[string]any) error {
	def, ok := Lookup(entity)
	if !ok {
		return &InvalidFilterError{Entity: entity, Reason: "unknown entity"}
	}
	if def.ReadOnly {
		return &InvalidFilterError{Entity: entity, Reason: "entity is read-only"}
	}
	if len(changes) == 0 {
		return &InvalidFilterError{Entity: entity, Reason: "no changes given"}
	}
	if len(match) == 0 {
		return &InvalidFilterError{Entity: entity, Reason: "update without a match would change every row"}
	}

	req, err := Build(NewQuery(entity).WhereAll(match))
	if err != nil {
		return err
	}
	for col := range changes {
		if _, ok := def.Column(col); !ok {
			return &InvalidFilterError{Entity: entity, Field: col, Reason: "unknown column"}
		}
	}

	if err := l.backend.Mutate(ctx, entity, changes, req.Filters); err != nil {
		return fmt.Errorf("mutate %s: %w", entity, err)
	}

	l.invalidate(entity)
	return nil
}

// CallProcedure invokes a backend procedure.
func (l *DataLayer) CallProcedure(ctx context.Context, name string, args map[string]any) (any, error) {
	return l.backend.CallProcedure(ctx, name, args)
}

// Close closes every open result, releases all change channels and waits
// for background fetches to finish.
func (l *DataLayer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	results := make([]*LiveResult, 0, len(l.results))
	for _, r := range l.results {
		results = append(results, r)
	}
	l.mu.Unlock()

	for _, r := range results {
		_ = r.Close()
	}

	l.cancel()
	err := l.feed.Close()
	l.wg.Wait()
	return err
}

// OpenResults returns the number of live results not yet closed.
func (l *DataLayer) OpenResults() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

func (l *DataLayer) deregister(r *LiveResult) {
	l.mu.Lock()
	_, ok := l.results[r.id]
	delete(l.results, r.id)
	l.mu.Unlock()

	if ok {
		metrics.LiveResults.Dec()
	}
}

// dispatch turns change notifications into invalidations. It is the only
// reader of the feed's events channel.
func (l *DataLayer) dispatch() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case ev := <-l.feed.Events():
			if !l.feed.Active(ev.Entity) {
				// Late notification for a released entity.
				continue
			}
			slog.Debug("change received", "entity", ev.Entity, "op", ev.Op)
			l.invalidate(ev.Entity)
		}
	}
}

// invalidate marks every key of entity stale and refetches the ones that
// still have an open result. Unwatched keys stay stale until next read.
func (l *DataLayer) invalidate(entity Entity) {
	keys := l.cache.InvalidateEntity(entity)

	watched := keys[:0]
	for _, key := range keys {
		if l.cache.Watched(key) {
			watched = append(watched, key)
		}
	}
	if len(watched) == 0 {
		return
	}

	l.goTracked(func() {
		g, ctx := errgroup.WithContext(l.ctx)
		g.SetLimit(l.opts.RefetchConcurrency)
		for _, key := range watched {
			key := key
			g.Go(func() error {
				if _, err := l.cache.Fetch(ctx, key, entity, nil); err != nil {
					slog.Debug("refetch after invalidation failed", "entity", entity, "key", key, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
	})
}

// goTracked runs fn in a goroutine that Close waits for. Nothing is started
// once the layer is closed.
func (l *DataLayer) goTracked(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
}

// subscriptionDropped marks the results that held a handle on the dropped
// channel. Results that never subscribed keep their state.
func (l *DataLayer) subscriptionDropped(entity Entity, _ error) {
	l.mu.Lock()
	affected := make([]*LiveResult, 0)
	for _, r := range l.results {
		if r.req.Entity == entity {
			affected = append(affected, r)
		}
	}
	l.mu.Unlock()

	for _, r := range affected {
		r.subscriptionDropped()
	}
}

// loaderFor builds the backend read for req. Full-row reads are checked
// against the entity's validator before they reach the cache.
func (l *DataLayer) loaderFor(req Request) Loader {
	return func(ctx context.Context) ([]Row, error) {
		start := time.Now()
		rows, err := l.backend.Query(ctx, req.Entity, req.Columns, req.Filters)
		metrics.FetchDuration.WithLabelValues(string(req.Entity)).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.Fetches.WithLabelValues(string(req.Entity), "error").Inc()
			return nil, err
		}

		if def, ok := Lookup(req.Entity); ok && def.Validate != nil && selectsAll(req.Columns) {
			for i, row := range rows {
				if err := def.Validate(row); err != nil {
					metrics.Fetches.WithLabelValues(string(req.Entity), "rejected").Inc()
					return nil, fmt.Errorf("row rejected at index %d: %w", i, err)
				}
			}
		}

		metrics.Fetches.WithLabelValues(string(req.Entity), "ok").Inc()
		return rows, nil
	}
}

func selectsAll(columns []string) bool {
	return len(columns) == 1 && columns[0] == "*"
}
