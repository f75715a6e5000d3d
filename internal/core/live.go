package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResultState is the consumer-facing state of a LiveResult.
type ResultState int

const (
	ResultIdle ResultState = iota
	ResultLoading
	ResultReady
	ResultError
	ResultClosed
)

func (s ResultState) String() string {
	switch s {
	case ResultIdle:
		return "idle"
	case ResultLoading:
		return "loading"
	case ResultReady:
		return "ready"
	case ResultError:
		return "error"
	case ResultClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of a LiveResult.
type Snapshot struct {
	ID        uuid.UUID   `json:"id"`
	Entity    Entity      `json:"entity"`
	Key       CacheKey    `json:"key"`
	State     ResultState `json:"-"`
	Rows      []Row       `json:"rows"`
	Err       error       `json:"-"`
	FetchedAt time.Time   `json:"fetchedAt"`
	Version   uint64      `json:"version"`
}

// IsLoading reports whether the snapshot was taken while a fetch was pending.
func (s Snapshot) IsLoading() bool { return s.State == ResultLoading }

// LiveResult is an open, self-refreshing view of one query. It follows the
// cache entry for its key and, for live queries, holds a subscription on the
// entity's change channel until Close.
type LiveResult struct {
	id     uuid.UUID
	layer  *DataLayer
	req    Request
	loader Loader

	mu        sync.Mutex
	state     ResultState
	rows      []Row
	fetchErr  error
	subErr    error
	fetchedAt time.Time
	version   uint64
	updates   chan struct{}
	changed   chan struct{}
	closed    bool
	unwatch   func()
	handle    *SubscriptionHandle
}

func newLiveResult(layer *DataLayer, req Request, loader Loader) *LiveResult {
	return &LiveResult{
		id:      uuid.New(),
		layer:   layer,
		req:     req,
		loader:  loader,
		state:   ResultIdle,
		updates: make(chan struct{}, 1),
		changed: make(chan struct{}),
	}
}

func (r *LiveResult) ID() uuid.UUID    { return r.id }
func (r *LiveResult) Request() Request { return r.req }
func (r *LiveResult) Key() CacheKey    { return r.req.Key }
func (r *LiveResult) Entity() Entity   { return r.req.Entity }

// Rows returns a copy of the current rows. During a refetch and after a
// failure the previously fetched rows are kept.
func (r *LiveResult) Rows() []Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneRows(r.rows)
}

// IsLoading reports whether a fetch for this result is pending.
func (r *LiveResult) IsLoading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == ResultLoading
}

// Err returns the last fetch error, or the subscription error if live
// updates stopped. Nil when neither happened.
func (r *LiveResult) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errLocked()
}

func (r *LiveResult) errLocked() error {
	if r.fetchErr != nil {
		return r.fetchErr
	}
	return r.subErr
}

func (r *LiveResult) State() ResultState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Snapshot returns every observable field at once.
func (r *LiveResult) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *LiveResult) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        r.id,
		Entity:    r.req.Entity,
		Key:       r.req.Key,
		State:     r.state,
		Rows:      cloneRows(r.rows),
		Err:       r.errLocked(),
		FetchedAt: r.fetchedAt,
		Version:   r.version,
	}
}

// Updates delivers a signal after every observable change. Signals coalesce:
// a slow reader sees one pending signal, then reads the latest state. The
// channel is closed by Close. Intended for a single reader.
func (r *LiveResult) Updates() <-chan struct{} {
	return r.updates
}

// Refetch fetches the query again, bypassing freshness. It joins a fetch
// already in flight.
func (r *LiveResult) Refetch(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.mu.Unlock()

	_, err := r.layer.cache.Refetch(ctx, r.req.Key, r.req.Entity, r.loader)
	return err
}

// Await blocks until the result is Ready or Error and returns its snapshot.
func (r *LiveResult) Await(ctx context.Context) (Snapshot, error) {
	for {
		r.mu.Lock()
		if r.closed {
			snap := r.snapshotLocked()
			r.mu.Unlock()
			return snap, ErrClosed
		}
		if r.state == ResultReady || r.state == ResultError {
			snap := r.snapshotLocked()
			r.mu.Unlock()
			return snap, nil
		}
		changed := r.changed
		r.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return r.Snapshot(), ctx.Err()
		}
	}
}

// Close stops the result. The cache entry stays for other consumers; a
// fetch that settles afterwards causes no update. Close is idempotent.
func (r *LiveResult) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.state = ResultClosed
	unwatch, handle := r.unwatch, r.handle
	r.unwatch, r.handle = nil, nil
	close(r.updates)
	close(r.changed)
	r.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	if handle != nil {
		r.layer.feed.Unsubscribe(handle)
	}
	r.layer.deregister(r)
	return nil
}

// apply folds a cache transition into the result. Snapshots older than the
// last applied one are ignored.
func (r *LiveResult) apply(entry CacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || entry.Version <= r.version {
		return
	}
	r.version = entry.Version

	switch entry.State {
	case StateFetching, StateStale:
		r.state = ResultLoading
		if entry.Rows != nil {
			r.rows = entry.Rows
		}
	case StateFresh:
		r.state = ResultReady
		r.rows = entry.Rows
		r.fetchErr = nil
		r.fetchedAt = entry.FetchedAt
	case StateFailed:
		r.state = ResultError
		if entry.Rows != nil {
			r.rows = entry.Rows
		}
		r.fetchErr = entry.Err
	}

	r.signalLocked()
}

// markLoading is used by Open when it starts the first fetch itself.
func (r *LiveResult) markLoading() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.state == ResultLoading {
		return
	}
	r.state = ResultLoading
	r.signalLocked()
}

// subscriptionDropped records the error of the result's own channel, if that
// channel ended.
func (r *LiveResult) subscriptionDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.handle == nil || r.subErr != nil {
		return
	}
	if err := r.handle.Err(); err != nil {
		r.subErr = err
		r.signalLocked()
	}
}

// subscribe claims the entity's change channel. Runs in the background so
// Open never waits on the backend.
func (r *LiveResult) subscribe(ctx context.Context) {
	h, err := r.layer.feed.Subscribe(ctx, r.req.Entity)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.layer.feed.Unsubscribe(h)
		return
	}
	if err != nil {
		r.subErr = err
		r.signalLocked()
		r.mu.Unlock()
		return
	}
	r.handle = h
	r.mu.Unlock()

	// The channel may have dropped before the handle was stored.
	r.subscriptionDropped()
}

func (r *LiveResult) signalLocked() {
	select {
	case r.updates <- struct{}{}:
	default:
	}
	close(r.changed)
	r.changed = make(chan struct{})
}
