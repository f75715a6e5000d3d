package core_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/views"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// A live inventory query settles with the backend rows and the
// low-stock view over them returns the same row.
func TestOpen_InventoryWithLowStockView(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityInventory, core.Row{"id": "1", "quantity": 5, "reorder_point": 10})
	release := b.hold()
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityInventory))
	require.NoError(t, err)
	defer res.Close()

	assert.True(t, res.IsLoading())
	assert.Empty(t, res.Rows())
	release()

	snap := awaitReady(t, res)
	assert.Equal(t, core.ResultReady, snap.State)
	require.Len(t, snap.Rows, 1)
	assert.NoError(t, snap.Err)

	low := views.LowStock(snap.Rows)
	if diff := cmp.Diff(snap.Rows, low); diff != "" {
		t.Errorf("LowStock mismatch (-rows +low):\n%s", diff)
	}
}

// Concurrent opens of one descriptor share a single backend call.
func TestOpen_ConcurrentOpensShareOneFetch(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders,
		core.Row{"id": "o-1", "status": "open"},
		core.Row{"id": "o-2", "status": "open"},
	)
	release := b.hold()
	layer := newLayer(t, b)

	desc := core.NewQuery(core.EntityOrders).Where("status", "open")

	results := make([]*core.LiveResult, 2)
	var wg sync.WaitGroup
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := layer.Open(context.Background(), desc)
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		defer res.Close()
		assert.True(t, res.IsLoading())
	}

	release()

	a := awaitReady(t, results[0])
	c := awaitReady(t, results[1])

	assert.Equal(t, 1, b.queryCount(core.EntityOrders))
	assert.Len(t, a.Rows, 2)
	if diff := cmp.Diff(a.Rows, c.Rows); diff != "" {
		t.Errorf("consumers saw different rows (-a +b):\n%s", diff)
	}
}

// A change notification for orders takes every orders entry
// through Stale, Fetching and back to Fresh; other entities are untouched.
func TestChangeNotification_RefetchesOnlyThatEntity(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders,
		core.Row{"id": "o-1", "status": "open"},
		core.Row{"id": "o-2", "status": "completed"},
	)
	b.setRows(core.EntityInventory, core.Row{"id": "i-1", "quantity": 50, "reorder_point": 30})
	layer := newLayer(t, b)
	ctx := context.Background()

	all, err := layer.Open(ctx, core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	defer all.Close()
	open, err := layer.Open(ctx, core.NewQuery(core.EntityOrders).Where("status", "open"))
	require.NoError(t, err)
	defer open.Close()
	inv, err := layer.Open(ctx, core.NewQuery(core.EntityInventory))
	require.NoError(t, err)
	defer inv.Close()

	awaitReady(t, all)
	awaitReady(t, open)
	invBefore := awaitReady(t, inv)

	require.Eventually(t, func() bool {
		return layer.Feed().RefCount(core.EntityOrders) == 2 && layer.Feed().RefCount(core.EntityInventory) == 1
	}, waitFor, tick)

	recs := map[core.CacheKey]*transitions{}
	for _, res := range []*core.LiveResult{all, open} {
		rec := &transitions{}
		recs[res.Key()] = rec
		cancel := layer.Cache().Watch(res.Key(), rec.record)
		defer cancel()
	}

	ordersBefore := b.queryCount(core.EntityOrders)
	invQueries := b.queryCount(core.EntityInventory)

	b.setRows(core.EntityOrders,
		core.Row{"id": "o-1", "status": "open"},
		core.Row{"id": "o-2", "status": "completed"},
		core.Row{"id": "o-3", "status": "open"},
	)
	b.emit(core.EntityOrders, core.ChangeInsert)

	require.Eventually(t, func() bool {
		return all.State() == core.ResultReady && len(all.Rows()) == 3 &&
			open.State() == core.ResultReady && len(open.Rows()) == 2
	}, waitFor, tick)

	assert.Equal(t, ordersBefore+2, b.queryCount(core.EntityOrders))
	for key, rec := range recs {
		assert.Equal(t, []core.EntryState{core.StateStale, core.StateFetching, core.StateFresh}, rec.states(), key)
	}

	assert.Equal(t, invQueries, b.queryCount(core.EntityInventory))
	invEntry, ok := layer.Cache().Get(inv.Key())
	require.True(t, ok)
	assert.Equal(t, core.StateFresh, invEntry.State)
	assert.Equal(t, invBefore.Version, inv.Snapshot().Version)
}

// A failed fetch sets the error and keeps the previous rows.
func TestFetchFailure_KeepsPreviousRows(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	defer res.Close()
	before := awaitReady(t, res)

	netErr := errors.New("read tcp 10.0.0.2:5432: connection reset by peer")
	b.failWith(netErr)

	err = res.Refetch(context.Background())
	require.ErrorIs(t, err, core.ErrFetch)

	require.Eventually(t, func() bool { return res.State() == core.ResultError }, waitFor, tick)
	assert.ErrorIs(t, res.Err(), core.ErrFetch)
	assert.ErrorIs(t, res.Err(), netErr)
	assert.Equal(t, before.Rows, res.Rows())

	// Error -> Loading -> Ready on a successful retry.
	b.failWith(nil)
	require.NoError(t, res.Refetch(context.Background()))
	require.Eventually(t, func() bool { return res.State() == core.ResultReady }, waitFor, tick)
	assert.NoError(t, res.Err())
}

func TestFetchFailure_WithoutPreviousRows(t *testing.T) {
	b := newFakeBackend()
	b.failWith(errors.New("dial tcp: connection refused"))
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	defer res.Close()

	snap := awaitReady(t, res)
	assert.Equal(t, core.ResultError, snap.State)
	assert.ErrorIs(t, snap.Err, core.ErrFetch)
	assert.Empty(t, snap.Rows)
	assert.Equal(t, "DB004", core.MapError(snap.Err).Code)
}

// Closing before the fetch settles produces no update and no error.
func TestClose_BeforeFetchSettles(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	release := b.hold()
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	require.NoError(t, res.Close())

	release()
	require.Eventually(t, func() bool { return layer.Cache().IsFresh(res.Key()) }, waitFor, tick)

	assert.Equal(t, core.ResultClosed, res.State())
	assert.Empty(t, res.Rows())
	assert.NoError(t, res.Err())
	assert.Equal(t, 0, layer.OpenResults())

	_, err = res.Await(context.Background())
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.ErrorIs(t, res.Refetch(context.Background()), core.ErrClosed)

	// The closed result released its subscription; the entry stays cached.
	require.Eventually(t, func() bool { return layer.Feed().RefCount(core.EntityOrders) == 0 }, waitFor, tick)
	_, ok := layer.Cache().Get(res.Key())
	assert.True(t, ok)
}

func TestOpen_InvalidDescriptorFailsSynchronously(t *testing.T) {
	layer := newLayer(t, newFakeBackend())

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders).Where("status", []string{"open"}))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, core.ErrInvalidFilter)
	assert.Equal(t, 0, layer.OpenResults())
}

func TestOpen_FreshEntryIsReadyImmediately(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	layer := newLayer(t, b)
	ctx := context.Background()

	first, err := layer.Open(ctx, core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	defer first.Close()
	awaitReady(t, first)

	second, err := layer.Open(ctx, core.NewQuery(core.EntityOrders).Select("id"))
	require.NoError(t, err)
	defer second.Close()

	assert.False(t, second.IsLoading())
	assert.Equal(t, core.ResultReady, second.State())
	assert.Len(t, second.Rows(), 1)
	assert.Equal(t, 1, b.queryCount(core.EntityOrders))
}

func TestClose_ReleasesChannelOnce(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	layer := newLayer(t, b)
	ctx := context.Background()

	a, err := layer.Open(ctx, core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	c, err := layer.Open(ctx, core.NewQuery(core.EntityOrders).Where("status", "open"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return layer.Feed().RefCount(core.EntityOrders) == 2 }, waitFor, tick)
	ch := b.channel(core.EntityOrders)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, int32(0), ch.closeCalls.Load())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), ch.closeCalls.Load())
	assert.Equal(t, 1, b.openCount(core.EntityOrders))
}

func TestSubscriptionDrop_SurfacesErrorAndKeepsRows(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityCustomers, core.Row{"id": "c-1", "email": "maria@example.com"})
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityCustomers))
	require.NoError(t, err)
	defer res.Close()
	awaitReady(t, res)

	require.Eventually(t, func() bool { return b.channel(core.EntityCustomers) != nil }, waitFor, tick)
	b.channel(core.EntityCustomers).drop(errors.New("replication slot lost"))

	require.Eventually(t, func() bool { return errors.Is(res.Err(), core.ErrSubscription) }, waitFor, tick)
	assert.Equal(t, core.ResultReady, res.State())
	assert.Len(t, res.Rows(), 1)
}

func TestSubscriptionDrop_LeavesNonLiveResultsAlone(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityCustomers, core.Row{"id": "c-1", "email": "maria@example.com"})
	layer := newLayer(t, b)
	ctx := context.Background()

	live, err := layer.Open(ctx, core.NewQuery(core.EntityCustomers))
	require.NoError(t, err)
	defer live.Close()
	once, err := layer.Open(ctx, core.NewQuery(core.EntityCustomers).Live(false))
	require.NoError(t, err)
	defer once.Close()

	awaitReady(t, live)
	awaitReady(t, once)
	require.Eventually(t, func() bool { return layer.Feed().RefCount(core.EntityCustomers) == 1 }, waitFor, tick)

	b.channel(core.EntityCustomers).drop(errors.New("replication slot lost"))

	require.Eventually(t, func() bool { return errors.Is(live.Err(), core.ErrSubscription) }, waitFor, tick)
	assert.NoError(t, once.Err())
	assert.Equal(t, core.ResultReady, once.State())
}

func TestOpen_SubscriptionFailureDoesNotBlockRows(t *testing.T) {
	b := newFakeBackend()
	b.openErr = errors.New("too many listeners")
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	defer res.Close()

	awaitReady(t, res)
	require.Eventually(t, func() bool { return errors.Is(res.Err(), core.ErrSubscription) }, waitFor, tick)
	assert.Len(t, res.Rows(), 1)
}

func TestOpen_NonLiveQueryDoesNotSubscribe(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders).Live(false))
	require.NoError(t, err)
	defer res.Close()

	awaitReady(t, res)
	assert.Equal(t, 0, b.openCount(core.EntityOrders))
}

func TestUpdates_SignalsTransitions(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	require.NoError(t, err)

	deadline := time.After(waitFor)
	for res.State() != core.ResultReady {
		select {
		case <-res.Updates():
		case <-deadline:
			t.Fatal("never became ready")
		}
	}

	require.NoError(t, res.Close())
	for range res.Updates() {
		// drain; the channel is closed by Close
	}
}

func TestMutate_InvalidatesOpenResults(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityCustomers, core.Row{"id": "c-1", "gdpr_consent": false})
	layer := core.NewDataLayer(b, core.Options{Realtime: false})
	t.Cleanup(func() { _ = layer.Close() })
	ctx := context.Background()

	res, err := layer.Open(ctx, core.NewQuery(core.EntityCustomers))
	require.NoError(t, err)
	defer res.Close()
	awaitReady(t, res)

	err = layer.Mutate(ctx, core.EntityCustomers, map[string]any{"gdpr_consent": true}, map[string]any{"id": "c-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows := res.Rows()
		return res.State() == core.ResultReady && len(rows) == 1 && rows[0]["gdpr_consent"] == true
	}, waitFor, tick)
}

func TestMutate_Rejects(t *testing.T) {
	layer := newLayer(t, newFakeBackend())
	ctx := context.Background()

	tests := []struct {
		name    string
		entity  core.Entity
		changes map[string]any
		match   map[string]any
	}{
		{"unknown entity", "widgets", map[string]any{"a": 1}, map[string]any{"id": "1"}},
		{"read-only entity", core.EntityAuditLogs, map[string]any{"action": "x"}, map[string]any{"id": "1"}},
		{"no changes", core.EntityOrders, nil, map[string]any{"id": "1"}},
		{"no match", core.EntityOrders, map[string]any{"status": "open"}, nil},
		{"unknown change column", core.EntityOrders, map[string]any{"colour": "red"}, map[string]any{"id": "1"}},
		{"bad match value", core.EntityOrders, map[string]any{"status": "open"}, map[string]any{"id": []int{1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := layer.Mutate(ctx, tt.entity, tt.changes, tt.match)
			assert.ErrorIs(t, err, core.ErrInvalidFilter)
		})
	}
}

func TestRowValidation_RejectsMalformedRows(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"status": "open"})
	layer := newLayer(t, b)

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	defer res.Close()

	snap := awaitReady(t, res)
	assert.Equal(t, core.ResultError, snap.State)
	assert.ErrorIs(t, snap.Err, core.ErrFetch)
	assert.Equal(t, "FET001", core.MapError(snap.Err).Code)
}

func TestDataLayer_Close(t *testing.T) {
	b := newFakeBackend()
	b.setRows(core.EntityOrders, core.Row{"id": "o-1", "status": "open"})
	layer := core.NewDataLayer(b, core.Options{Realtime: true})

	res, err := layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	require.NoError(t, err)
	awaitReady(t, res)

	require.NoError(t, layer.Close())
	assert.Equal(t, core.ResultClosed, res.State())

	_, err = layer.Open(context.Background(), core.NewQuery(core.EntityOrders))
	assert.ErrorIs(t, err, core.ErrClosed)
}

// transitions records cache transitions for one key.
type transitions struct {
	mu      sync.Mutex
	entries []core.CacheEntry
}

func (r *transitions) record(e core.CacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *transitions) states() []core.EntryState {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := append([]core.CacheEntry(nil), r.entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	out := make([]core.EntryState, len(sorted))
	for i, e := range sorted {
		out[i] = e.State
	}
	return out
}
