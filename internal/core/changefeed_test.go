package core_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fluent/internal/core"
)

func TestChangeFeed_OneChannelPerEntity(t *testing.T) {
	b := newFakeBackend()
	feed := core.NewChangeFeed(b, 8, nil)
	defer feed.Close()
	ctx := context.Background()

	h1, err := feed.Subscribe(ctx, core.EntityOrders)
	require.NoError(t, err)
	h2, err := feed.Subscribe(ctx, core.EntityOrders)
	require.NoError(t, err)

	assert.NotEqual(t, h1.ID(), h2.ID())
	assert.Equal(t, 1, b.openCount(core.EntityOrders))
	assert.Equal(t, 2, feed.RefCount(core.EntityOrders))

	ch := b.channel(core.EntityOrders)

	feed.Unsubscribe(h1)
	assert.True(t, feed.Active(core.EntityOrders))
	assert.Equal(t, int32(0), ch.closeCalls.Load())

	feed.Unsubscribe(h2)
	assert.False(t, feed.Active(core.EntityOrders))
	assert.Equal(t, int32(1), ch.closeCalls.Load())
}

func TestChangeFeed_OverUnsubscribeReleasesOnce(t *testing.T) {
	b := newFakeBackend()
	feed := core.NewChangeFeed(b, 8, nil)
	defer feed.Close()

	h, err := feed.Subscribe(context.Background(), core.EntityOrders)
	require.NoError(t, err)
	ch := b.channel(core.EntityOrders)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed.Unsubscribe(h)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ch.closeCalls.Load())
	assert.Equal(t, 0, feed.RefCount(core.EntityOrders))

	// A fresh subscriber opens a new channel; the old one stays released.
	h2, err := feed.Subscribe(context.Background(), core.EntityOrders)
	require.NoError(t, err)
	assert.Equal(t, 2, b.openCount(core.EntityOrders))
	assert.Equal(t, 1, feed.RefCount(core.EntityOrders))

	feed.Unsubscribe(h)
	assert.Equal(t, 1, feed.RefCount(core.EntityOrders), "stale handle must not release the new channel")

	feed.Unsubscribe(h2)
	assert.Equal(t, int32(1), ch.closeCalls.Load())
}

func TestChangeFeed_ForwardsEvents(t *testing.T) {
	b := newFakeBackend()
	feed := core.NewChangeFeed(b, 8, nil)
	defer feed.Close()

	_, err := feed.Subscribe(context.Background(), core.EntityInventory)
	require.NoError(t, err)

	b.emit(core.EntityInventory, core.ChangeUpdate)

	select {
	case ev := <-feed.Events():
		assert.Equal(t, core.EntityInventory, ev.Entity)
		assert.Equal(t, core.ChangeUpdate, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("no event forwarded")
	}
}

func TestChangeFeed_DroppedChannel(t *testing.T) {
	b := newFakeBackend()

	dropped := make(chan error, 1)
	feed := core.NewChangeFeed(b, 8, func(entity core.Entity, err error) {
		assert.Equal(t, core.EntityCustomers, entity)
		dropped <- err
	})
	defer feed.Close()

	h, err := feed.Subscribe(context.Background(), core.EntityCustomers)
	require.NoError(t, err)

	cause := errors.New("socket closed")
	ch := b.channel(core.EntityCustomers)
	ch.drop(cause)

	select {
	case err := <-dropped:
		assert.ErrorIs(t, err, core.ErrSubscription)
		assert.ErrorIs(t, err, cause)
	case <-time.After(time.Second):
		t.Fatal("drop not reported")
	}

	assert.False(t, feed.Active(core.EntityCustomers))

	feed.Unsubscribe(h)
	assert.Equal(t, int32(1), ch.closeCalls.Load())
}

func TestChangeFeed_OpenFailure(t *testing.T) {
	b := newFakeBackend()
	b.openErr = errors.New("permission denied for channel")
	feed := core.NewChangeFeed(b, 8, nil)
	defer feed.Close()

	h, err := feed.Subscribe(context.Background(), core.EntityOrders)
	assert.Nil(t, h)
	assert.ErrorIs(t, err, core.ErrSubscription)
	assert.False(t, feed.Active(core.EntityOrders))
}

func TestChangeFeed_Close(t *testing.T) {
	b := newFakeBackend()
	feed := core.NewChangeFeed(b, 8, nil)
	ctx := context.Background()

	h, err := feed.Subscribe(ctx, core.EntityOrders)
	require.NoError(t, err)
	_, err = feed.Subscribe(ctx, core.EntityInventory)
	require.NoError(t, err)

	require.NoError(t, feed.Close())
	assert.Equal(t, int32(1), b.channel(core.EntityOrders).closeCalls.Load())
	assert.Equal(t, int32(1), b.channel(core.EntityInventory).closeCalls.Load())

	feed.Unsubscribe(h)
	assert.Equal(t, int32(1), b.channel(core.EntityOrders).closeCalls.Load())

	_, err = feed.Subscribe(ctx, core.EntityOrders)
	assert.ErrorIs(t, err, core.ErrSubscription)
}

func TestChangeFeed_SlowOpenDoesNotBlockOtherEntities(t *testing.T) {
	b := newFakeBackend()
	feed := core.NewChangeFeed(b, 8, nil)
	defer feed.Close()
	ctx := context.Background()

	release := b.holdOpen(core.EntityOrders)
	defer release()

	type result struct {
		h   *core.SubscriptionHandle
		err error
	}
	opened := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			h, err := feed.Subscribe(ctx, core.EntityOrders)
			opened <- result{h, err}
		}()
	}
	require.Eventually(t, func() bool { return b.openAttempts(core.EntityOrders) == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h, err := feed.Subscribe(ctx, core.EntityCustomers)
		assert.NoError(t, err)
		assert.Equal(t, 1, feed.RefCount(core.EntityCustomers))
		assert.False(t, feed.Active(core.EntityOrders))

		b.emit(core.EntityCustomers, core.ChangeInsert)
		ev := <-feed.Events()
		assert.Equal(t, core.EntityCustomers, ev.Entity)

		feed.Unsubscribe(h)
		assert.Equal(t, 0, feed.RefCount(core.EntityCustomers))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("customers subscription blocked behind the orders open")
	}

	release()
	for i := 0; i < 2; i++ {
		r := <-opened
		require.NoError(t, r.err)
		require.NotNil(t, r.h)
	}

	assert.Equal(t, 1, b.openAttempts(core.EntityOrders), "concurrent first subscribers share one open")
	assert.Equal(t, 1, b.openCount(core.EntityOrders))
	assert.Equal(t, 2, feed.RefCount(core.EntityOrders))
}

func TestChangeFeed_CloseDuringOpen(t *testing.T) {
	b := newFakeBackend()
	feed := core.NewChangeFeed(b, 8, nil)

	release := b.holdOpen(core.EntityOrders)
	errs := make(chan error, 1)
	go func() {
		_, err := feed.Subscribe(context.Background(), core.EntityOrders)
		errs <- err
	}()
	require.Eventually(t, func() bool { return b.openAttempts(core.EntityOrders) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, feed.Close())
	release()

	err := <-errs
	assert.ErrorIs(t, err, core.ErrSubscription)
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.Equal(t, int32(1), b.channel(core.EntityOrders).closeCalls.Load())
}

func TestSubscriptionHandle_Err(t *testing.T) {
	b := newFakeBackend()
	dropped := make(chan struct{})
	feed := core.NewChangeFeed(b, 8, func(core.Entity, error) { close(dropped) })
	defer feed.Close()

	h, err := feed.Subscribe(context.Background(), core.EntityCustomers)
	require.NoError(t, err)
	assert.NoError(t, h.Err())

	b.channel(core.EntityCustomers).drop(errors.New("replication slot lost"))
	<-dropped

	assert.ErrorIs(t, h.Err(), core.ErrSubscription)
}
