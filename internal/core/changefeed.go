package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/JonMunkholm/fluent/internal/metrics"
)

// SubscriptionHandle is one consumer's claim on an entity's change channel.
// Releasing it more than once is a no-op.
type SubscriptionHandle struct {
	id       uuid.UUID
	entity   Entity
	sub      *subscription
	released atomic.Bool
}

func (h *SubscriptionHandle) ID() uuid.UUID  { return h.id }
func (h *SubscriptionHandle) Entity() Entity { return h.entity }

// Err returns the *SubscriptionError of a channel that ended on its own, or
// nil while the channel is open or after a normal release.
func (h *SubscriptionHandle) Err() error { return h.sub.loadErr() }

type subscription struct {
	entity    Entity
	refs      int
	channel   Channel
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   *SubscriptionError
}

func (s *subscription) setErr(err *SubscriptionError) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.err = err
}

func (s *subscription) loadErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		return nil
	}
	return s.err
}

// release stops the pump and closes the backend channel, exactly once.
func (s *subscription) release() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.channel.Close()
		metrics.Subscriptions.WithLabelValues(string(s.entity)).Dec()
	})
	return err
}

// ChangeFeed keeps one backend channel per entity, shared by every handle
// subscribed to it, and forwards their notifications onto a single events
// channel.
type ChangeFeed struct {
	opener ChannelOpener
	events chan ChangeEvent
	onDrop func(Entity, error)

	opening singleflight.Group

	mu     sync.Mutex
	subs   map[Entity]*subscription
	closed bool
	wg     sync.WaitGroup
}

// NewChangeFeed creates a feed. onDrop, if set, is called with a
// *SubscriptionError when a channel ends without being released. By then
// Err reports the error on every handle of that channel.
func NewChangeFeed(opener ChannelOpener, buffer int, onDrop func(Entity, error)) *ChangeFeed {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChangeFeed{
		opener: opener,
		events: make(chan ChangeEvent, buffer),
		onDrop: onDrop,
		subs:   make(map[Entity]*subscription),
	}
}

// Events is the dispatch channel every subscribed entity's notifications
// arrive on.
func (f *ChangeFeed) Events() <-chan ChangeEvent {
	return f.events
}

// Subscribe returns a handle on entity's change channel, opening the channel
// if this is the first handle. The backend open runs without holding the
// feed lock; concurrent first subscribers share one open.
func (f *ChangeFeed) Subscribe(ctx context.Context, entity Entity) (*SubscriptionHandle, error) {
	if h, err := f.claim(entity, nil); h != nil || err != nil {
		return h, err
	}

	v, err, _ := f.opening.Do(string(entity), func() (any, error) {
		return f.open(ctx, entity)
	})
	if err != nil {
		var subErr *SubscriptionError
		if errors.As(err, &subErr) {
			return nil, err
		}
		return nil, &SubscriptionError{Entity: entity, Err: err}
	}

	h, err := f.claim(entity, v.(*subscription))
	if h == nil && err == nil {
		// Dropped between the open and the claim.
		err = &SubscriptionError{Entity: entity, Err: errors.New("channel dropped while subscribing")}
	}
	return h, err
}

// claim takes a reference on entity's current subscription. With want set it
// only claims that subscription. It returns nil, nil when there is nothing to
// claim.
func (f *ChangeFeed) claim(entity Entity, want *subscription) (*SubscriptionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, &SubscriptionError{Entity: entity, Err: ErrClosed}
	}

	sub, ok := f.subs[entity]
	if !ok || (want != nil && sub != want) {
		return nil, nil
	}
	sub.refs++
	return &SubscriptionHandle{id: uuid.New(), entity: entity, sub: sub}, nil
}

// open opens the backend channel and installs it with no references.
func (f *ChangeFeed) open(ctx context.Context, entity Entity) (*subscription, error) {
	ch, err := f.opener.OpenChannel(ctx, entity)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		_ = ch.Close()
		return nil, &SubscriptionError{Entity: entity, Err: ErrClosed}
	}
	if sub, ok := f.subs[entity]; ok {
		_ = ch.Close()
		return sub, nil
	}

	sub := &subscription{
		entity:  entity,
		channel: ch,
		done:    make(chan struct{}),
	}
	f.subs[entity] = sub
	metrics.Subscriptions.WithLabelValues(string(entity)).Inc()

	f.wg.Add(1)
	go f.pump(sub)

	slog.Info("change channel opened", "entity", entity)
	return sub, nil
}

// Unsubscribe releases a handle. The channel is closed when the last handle
// of its entity is released.
func (f *ChangeFeed) Unsubscribe(h *SubscriptionHandle) {
	if h == nil || h.released.Swap(true) {
		return
	}

	f.mu.Lock()
	sub := h.sub
	sub.refs--
	last := sub.refs <= 0 && f.subs[h.entity] == sub
	if last {
		delete(f.subs, h.entity)
	}
	f.mu.Unlock()

	if last {
		if err := sub.release(); err != nil {
			slog.Warn("closing change channel", "entity", h.entity, "error", err)
		}
		slog.Info("change channel released", "entity", h.entity)
	}
}

// RefCount returns the number of live handles on entity's channel.
func (f *ChangeFeed) RefCount(entity Entity) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sub, ok := f.subs[entity]; ok {
		return sub.refs
	}
	return 0
}

// Active reports whether entity has an open channel.
func (f *ChangeFeed) Active(entity Entity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.subs[entity]
	return ok
}

// Close releases every channel and waits for the pumps to stop.
func (f *ChangeFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*subscription, 0, len(f.subs))
	for _, sub := range f.subs {
		subs = append(subs, sub)
	}
	f.subs = make(map[Entity]*subscription)
	f.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.release(); err != nil {
			errs = append(errs, err)
		}
	}

	f.wg.Wait()
	return errors.Join(errs...)
}

func (f *ChangeFeed) pump(sub *subscription) {
	defer f.wg.Done()

	events := sub.channel.Events()
	for {
		select {
		case <-sub.done:
			return
		case ev, ok := <-events:
			if !ok {
				f.dropped(sub, sub.channel.Err())
				return
			}
			if ev.Entity == "" {
				ev.Entity = sub.entity
			}
			metrics.ChangeEvents.WithLabelValues(string(ev.Entity), string(ev.Op)).Inc()

			select {
			case f.events <- ev:
			case <-sub.done:
				return
			}
		}
	}
}

// dropped handles a channel that ended on its own.
func (f *ChangeFeed) dropped(sub *subscription, cause error) {
	f.mu.Lock()
	if f.subs[sub.entity] != sub {
		// Released by Unsubscribe or Close; the end was expected.
		f.mu.Unlock()
		return
	}
	delete(f.subs, sub.entity)
	f.mu.Unlock()

	_ = sub.release()

	if cause == nil {
		cause = errors.New("channel closed by backend")
	}
	err := &SubscriptionError{Entity: sub.entity, Err: cause}
	sub.setErr(err)
	slog.Warn("change channel dropped", "entity", sub.entity, "error", cause)

	if f.onDrop != nil {
		f.onDrop(sub.entity, err)
	}
}
