package memory

import (
	"sync"

	"github.com/JonMunkholm/fluent/internal/core"
)

// subscriber receives change events for one topic.
// Send must not block the publisher.
type subscriber interface {
	Send(ev core.ChangeEvent)
}

// broker is an in-memory topic broker with one topic per entity: fan-out on
// publish, per-topic ordering.
type broker struct {
	mu     sync.RWMutex
	topics map[core.Entity]map[subscriber]struct{}
}

func newBroker() *broker {
	return &broker{topics: make(map[core.Entity]map[subscriber]struct{})}
}

// Subscribe adds a subscriber to the topic, creating the topic if needed.
func (b *broker) Subscribe(topic core.Entity, sub subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[subscriber]struct{})
	}
	b.topics[topic][sub] = struct{}{}
}

// Unsubscribe removes a subscriber from a topic. Empty topics are dropped.
func (b *broker) Unsubscribe(topic core.Entity, sub subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs := b.topics[topic]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, topic)
		}
	}
}

// Publish delivers ev to every subscriber of ev.Entity.
func (b *broker) Publish(ev core.ChangeEvent) {
	b.mu.RLock()
	subs := b.topics[ev.Entity]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	// Copy subscriber set so we don't hold the lock while sending
	list := make([]subscriber, 0, len(subs))
	for sub := range subs {
		list = append(list, sub)
	}
	b.mu.RUnlock()

	for _, sub := range list {
		sub.Send(ev)
	}
}

// SubscriberCount returns the number of subscribers for a topic.
func (b *broker) SubscriberCount(topic core.Entity) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// channel is a core.Channel fed by the broker.
type channel struct {
	entity  core.Entity
	broker  *broker
	release func()

	mu     sync.Mutex
	events chan core.ChangeEvent
	closed bool
	err    error
}

func newChannel(entity core.Entity, b *broker, buffer int) *channel {
	return &channel{
		entity: entity,
		broker: b,
		events: make(chan core.ChangeEvent, buffer),
	}
}

// Send queues ev without blocking. When the buffer is full an invalidation
// is already pending, so the event can be dropped.
func (c *channel) Send(ev core.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *channel) Events() <-chan core.ChangeEvent { return c.events }

func (c *channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *channel) Close() error {
	c.end(nil)
	return nil
}

// end unsubscribes and closes the event stream once, recording err as the
// reason.
func (c *channel) end(err error) {
	c.broker.Unsubscribe(c.entity, c)
	if c.release != nil {
		c.release()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.events)
}
