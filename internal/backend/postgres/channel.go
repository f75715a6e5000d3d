package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/fluent/internal/core"
)

// ChannelName returns the notification channel of an entity.
func ChannelName(prefix string, entity core.Entity) string {
	return prefix + "_" + string(entity)
}

// OpenChannel holds one pooled connection in LISTEN mode until the channel
// is closed.
func (b *Backend) OpenChannel(ctx context.Context, entity core.Entity) (core.Channel, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}

	name := ChannelName(b.prefix, entity)
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{name}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen %s: %w", name, err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	ch := &listener{
		entity: entity,
		name:   name,
		conn:   conn,
		events: make(chan core.ChangeEvent, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ch.run(listenCtx)

	slog.Debug("listening for changes", "entity", entity, "channel", name)
	return ch, nil
}

// listener is a core.Channel over LISTEN/NOTIFY.
type listener struct {
	entity core.Entity
	name   string
	conn   *pgxpool.Conn
	events chan core.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func (l *listener) Events() <-chan core.ChangeEvent { return l.events }

func (l *listener) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Close stops listening and returns the connection to the pool. The
// connection was interrupted mid-wait, so the pool discards it.
func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		<-l.done
	})
	return nil
}

func (l *listener) run(ctx context.Context) {
	defer close(l.done)
	defer l.conn.Release()
	defer close(l.events)

	for {
		n, err := l.conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				l.mu.Lock()
				l.err = fmt.Errorf("wait for notification on %s: %w", l.name, err)
				l.mu.Unlock()
				slog.Warn("change channel dropped", "entity", l.entity, "error", err)
			}
			return
		}
		if n.Channel != l.name {
			continue
		}

		select {
		case l.events <- core.ChangeEvent{Entity: l.entity, Op: parseOp(n.Payload), At: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// parseOp reads the operation from a notification payload. The triggers
// send TG_OP; anything else counts as an update.
func parseOp(payload string) core.ChangeOp {
	switch op := core.ChangeOp(strings.ToUpper(strings.TrimSpace(payload))); op {
	case core.ChangeInsert, core.ChangeUpdate, core.ChangeDelete:
		return op
	default:
		return core.ChangeUpdate
	}
}
