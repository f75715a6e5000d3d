package core_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/fluent/internal/core"
)

// fakeBackend is a scripted core.Backend. Queries can be held on a gate,
// made to fail, and counted per entity; channels can emit and be dropped.
type fakeBackend struct {
	mu        sync.Mutex
	rows      map[core.Entity][]core.Row
	queryErr  error
	gate      chan struct{}
	queries   map[core.Entity]int
	channels  map[core.Entity][]*fakeChannel
	openErr   error
	openGates map[core.Entity]chan struct{}
	opening   map[core.Entity]int
	procCalls []procCall
	procs     map[string]func(map[string]any) (any, error)
}

type procCall struct {
	Name string
	Args map[string]any
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		rows:      make(map[core.Entity][]core.Row),
		queries:   make(map[core.Entity]int),
		channels:  make(map[core.Entity][]*fakeChannel),
		procs:     make(map[string]func(map[string]any) (any, error)),
		openGates: make(map[core.Entity]chan struct{}),
		opening:   make(map[core.Entity]int),
	}
}

func (b *fakeBackend) setRows(entity core.Entity, rows ...core.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rows[entity] = rows
}

func (b *fakeBackend) failWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryErr = err
}

// hold blocks every query until the returned function is called.
func (b *fakeBackend) hold() (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.gate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

func (b *fakeBackend) queryCount(entity core.Entity) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries[entity]
}

func (b *fakeBackend) Query(ctx context.Context, entity core.Entity, columns []string, filters []core.Filter) ([]core.Row, error) {
	b.mu.Lock()
	b.queries[entity]++
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.queryErr != nil {
		return nil, b.queryErr
	}

	var out []core.Row
	for _, row := range b.rows[entity] {
		if matches(row, filters) {
			out = append(out, row.Clone())
		}
	}
	return out, nil
}

func (b *fakeBackend) Mutate(ctx context.Context, entity core.Entity, changes map[string]any, match []core.Filter) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, row := range b.rows[entity] {
		if !matches(row, match) {
			continue
		}
		for k, v := range changes {
			row[k] = v
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("update %s: %w", entity, core.ErrNoRows)
	}
	return nil
}

func (b *fakeBackend) CallProcedure(ctx context.Context, name string, args map[string]any) (any, error) {
	b.mu.Lock()
	b.procCalls = append(b.procCalls, procCall{Name: name, Args: args})
	fn := b.procs[name]
	b.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("function %s does not exist", name)
	}
	return fn(args)
}

// holdOpen blocks OpenChannel for entity until the returned function is called.
func (b *fakeBackend) holdOpen(entity core.Entity) (release func()) {
	gate := make(chan struct{})
	b.mu.Lock()
	b.openGates[entity] = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.openGates, entity)
			b.mu.Unlock()
			close(gate)
		})
	}
}

// openAttempts counts OpenChannel calls for entity, including held ones.
func (b *fakeBackend) openAttempts(entity core.Entity) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opening[entity]
}

func (b *fakeBackend) OpenChannel(ctx context.Context, entity core.Entity) (core.Channel, error) {
	b.mu.Lock()
	b.opening[entity]++
	gate := b.openGates[entity]
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openErr != nil {
		return nil, b.openErr
	}
	ch := &fakeChannel{events: make(chan core.ChangeEvent, 16)}
	b.channels[entity] = append(b.channels[entity], ch)
	return ch, nil
}

// channel returns the most recently opened channel for entity, or nil.
func (b *fakeBackend) channel(entity core.Entity) *fakeChannel {
	b.mu.Lock()
	defer b.mu.Unlock()

	chs := b.channels[entity]
	if len(chs) == 0 {
		return nil
	}
	return chs[len(chs)-1]
}

func (b *fakeBackend) openCount(entity core.Entity) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels[entity])
}

func (b *fakeBackend) emit(entity core.Entity, op core.ChangeOp) {
	b.channel(entity).events <- core.ChangeEvent{Entity: entity, Op: op, At: time.Now()}
}

type fakeChannel struct {
	events     chan core.ChangeEvent
	once       sync.Once
	closeCalls atomic.Int32

	mu  sync.Mutex
	err error
}

func (c *fakeChannel) Events() <-chan core.ChangeEvent { return c.events }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Close() error {
	c.closeCalls.Add(1)
	c.once.Do(func() { close(c.events) })
	return nil
}

// drop ends the channel from the backend side.
func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.events) })
}

func matches(row core.Row, filters []core.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.Field]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func newLayer(t *testing.T, b core.Backend) *core.DataLayer {
	t.Helper()
	layer := core.NewDataLayer(b, core.Options{Realtime: true, StaleTime: time.Minute})
	t.Cleanup(func() { _ = layer.Close() })
	return layer
}

func awaitReady(t *testing.T, res *core.LiveResult) core.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := res.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	return snap
}
