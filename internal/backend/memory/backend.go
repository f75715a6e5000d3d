// Package memory is an in-process core.Backend used for demos, the CLI and
// tests. Tables are slices of rows guarded by one mutex; every write is
// published to an in-memory broker so change channels behave like the
// database's change feed. Writes also append to the audit trail the way the
// database triggers do.
package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/fluent/internal/core"
)

// ErrClosed is reported by channels that were ended by Backend.Close.
var ErrClosed = errors.New("memory backend closed")

// encPrefix marks values produced by Encrypt.
const encPrefix = "enc:"

// Encrypt produces the stored form of a personal field. It is an encoding,
// not encryption; the real backend encrypts server-side.
func Encrypt(plain string) string {
	return encPrefix + base64.StdEncoding.EncodeToString([]byte(plain))
}

// Backend is an in-memory core.Backend.
type Backend struct {
	mu       sync.RWMutex
	tables   map[core.Entity][]core.Row
	broker   *broker
	channels map[*channel]struct{}
	buffer   int
	closed   bool

	now   func() time.Time
	newID func() string
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// WithChannelBuffer sets the per-channel event buffer.
func WithChannelBuffer(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// New returns an empty backend with a table for every known entity.
func New(opts ...Option) *Backend {
	b := &Backend{
		tables:   make(map[core.Entity][]core.Row),
		broker:   newBroker(),
		channels: make(map[*channel]struct{}),
		buffer:   64,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, e := range []core.Entity{
		core.EntityCustomers,
		core.EntityOrders,
		core.EntityInventory,
		core.EntityInvoices,
		core.EntityAuditLogs,
	} {
		b.tables[e] = nil
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Query returns copies of the rows matching every filter, projected to
// columns.
func (b *Backend) Query(ctx context.Context, entity core.Entity, columns []string, filters []core.Filter) ([]core.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	rows, ok := b.tables[entity]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", entity)
	}

	out := make([]core.Row, 0, len(rows))
	for _, r := range rows {
		if matches(r, filters) {
			out = append(out, project(r, columns))
		}
	}
	return out, nil
}

// Mutate applies changes to every matching row and publishes one UPDATE.
// Returns core.ErrNoRows when nothing matched.
func (b *Backend) Mutate(ctx context.Context, entity core.Entity, changes map[string]any, match []core.Filter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	rows, ok := b.tables[entity]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("relation %q does not exist", entity)
	}

	ts := b.timestamp()
	n := 0
	for _, r := range rows {
		if !matches(r, match) {
			continue
		}
		for k, v := range changes {
			r[k] = cloneValue(v)
		}
		if _, has := r["updated_at"]; has {
			r["updated_at"] = ts
		}
		n++
	}
	if n == 0 {
		b.mu.Unlock()
		return fmt.Errorf("update %s: %w", entity, core.ErrNoRows)
	}
	audit := b.auditLocked(ctx, string(core.ChangeUpdate), entity, map[string]any{
		"changes": changes,
		"match":   filterMap(match),
		"rows":    n,
	})
	b.mu.Unlock()

	b.publish(entity, core.ChangeUpdate)
	b.publishAudit(audit)
	return nil
}

// Insert adds a row, filling id and timestamps when absent, and returns the
// stored copy.
func (b *Backend) Insert(ctx context.Context, entity core.Entity, row core.Row) (core.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	if _, ok := b.tables[entity]; !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("relation %q does not exist", entity)
	}

	stored := cloneRow(row)
	if id, _ := stored["id"].(string); id == "" {
		stored["id"] = b.newID()
	}
	if entity != core.EntityAuditLogs {
		ts := b.timestamp()
		if _, ok := stored["created_at"]; !ok {
			stored["created_at"] = ts
		}
		if _, ok := stored["updated_at"]; !ok {
			stored["updated_at"] = ts
		}
	}
	b.tables[entity] = append(b.tables[entity], stored)

	audit := b.auditLocked(ctx, string(core.ChangeInsert), entity, map[string]any{"id": stored["id"]})
	b.mu.Unlock()

	b.publish(entity, core.ChangeInsert)
	b.publishAudit(audit)
	return cloneRow(stored), nil
}

// Delete removes every matching row and returns how many were removed.
func (b *Backend) Delete(ctx context.Context, entity core.Entity, match []core.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	n, err := b.deleteLocked(entity, match)
	if err != nil || n == 0 {
		b.mu.Unlock()
		return n, err
	}
	audit := b.auditLocked(ctx, string(core.ChangeDelete), entity, map[string]any{"match": filterMap(match), "rows": n})
	b.mu.Unlock()

	b.publish(entity, core.ChangeDelete)
	b.publishAudit(audit)
	return n, nil
}

func (b *Backend) deleteLocked(entity core.Entity, match []core.Filter) (int, error) {
	rows, ok := b.tables[entity]
	if !ok {
		return 0, fmt.Errorf("relation %q does not exist", entity)
	}

	kept := rows[:0]
	n := 0
	for _, r := range rows {
		if matches(r, match) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	// Clear the tail so removed rows can be collected.
	for i := len(kept); i < len(rows); i++ {
		rows[i] = nil
	}
	b.tables[entity] = kept
	return n, nil
}

// CallProcedure runs one of the built-in procedures.
func (b *Backend) CallProcedure(ctx context.Context, name string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch name {
	case core.ProcDecryptField:
		return decryptField(args)
	case core.ProcDeleteCustomerData:
		return nil, b.deleteCustomerData(ctx, args)
	default:
		return nil, fmt.Errorf("function %s does not exist", name)
	}
}

func decryptField(args map[string]any) (any, error) {
	v, _ := args["encrypted_value"].(string)
	if !strings.HasPrefix(v, encPrefix) {
		return nil, errors.New("decrypt_field: value is not encrypted")
	}
	plain, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v, encPrefix))
	if err != nil {
		return nil, fmt.Errorf("decrypt_field: %w", err)
	}
	return string(plain), nil
}

// deleteCustomerData removes a customer together with their orders and the
// invoices of those orders.
func (b *Backend) deleteCustomerData(ctx context.Context, args map[string]any) error {
	id, _ := args["customer_id"].(string)
	if id == "" {
		return errors.New("delete_customer_data: customer_id is required")
	}

	b.mu.Lock()
	n, _ := b.deleteLocked(core.EntityCustomers, []core.Filter{{Field: "id", Value: id}})
	if n == 0 {
		b.mu.Unlock()
		return fmt.Errorf("delete_customer_data: %w", core.ErrNoRows)
	}

	var orderIDs []string
	for _, r := range b.tables[core.EntityOrders] {
		if r["customer_id"] == id {
			if oid, ok := r["id"].(string); ok {
				orderIDs = append(orderIDs, oid)
			}
		}
	}
	for _, oid := range orderIDs {
		_, _ = b.deleteLocked(core.EntityInvoices, []core.Filter{{Field: "order_id", Value: oid}})
	}
	_, _ = b.deleteLocked(core.EntityOrders, []core.Filter{{Field: "customer_id", Value: id}})

	audit := b.auditLocked(ctx, "GDPR_ERASURE", core.EntityCustomers, map[string]any{
		"customer_id": id,
		"orders":      len(orderIDs),
	})
	b.mu.Unlock()

	b.publish(core.EntityCustomers, core.ChangeDelete)
	b.publish(core.EntityOrders, core.ChangeDelete)
	b.publish(core.EntityInvoices, core.ChangeDelete)
	b.publishAudit(audit)
	return nil
}

// OpenChannel subscribes to changes of entity.
func (b *Backend) OpenChannel(ctx context.Context, entity core.Entity) (core.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, ok := b.tables[entity]; !ok {
		return nil, fmt.Errorf("relation %q does not exist", entity)
	}

	ch := newChannel(entity, b.broker, b.buffer)
	ch.release = func() {
		b.mu.Lock()
		delete(b.channels, ch)
		b.mu.Unlock()
	}
	b.broker.Subscribe(entity, ch)
	b.channels[ch] = struct{}{}
	return ch, nil
}

// Disconnect ends every open channel of entity with err, as a dropped
// network connection would.
func (b *Backend) Disconnect(entity core.Entity, err error) {
	b.mu.Lock()
	var ended []*channel
	for ch := range b.channels {
		if ch.entity == entity {
			ended = append(ended, ch)
			delete(b.channels, ch)
		}
	}
	b.mu.Unlock()

	for _, ch := range ended {
		ch.end(err)
	}
}

// Subscribers returns the number of open channels for entity.
func (b *Backend) Subscribers(entity core.Entity) int {
	return b.broker.SubscriberCount(entity)
}

// Close ends all channels with ErrClosed. Queries keep working.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	chs := b.channels
	b.channels = make(map[*channel]struct{})
	b.mu.Unlock()

	for ch := range chs {
		ch.end(ErrClosed)
	}
	return nil
}

// Count returns the number of rows in entity.
func (b *Backend) Count(entity core.Entity) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tables[entity])
}

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(time.RFC3339)
}

// auditLocked appends an audit_logs row. Writes to the audit table itself
// are not audited.
func (b *Backend) auditLocked(ctx context.Context, action string, entity core.Entity, data map[string]any) bool {
	if entity == core.EntityAuditLogs {
		return false
	}

	changed := make(map[string]any, len(data)+1)
	for k, v := range data {
		changed[k] = cloneValue(v)
	}
	changed["table"] = string(entity)

	b.tables[core.EntityAuditLogs] = append(b.tables[core.EntityAuditLogs], core.Row{
		"id":           b.newID(),
		"user_id":      core.ActorFromContext(ctx),
		"action_type":  action,
		"changed_data": changed,
		"timestamp":    b.timestamp(),
	})
	return true
}

func (b *Backend) publish(entity core.Entity, op core.ChangeOp) {
	b.broker.Publish(core.ChangeEvent{Entity: entity, Op: op, At: b.now()})
}

func (b *Backend) publishAudit(written bool) {
	if written {
		b.publish(core.EntityAuditLogs, core.ChangeInsert)
	}
}

func matches(r core.Row, filters []core.Filter) bool {
	for _, f := range filters {
		v, ok := r[f.Field]
		if !ok || !equalValues(v, f.Value) {
			return false
		}
	}
	return true
}

// equalValues compares a stored value with a filter value. Numbers compare
// by value regardless of their Go type.
func equalValues(stored, want any) bool {
	if a, ok := toFloat(stored); ok {
		b, ok := toFloat(want)
		return ok && a == b
	}
	switch s := stored.(type) {
	case string:
		w, ok := want.(string)
		return ok && s == w
	case bool:
		w, ok := want.(bool)
		return ok && s == w
	default:
		return reflect.DeepEqual(stored, want)
	}
}

func toFloat(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

// project copies the selected columns of r. "*" selects every column.
func project(r core.Row, columns []string) core.Row {
	for _, c := range columns {
		if c == "*" {
			return cloneRow(r)
		}
	}
	if len(columns) == 0 {
		return cloneRow(r)
	}

	out := make(core.Row, len(columns))
	for _, c := range columns {
		if v, ok := r[c]; ok {
			out[c] = cloneValue(v)
		}
	}
	return out
}

func cloneRow(r core.Row) core.Row {
	out := make(core.Row, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the JSON container types stored in rows.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, x := range t {
			m[k] = cloneValue(x)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, x := range t {
			s[i] = cloneValue(x)
		}
		return s
	default:
		return v
	}
}

func filterMap(filters []core.Filter) map[string]any {
	m := make(map[string]any, len(filters))
	for _, f := range filters {
		m[f.Field] = f.Value
	}
	return m
}
