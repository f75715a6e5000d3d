package core

import (
	"context"
	"time"
)

// Entity is a logical table name known to the registry, e.g. "customers".
type Entity string

// Entities used by the back office.
const (
	EntityCustomers Entity = "customers"
	EntityOrders    Entity = "orders"
	EntityInventory Entity = "inventory_items"
	EntityInvoices  Entity = "invoices"
	EntityAuditLogs Entity = "audit_logs"
)

// Row is a single record as returned by the backend: column name to value.
// Rows handed out by the data layer are copies; mutating them has no effect
// on the cache.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// cloneRows copies the slice and every row in it.
func cloneRows(rows []Row) []Row {
	if rows == nil {
		return nil
	}
	out := make([]Row, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// Filter is a single equality predicate: Field = Value.
type Filter struct {
	Field string
	Value any
}

// ChangeOp is the kind of change reported by a change feed.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)

// ChangeEvent is one notification from a change feed. The payload of the
// change is not interpreted; any event invalidates every cached view of the
// entity.
type ChangeEvent struct {
	Entity Entity
	Op     ChangeOp
	At     time.Time
}

// Channel is a live change stream for one entity, opened by the backend.
//
// Events is closed when the channel ends. After Close it ends without error;
// if the backend drops it, Err reports why.
type Channel interface {
	Events() <-chan ChangeEvent
	Err() error
	Close() error
}

// ChannelOpener opens change channels. Satisfied by every Backend.
type ChannelOpener interface {
	OpenChannel(ctx context.Context, entity Entity) (Channel, error)
}

// Backend is the managed database service the data layer sits on.
// Implementations: internal/backend/postgres and internal/backend/memory.
type Backend interface {
	ChannelOpener

	// Query returns the rows of entity matching every filter. columns holds
	// the selected column names, or "*" for all.
	Query(ctx context.Context, entity Entity, columns []string, filters []Filter) ([]Row, error)

	// Mutate applies changes to every row matching match.
	Mutate(ctx context.Context, entity Entity, changes map[string]any, match []Filter) error

	// CallProcedure invokes a server-side procedure by name.
	CallProcedure(ctx context.Context, name string, args map[string]any) (any, error)
}
