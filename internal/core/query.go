package core

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// QueryDescriptor describes what a consumer wants to read: an entity, the
// selected columns, equality filters and whether changes should be pushed.
//
// Descriptors are values. Select, Where, WhereAll and Live return modified
// copies and never alter the receiver.
type QueryDescriptor struct {
	entity  Entity
	columns []string
	filters map[string]any
	live    bool
}

// NewQuery returns a descriptor selecting every column of entity, with no
// filters and live updates enabled.
func NewQuery(entity Entity) QueryDescriptor {
	return QueryDescriptor{entity: entity, live: true}
}

// Select replaces the column selectors.
func (d QueryDescriptor) Select(columns ...string) QueryDescriptor {
	d.columns = append([]string(nil), columns...)
	return d
}

// Where adds (or replaces) an equality filter.
func (d QueryDescriptor) Where(field string, value any) QueryDescriptor {
	filters := make(map[string]any, len(d.filters)+1)
	for k, v := range d.filters {
		filters[k] = v
	}
	filters[field] = value
	d.filters = filters
	return d
}

// WhereAll adds every filter in m.
func (d QueryDescriptor) WhereAll(m map[string]any) QueryDescriptor {
	for k, v := range m {
		d = d.Where(k, v)
	}
	return d
}

// Live toggles live updates.
func (d QueryDescriptor) Live(live bool) QueryDescriptor {
	d.live = live
	return d
}

func (d QueryDescriptor) Entity() Entity { return d.entity }
func (d QueryDescriptor) IsLive() bool   { return d.live }

// Columns returns the column selectors, or ["*"] when none were set.
func (d QueryDescriptor) Columns() []string {
	if len(d.columns) == 0 {
		return []string{"*"}
	}
	return append([]string(nil), d.columns...)
}

// Filters returns a copy of the filter map.
func (d QueryDescriptor) Filters() map[string]any {
	out := make(map[string]any, len(d.filters))
	for k, v := range d.filters {
		out[k] = v
	}
	return out
}

// Equivalent reports whether two descriptors address the same cache entry:
// same entity and same filters. Columns and the live flag are ignored.
func (d QueryDescriptor) Equivalent(other QueryDescriptor) bool {
	a, errA := Build(d)
	b, errB := Build(other)
	if errA != nil || errB != nil {
		return false
	}
	return a.Key == b.Key
}

func (d QueryDescriptor) String() string {
	return fmt.Sprintf("%s(%s) %v live=%t", d.entity, strings.Join(d.Columns(), ","), d.filters, d.live)
}

// CacheKey identifies a cache entry: the entity and its canonical filters.
type CacheKey string

// Entity returns the entity part of the key.
func (k CacheKey) Entity() Entity {
	entity, _, _ := strings.Cut(string(k), "|")
	return Entity(entity)
}

// Request is a validated, normalized descriptor ready for the backend.
type Request struct {
	Entity  Entity
	Columns []string
	Filters []Filter // sorted by field
	Key     CacheKey
	Live    bool
}

// Build validates a descriptor against the entity registry and normalizes it.
// Equivalent descriptors always produce the same Key, regardless of the order
// their filters were added in.
func Build(d QueryDescriptor) (Request, error) {
	def, ok := Lookup(d.entity)
	if !ok {
		return Request{}, &InvalidFilterError{Entity: d.entity, Reason: "unknown entity"}
	}

	columns := d.Columns()
	for _, col := range columns {
		if col == "*" {
			continue
		}
		if _, ok := def.Column(col); !ok {
			return Request{}, &InvalidFilterError{Entity: d.entity, Field: col, Reason: "unknown column in select"}
		}
	}

	fields := make([]string, 0, len(d.filters))
	for field := range d.filters {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	filters := make([]Filter, 0, len(fields))
	canonical := make(map[string]any, len(fields))
	for _, field := range fields {
		if _, ok := def.Column(field); !ok {
			return Request{}, &InvalidFilterError{Entity: d.entity, Field: field, Reason: "unknown column"}
		}
		v, err := normalizeValue(d.filters[field])
		if err != nil {
			return Request{}, &InvalidFilterError{Entity: d.entity, Field: field, Reason: err.Error()}
		}
		filters = append(filters, Filter{Field: field, Value: v})
		canonical[field] = v
	}

	// encoding/json writes map keys in sorted order.
	encoded, err := json.Marshal(canonical)
	if err != nil {
		return Request{}, &InvalidFilterError{Entity: d.entity, Reason: err.Error()}
	}

	return Request{
		Entity:  d.entity,
		Columns: columns,
		Filters: filters,
		Key:     CacheKey(string(d.entity) + "|" + string(encoded)),
		Live:    d.live,
	}, nil
}

// normalizeValue reduces a filter value to its underlying primitive so that
// named types and plain values of the same content yield the same key.
func normalizeValue(v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", n.String())
		}
		return normalizeValue(f)
	}
	if v == nil {
		return nil, fmt.Errorf("nil value is not a primitive")
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("value %v is not a finite number", f)
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f), nil
		}
		return f, nil
	default:
		return nil, fmt.Errorf("value of type %T is not a primitive", v)
	}
}
