package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ColumnType is the value type of an entity column.
type ColumnType int

const (
	ColumnText ColumnType = iota
	ColumnNumeric
	ColumnBool
	ColumnTimestamp
	ColumnJSON
)

// ColumnSpec describes one column of an entity.
type ColumnSpec struct {
	Name string     // Database column name: "reorder_point"
	Type ColumnType // Value type, used to coerce filter values from text
}

// RowValidator checks a backend row against the entity's shape.
type RowValidator func(Row) error

// EntityDefinition contains everything the data layer knows about an entity.
type EntityDefinition struct {
	Name     Entity       // Logical table name: "inventory_items"
	Group    string       // Page grouping: "Sales", "Stock", "Compliance"
	Label    string       // Display name: "Inventory"
	Columns  []ColumnSpec // Known columns; filters and selects must name one of these
	ReadOnly bool         // Mutations are rejected when true
	Validate RowValidator // Optional boundary check for fetched rows
}

// Column returns the spec of a named column.
func (d EntityDefinition) Column(name string) (ColumnSpec, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnNames returns the column names in declaration order.
func (d EntityDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// ParseValue converts a textual filter value (from a URL or CLI flag) into the
// column's native type.
func (d EntityDefinition) ParseValue(column, raw string) (any, error) {
	spec, ok := d.Column(column)
	if !ok {
		return nil, &InvalidFilterError{Entity: d.Name, Field: column, Reason: "unknown column"}
	}

	switch spec.Type {
	case ColumnNumeric:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &InvalidFilterError{Entity: d.Name, Field: column, Reason: "invalid number " + strconv.Quote(raw)}
		}
		return f, nil
	case ColumnBool:
		b, err := strconv.ParseBool(strings.ToLower(raw))
		if err != nil {
			return nil, &InvalidFilterError{Entity: d.Name, Field: column, Reason: "invalid boolean " + strconv.Quote(raw)}
		}
		return b, nil
	case ColumnJSON:
		return nil, &InvalidFilterError{Entity: d.Name, Field: column, Reason: "structured columns cannot be filtered"}
	default:
		return raw, nil
	}
}

var (
	registry   = make(map[Entity]EntityDefinition)
	registryMu sync.RWMutex
)

// Register adds an entity definition to the registry.
// Panics if an entity with the same name is already registered.
func Register(def EntityDefinition) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[def.Name]; exists {
		panic(fmt.Sprintf("entity already registered: %s", def.Name))
	}
	if def.Label == "" {
		def.Label = string(def.Name)
	}

	registry[def.Name] = def
}

// Lookup returns an entity definition by name.
func Lookup(name Entity) (EntityDefinition, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	def, ok := registry[name]
	return def, ok
}

// All returns all registered entity definitions, sorted by group then name.
func All() []EntityDefinition {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]EntityDefinition, 0, len(registry))
	for _, def := range registry {
		result = append(result, def)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Group != result[j].Group {
			return result[i].Group < result[j].Group
		}
		return result[i].Name < result[j].Name
	})

	return result
}

// Groups returns all unique group names, sorted alphabetically.
func Groups() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	seen := make(map[string]bool)
	for _, def := range registry {
		seen[def.Group] = true
	}

	groups := make([]string, 0, len(seen))
	for g := range seen {
		groups = append(groups, g)
	}

	sort.Strings(groups)
	return groups
}

// EntityCount returns the number of registered entities.
func EntityCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered entities.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[Entity]EntityDefinition)
}
