// Package views derives page-level projections from live result rows.
//
// Every function is pure: it reads the rows it is given, never the cache,
// and returns matching rows in their original order. Inputs are not
// modified, so the rows of a LiveResult snapshot can be passed directly.
package views

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/schema"
)

// Filter returns the rows for which keep reports true.
func Filter(rows []core.Row, keep func(core.Row) bool) []core.Row {
	out := make([]core.Row, 0, len(rows))
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// LowStock returns inventory rows whose quantity is below the reorder point.
// Rows missing either number are skipped.
func LowStock(rows []core.Row) []core.Row {
	return Filter(rows, isLowStock)
}

func isLowStock(r core.Row) bool {
	qty, ok := Number(r["quantity"])
	if !ok {
		return false
	}
	reorder, ok := Number(r["reorder_point"])
	if !ok {
		return false
	}
	return qty < reorder
}

// Consented returns customers who gave GDPR consent.
func Consented(rows []core.Row) []core.Row {
	return Filter(rows, func(r core.Row) bool { return Bool(r["gdpr_consent"]) })
}

// MarketingConsented returns customers who may receive marketing: both GDPR
// and marketing consent are required.
func MarketingConsented(rows []core.Row) []core.Row {
	return Filter(rows, func(r core.Row) bool {
		return Bool(r["gdpr_consent"]) && Bool(r["marketing_consent"])
	})
}

// ByStatus returns rows whose status is one of statuses.
func ByStatus(rows []core.Row, statuses ...string) []core.Row {
	return Filter(rows, func(r core.Row) bool {
		s, _ := r["status"].(string)
		for _, want := range statuses {
			if s == want {
				return true
			}
		}
		return false
	})
}

// OpenOrders returns orders that are open or being worked on.
func OpenOrders(rows []core.Row) []core.Row {
	return ByStatus(rows, schema.OrderOpen, schema.OrderInProgress)
}

// OutstandingInvoices returns invoices that were sent and not yet paid.
func OutstandingInvoices(rows []core.Row) []core.Row {
	return ByStatus(rows, schema.InvoiceSent)
}

// Search returns rows where any of fields contains term, case-insensitively.
// With no fields, every string value of the row is searched. An empty term
// matches every row.
func Search(rows []core.Row, term string, fields ...string) []core.Row {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return Filter(rows, func(core.Row) bool { return true })
	}

	return Filter(rows, func(r core.Row) bool {
		if len(fields) == 0 {
			for _, v := range r {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), term) {
					return true
				}
			}
			return false
		}
		for _, f := range fields {
			if s, ok := r[f].(string); ok && strings.Contains(strings.ToLower(s), term) {
				return true
			}
		}
		return false
	})
}

// Count returns how many rows satisfy pred. A nil pred counts every row.
func Count(rows []core.Row, pred func(core.Row) bool) int {
	if pred == nil {
		return len(rows)
	}
	n := 0
	for _, r := range rows {
		if pred(r) {
			n++
		}
	}
	return n
}

// Sum adds up a numeric column. Non-numeric values are skipped.
func Sum(rows []core.Row, column string) float64 {
	var total float64
	for _, r := range rows {
		if v, ok := Number(r[column]); ok {
			total += v
		}
	}
	return total
}

// InventoryValue returns the stock value: sum of quantity times unit price.
func InventoryValue(rows []core.Row) float64 {
	var total float64
	for _, r := range rows {
		qty, ok := Number(r["quantity"])
		if !ok {
			continue
		}
		price, ok := Number(r["unit_price"])
		if !ok {
			continue
		}
		total += qty * price
	}
	return total
}

// Revenue returns the total of paid invoices.
func Revenue(rows []core.Row) float64 {
	return Sum(ByStatus(rows, schema.InvoicePaid), "total_amount")
}

// Number reads a numeric row value. Backends deliver numbers as Go integers,
// floats or json.Number depending on the transport.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool reads a boolean row value; anything but true is false.
func Bool(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

// Label returns a short display string for a row, used by listings and the
// activity feed.
func Label(entity core.Entity, r core.Row) string {
	str := func(k string) string {
		if v, ok := r[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	switch entity {
	case core.EntityInventory:
		return strings.TrimSpace(str("sku") + " " + str("name"))
	case core.EntityInvoices:
		return str("invoice_number")
	case core.EntityCustomers:
		return str("email")
	default:
		return str("id")
	}
}
