package views

import (
	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/schema"
)

// Dashboard is the summary shown on the back-office start page.
type Dashboard struct {
	ActiveOrders   int     `json:"active_orders"`
	Customers      int     `json:"customers"`
	Revenue        float64 `json:"revenue"`
	Outstanding    float64 `json:"outstanding"`
	LowStockItems  int     `json:"low_stock_items"`
	InventoryValue float64 `json:"inventory_value"`
}

// DashboardInput carries the current rows of each entity the dashboard reads.
type DashboardInput struct {
	Orders    []core.Row
	Customers []core.Row
	Invoices  []core.Row
	Inventory []core.Row
}

// Summarize computes the dashboard figures.
func Summarize(in DashboardInput) Dashboard {
	return Dashboard{
		ActiveOrders:   len(OpenOrders(in.Orders)),
		Customers:      Count(in.Customers, func(r core.Row) bool { return r["deleted_at"] == nil }),
		Revenue:        Revenue(in.Invoices),
		Outstanding:    Sum(OutstandingInvoices(in.Invoices), "total_amount"),
		LowStockItems:  len(LowStock(in.Inventory)),
		InventoryValue: InventoryValue(in.Inventory),
	}
}

// LowStockItems is LowStock over typed inventory items.
func LowStockItems(items []schema.InventoryItem) []schema.InventoryItem {
	out := make([]schema.InventoryItem, 0, len(items))
	for _, it := range items {
		if it.LowStock() {
			out = append(out, it)
		}
	}
	return out
}

// ConsentedCustomers is Consented over typed customers.
func ConsentedCustomers(customers []schema.Customer) []schema.Customer {
	out := make([]schema.Customer, 0, len(customers))
	for _, c := range customers {
		if c.GDPRConsent {
			out = append(out, c)
		}
	}
	return out
}
