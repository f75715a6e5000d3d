package core

import "errors"

// Test entities shared by the internal and external test packages of core.
// The real definitions live in internal/schema, which imports core.
func init() {
	Register(EntityDefinition{
		Name:  EntityInventory,
		Group: "Stock",
		Label: "Inventory",
		Columns: []ColumnSpec{
			{Name: "id", Type: ColumnText},
			{Name: "sku", Type: ColumnText},
			{Name: "name", Type: ColumnText},
			{Name: "quantity", Type: ColumnNumeric},
			{Name: "reorder_point", Type: ColumnNumeric},
			{Name: "unit_price", Type: ColumnNumeric},
			{Name: "supplier_info", Type: ColumnJSON},
		},
	})
	Register(EntityDefinition{
		Name:  EntityOrders,
		Group: "Sales",
		Label: "Orders",
		Columns: []ColumnSpec{
			{Name: "id", Type: ColumnText},
			{Name: "customer_id", Type: ColumnText},
			{Name: "status", Type: ColumnText},
			{Name: "total_amount", Type: ColumnNumeric},
		},
		Validate: func(r Row) error {
			if _, ok := r["id"]; !ok {
				return errors.New("missing id")
			}
			return nil
		},
	})
	Register(EntityDefinition{
		Name:  EntityCustomers,
		Group: "Sales",
		Label: "Customers",
		Columns: []ColumnSpec{
			{Name: "id", Type: ColumnText},
			{Name: "email", Type: ColumnText},
			{Name: "status", Type: ColumnText},
			{Name: "gdpr_consent", Type: ColumnBool},
			{Name: "gdpr_consent_date", Type: ColumnTimestamp},
			{Name: "marketing_consent", Type: ColumnBool},
		},
	})
	Register(EntityDefinition{
		Name:     EntityAuditLogs,
		Group:    "Compliance",
		Label:    "Audit log",
		ReadOnly: true,
		Columns: []ColumnSpec{
			{Name: "id", Type: ColumnText},
			{Name: "action", Type: ColumnText},
		},
	})
}
