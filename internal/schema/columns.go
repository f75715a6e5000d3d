package schema

import "github.com/JonMunkholm/fluent/internal/core"

// CustomerColumns lists the columns of the customers table.
var CustomerColumns = []core.ColumnSpec{
	{Name: "id", Type: core.ColumnText},
	{Name: "created_at", Type: core.ColumnTimestamp},
	{Name: "updated_at", Type: core.ColumnTimestamp},
	{Name: "email", Type: core.ColumnText},
	{Name: "encrypted_name", Type: core.ColumnText},
	{Name: "encrypted_phone", Type: core.ColumnText},
	{Name: "encrypted_address", Type: core.ColumnText},
	{Name: "status", Type: core.ColumnText},
	{Name: "gdpr_consent", Type: core.ColumnBool},
	{Name: "gdpr_consent_date", Type: core.ColumnTimestamp},
	{Name: "marketing_consent", Type: core.ColumnBool},
	{Name: "data_retention_period", Type: core.ColumnNumeric},
	{Name: "preferred_language", Type: core.ColumnText},
	{Name: "notes", Type: core.ColumnText},
	{Name: "deleted_at", Type: core.ColumnTimestamp},
}

// CustomerListColumns is the projection used by customer listings. Personal
// fields other than the encrypted name are left out.
var CustomerListColumns = []string{
	"id", "created_at", "encrypted_name", "email", "status", "gdpr_consent", "marketing_consent",
}

// OrderColumns lists the columns of the orders table.
var OrderColumns = []core.ColumnSpec{
	{Name: "id", Type: core.ColumnText},
	{Name: "created_at", Type: core.ColumnTimestamp},
	{Name: "updated_at", Type: core.ColumnTimestamp},
	{Name: "customer_id", Type: core.ColumnText},
	{Name: "status", Type: core.ColumnText},
	{Name: "estimated_completion", Type: core.ColumnTimestamp},
	{Name: "repair_details", Type: core.ColumnText},
	{Name: "technician_id", Type: core.ColumnText},
	{Name: "total_amount", Type: core.ColumnNumeric},
	{Name: "currency", Type: core.ColumnText},
	{Name: "notes", Type: core.ColumnText},
}

// InventoryColumns lists the columns of the inventory_items table.
var InventoryColumns = []core.ColumnSpec{
	{Name: "id", Type: core.ColumnText},
	{Name: "created_at", Type: core.ColumnTimestamp},
	{Name: "updated_at", Type: core.ColumnTimestamp},
	{Name: "sku", Type: core.ColumnText},
	{Name: "name", Type: core.ColumnText},
	{Name: "description", Type: core.ColumnText},
	{Name: "quantity", Type: core.ColumnNumeric},
	{Name: "reorder_point", Type: core.ColumnNumeric},
	{Name: "unit_price", Type: core.ColumnNumeric},
	{Name: "supplier_info", Type: core.ColumnJSON},
	{Name: "category", Type: core.ColumnText},
	{Name: "location", Type: core.ColumnText},
}

// InvoiceColumns lists the columns of the invoices table.
var InvoiceColumns = []core.ColumnSpec{
	{Name: "id", Type: core.ColumnText},
	{Name: "created_at", Type: core.ColumnTimestamp},
	{Name: "updated_at", Type: core.ColumnTimestamp},
	{Name: "order_id", Type: core.ColumnText},
	{Name: "invoice_number", Type: core.ColumnText},
	{Name: "status", Type: core.ColumnText},
	{Name: "due_date", Type: core.ColumnTimestamp},
	{Name: "subtotal", Type: core.ColumnNumeric},
	{Name: "tax_rate", Type: core.ColumnNumeric},
	{Name: "tax_amount", Type: core.ColumnNumeric},
	{Name: "total_amount", Type: core.ColumnNumeric},
	{Name: "payment_terms", Type: core.ColumnText},
	{Name: "notes", Type: core.ColumnText},
}

// AuditLogColumns lists the columns of the audit_logs table.
var AuditLogColumns = []core.ColumnSpec{
	{Name: "id", Type: core.ColumnText},
	{Name: "user_id", Type: core.ColumnText},
	{Name: "action_type", Type: core.ColumnText},
	{Name: "changed_data", Type: core.ColumnJSON},
	{Name: "timestamp", Type: core.ColumnTimestamp},
}
