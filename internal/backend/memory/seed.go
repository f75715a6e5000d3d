package memory

import (
	"github.com/google/uuid"

	"github.com/JonMunkholm/fluent/internal/core"
)

// seedNamespace derives stable ids for demo rows so links between them and
// CLI examples survive restarts.
var seedNamespace = uuid.MustParse("5b0c8f4e-6a43-4c55-9d0e-0c1b7a6f2e11")

// SeedID returns the stable id of a demo row.
func SeedID(kind, name string) string {
	return uuid.NewSHA1(seedNamespace, []byte(kind+":"+name)).String()
}

// Demo row ids.
var (
	MariaID  = SeedID("customer", "maria.schmidt")
	ThomasID = SeedID("customer", "thomas.weber")

	BrakeOrderID = SeedID("order", "ORD-2024-001")
	OilOrderID   = SeedID("order", "ORD-2024-002")

	BrakePadsID = SeedID("inventory", "BRK-001")
	EngineOilID = SeedID("inventory", "OIL-002")
)

// SeedData returns the demo dataset: two customers, their repair orders,
// two stock items (one below its reorder point) and the matching invoices.
func SeedData() map[core.Entity][]core.Row {
	return map[core.Entity][]core.Row{
		core.EntityCustomers: {
			{
				"id":                    MariaID,
				"created_at":            "2023-06-12T08:30:00Z",
				"updated_at":            "2024-01-15T10:00:00Z",
				"email":                 "maria.schmidt@example.com",
				"encrypted_name":        Encrypt("Maria Schmidt"),
				"encrypted_phone":       Encrypt("+43 123 456789"),
				"encrypted_address":     Encrypt("Hauptstraße 1, 1010 Wien"),
				"status":                "active",
				"gdpr_consent":          true,
				"gdpr_consent_date":     "2023-06-12T08:30:00Z",
				"marketing_consent":     true,
				"data_retention_period": 24,
				"preferred_language":    "de",
				"notes":                 "VIP, Regular",
				"deleted_at":            nil,
			},
			{
				"id":                    ThomasID,
				"created_at":            "2023-12-20T14:05:00Z",
				"updated_at":            "2023-12-20T14:05:00Z",
				"email":                 "thomas.weber@example.com",
				"encrypted_name":        Encrypt("Thomas Weber"),
				"encrypted_phone":       Encrypt("+43 987 654321"),
				"encrypted_address":     Encrypt("Mariahilfer Straße 10, 1060 Wien"),
				"status":                "inactive",
				"gdpr_consent":          true,
				"gdpr_consent_date":     "2023-12-20T14:05:00Z",
				"marketing_consent":     false,
				"data_retention_period": 24,
				"preferred_language":    "de",
				"notes":                 "New",
				"deleted_at":            nil,
			},
		},
		core.EntityOrders: {
			{
				"id":                   BrakeOrderID,
				"created_at":           "2024-02-15T09:00:00Z",
				"updated_at":           "2024-02-15T09:00:00Z",
				"customer_id":          MariaID,
				"status":               "in_progress",
				"estimated_completion": "2024-02-17T17:00:00Z",
				"repair_details":       "Brake Repair: Brake Pads x2, Brake Fluid x1",
				"technician_id":        "John Doe",
				"total_amount":         450.0,
				"currency":             "EUR",
				"notes":                "ORD-2024-001, priority high",
			},
			{
				"id":                   OilOrderID,
				"created_at":           "2024-02-16T08:00:00Z",
				"updated_at":           "2024-02-16T08:00:00Z",
				"customer_id":          ThomasID,
				"status":               "open",
				"estimated_completion": "2024-02-16T16:00:00Z",
				"repair_details":       "Oil Change: Oil Filter x1, Engine Oil x5",
				"technician_id":        "Jane Smith",
				"total_amount":         85.0,
				"currency":             "EUR",
				"notes":                "ORD-2024-002, priority medium",
			},
		},
		core.EntityInventory: {
			{
				"id":            BrakePadsID,
				"created_at":    "2024-01-10T07:00:00Z",
				"updated_at":    "2024-02-01T07:00:00Z",
				"sku":           "BRK-001",
				"name":          "Brake Pads",
				"description":   nil,
				"quantity":      15,
				"reorder_point": 20,
				"unit_price":    60.0,
				"supplier_info": map[string]any{"name": "AutoParts GmbH", "last_restocked": "2024-02-01"},
				"category":      "Brakes",
				"location":      "Shelf A-1",
			},
			{
				"id":            EngineOilID,
				"created_at":    "2024-01-10T07:00:00Z",
				"updated_at":    "2024-02-10T07:00:00Z",
				"sku":           "OIL-002",
				"name":          "Engine Oil 5W-30",
				"description":   nil,
				"quantity":      50,
				"reorder_point": 30,
				"unit_price":    25.0,
				"supplier_info": map[string]any{"name": "LubeTech AG", "last_restocked": "2024-02-10"},
				"category":      "Fluids",
				"location":      "Shelf B-3",
			},
		},
		core.EntityInvoices: {
			{
				"id":             SeedID("invoice", "RE-2024-001"),
				"created_at":     "2024-02-15T09:05:00Z",
				"updated_at":     "2024-02-15T09:05:00Z",
				"order_id":       BrakeOrderID,
				"invoice_number": "RE-2024-001",
				"status":         "draft",
				"due_date":       "2024-03-17",
				"subtotal":       375.0,
				"tax_rate":       0.2,
				"tax_amount":     75.0,
				"total_amount":   450.0,
				"payment_terms":  "30 days net",
				"notes":          nil,
			},
			{
				"id":             SeedID("invoice", "RE-2024-002"),
				"created_at":     "2024-02-16T16:30:00Z",
				"updated_at":     "2024-02-16T16:30:00Z",
				"order_id":       OilOrderID,
				"invoice_number": "RE-2024-002",
				"status":         "sent",
				"due_date":       "2024-03-01",
				"subtotal":       70.83,
				"tax_rate":       0.2,
				"tax_amount":     14.17,
				"total_amount":   85.0,
				"payment_terms":  "14 days net",
				"notes":          nil,
			},
		},
		core.EntityAuditLogs: {},
	}
}

// Seed loads the demo dataset, replacing any existing rows. No events are
// published; callers seed before opening channels.
func (b *Backend) Seed() {
	b.Load(SeedData())
}

// Load replaces the contents of the given tables.
func (b *Backend) Load(data map[core.Entity][]core.Row) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for entity, rows := range data {
		copied := make([]core.Row, len(rows))
		for i, r := range rows {
			copied[i] = cloneRow(r)
		}
		b.tables[entity] = copied
	}
}
