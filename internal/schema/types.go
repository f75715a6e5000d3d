// Package schema holds the typed shapes of the back-office entities, their
// column lists, and the JSON Schemas used to check backend rows.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Order statuses.
const (
	OrderOpen       = "open"
	OrderInProgress = "in_progress"
	OrderCompleted  = "completed"
	OrderCancelled  = "cancelled"
)

// Invoice statuses.
const (
	InvoiceDraft     = "draft"
	InvoiceSent      = "sent"
	InvoicePaid      = "paid"
	InvoiceCancelled = "cancelled"
)

// Customer statuses.
const (
	CustomerActive   = "active"
	CustomerInactive = "inactive"
)

// Customer is a workshop customer. Personal fields are stored encrypted and
// only decrypted on demand through the backend.
type Customer struct {
	ID                  string     `json:"id"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Email               string     `json:"email"`
	EncryptedName       string     `json:"encrypted_name"`
	EncryptedPhone      *string    `json:"encrypted_phone,omitempty"`
	EncryptedAddress    *string    `json:"encrypted_address,omitempty"`
	Status              string     `json:"status"`
	GDPRConsent         bool       `json:"gdpr_consent"`
	GDPRConsentDate     *time.Time `json:"gdpr_consent_date,omitempty"`
	MarketingConsent    bool       `json:"marketing_consent"`
	DataRetentionPeriod int        `json:"data_retention_period"`
	PreferredLanguage   string     `json:"preferred_language"`
	Notes               *string    `json:"notes,omitempty"`
	DeletedAt           *time.Time `json:"deleted_at,omitempty"`
}

// Order is a repair order.
type Order struct {
	ID                  string     `json:"id"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	CustomerID          string     `json:"customer_id"`
	Status              string     `json:"status"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	RepairDetails       string     `json:"repair_details"`
	TechnicianID        *string    `json:"technician_id,omitempty"`
	TotalAmount         *float64   `json:"total_amount,omitempty"`
	Currency            string     `json:"currency"`
	Notes               *string    `json:"notes,omitempty"`
}

// InventoryItem is a stocked part.
type InventoryItem struct {
	ID           string         `json:"id"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	SKU          string         `json:"sku"`
	Name         string         `json:"name"`
	Description  *string        `json:"description,omitempty"`
	Quantity     int            `json:"quantity"`
	ReorderPoint int            `json:"reorder_point"`
	UnitPrice    float64        `json:"unit_price"`
	SupplierInfo map[string]any `json:"supplier_info,omitempty"`
	Category     *string        `json:"category,omitempty"`
	Location     *string        `json:"location,omitempty"`
}

// LowStock reports whether the item has fallen below its reorder point.
func (i InventoryItem) LowStock() bool {
	return i.Quantity < i.ReorderPoint
}

// Invoice is issued for a completed order.
type Invoice struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	OrderID       string    `json:"order_id"`
	InvoiceNumber string    `json:"invoice_number"`
	Status        string    `json:"status"`
	DueDate       Date      `json:"due_date"`
	Subtotal      float64   `json:"subtotal"`
	TaxRate       float64   `json:"tax_rate"`
	TaxAmount     float64   `json:"tax_amount"`
	TotalAmount   float64   `json:"total_amount"`
	PaymentTerms  *string   `json:"payment_terms,omitempty"`
	Notes         *string   `json:"notes,omitempty"`
}

// Outstanding reports whether the invoice still expects payment.
func (i Invoice) Outstanding() bool {
	return i.Status == InvoiceSent
}

// AuditLogEntry is one row of the read-only audit trail.
type AuditLogEntry struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	ActionType  string         `json:"action_type"`
	ChangedData map[string]any `json:"changed_data"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Date is a calendar day. It decodes from "2006-01-02" as sent by the
// in-memory backend and from full timestamps as sent by Postgres.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		d.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date: %w", err)
	}

	for _, layout := range []string{dateLayout, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("date: cannot parse %q", s)
}

func (d Date) String() string {
	return d.Format(dateLayout)
}
