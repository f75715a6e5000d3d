package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/JonMunkholm/fluent/internal/core"
)

// JSON Schemas for rows as the backend returns them with "select *".
// Optional columns accept null.
const (
	customerSchema = `{
	"type": "object",
	"required": ["id", "email", "encrypted_name", "gdpr_consent", "marketing_consent"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"created_at": {"type": "string", "format": "date-time"},
		"updated_at": {"type": "string", "format": "date-time"},
		"email": {"type": "string"},
		"encrypted_name": {"type": "string"},
		"encrypted_phone": {"type": ["string", "null"]},
		"encrypted_address": {"type": ["string", "null"]},
		"status": {"enum": ["active", "inactive", null]},
		"gdpr_consent": {"type": "boolean"},
		"gdpr_consent_date": {"anyOf": [{"type": "string", "format": "date-time"}, {"type": "null"}]},
		"marketing_consent": {"type": "boolean"},
		"data_retention_period": {"type": "integer", "minimum": 0},
		"preferred_language": {"type": "string"},
		"notes": {"type": ["string", "null"]},
		"deleted_at": {"anyOf": [{"type": "string", "format": "date-time"}, {"type": "null"}]}
	}
}`

	orderSchema = `{
	"type": "object",
	"required": ["id", "customer_id", "status"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"created_at": {"type": "string", "format": "date-time"},
		"updated_at": {"type": "string", "format": "date-time"},
		"customer_id": {"type": "string"},
		"status": {"enum": ["open", "in_progress", "completed", "cancelled"]},
		"estimated_completion": {"anyOf": [{"type": "string", "format": "date-time"}, {"type": "null"}]},
		"repair_details": {"type": "string"},
		"technician_id": {"type": ["string", "null"]},
		"total_amount": {"type": ["number", "null"], "minimum": 0},
		"currency": {"type": "string", "minLength": 3, "maxLength": 3},
		"notes": {"type": ["string", "null"]}
	}
}`

	inventorySchema = `{
	"type": "object",
	"required": ["id", "sku", "name", "quantity", "reorder_point"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"created_at": {"type": "string", "format": "date-time"},
		"updated_at": {"type": "string", "format": "date-time"},
		"sku": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"description": {"type": ["string", "null"]},
		"quantity": {"type": "integer"},
		"reorder_point": {"type": "integer", "minimum": 0},
		"unit_price": {"type": "number", "minimum": 0},
		"supplier_info": {"type": ["object", "null"]},
		"category": {"type": ["string", "null"]},
		"location": {"type": ["string", "null"]}
	}
}`

	invoiceSchema = `{
	"type": "object",
	"required": ["id", "order_id", "invoice_number", "status", "total_amount"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"created_at": {"type": "string", "format": "date-time"},
		"updated_at": {"type": "string", "format": "date-time"},
		"order_id": {"type": "string"},
		"invoice_number": {"type": "string", "minLength": 1},
		"status": {"enum": ["draft", "sent", "paid", "cancelled"]},
		"due_date": {"type": "string", "format": "date"},
		"subtotal": {"type": "number"},
		"tax_rate": {"type": "number", "minimum": 0},
		"tax_amount": {"type": "number"},
		"total_amount": {"type": "number"},
		"payment_terms": {"type": ["string", "null"]},
		"notes": {"type": ["string", "null"]}
	}
}`

	auditLogSchema = `{
	"type": "object",
	"required": ["id", "action_type", "timestamp"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"user_id": {"type": ["string", "null"]},
		"action_type": {"type": "string", "minLength": 1},
		"changed_data": {"type": ["object", "null"]},
		"timestamp": {"type": "string", "format": "date-time"}
	}
}`
)

// Row validators, compiled once at startup.
var (
	ValidateCustomer  = MustCompile(customerSchema)
	ValidateOrder     = MustCompile(orderSchema)
	ValidateInventory = MustCompile(inventorySchema)
	ValidateInvoice   = MustCompile(invoiceSchema)
	ValidateAuditLog  = MustCompile(auditLogSchema)
)

// Compile turns a JSON Schema document into a row validator.
func Compile(schemaJSON string) (core.RowValidator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("invalid json schema: %w", err)
	}

	return func(row core.Row) error {
		result, err := s.Validate(gojsonschema.NewGoLoader(row))
		if err != nil {
			return fmt.Errorf("schema validation error: %w", err)
		}
		if result.Valid() {
			return nil
		}

		errs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("row does not match schema: %s", strings.Join(errs, "; "))
	}, nil
}

// MustCompile is like Compile but panics on an invalid schema.
func MustCompile(schemaJSON string) core.RowValidator {
	v, err := Compile(schemaJSON)
	if err != nil {
		panic(err)
	}
	return v
}
