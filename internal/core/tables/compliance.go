package tables

import (
	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/schema"
)

// The audit trail is written by database triggers, never by the app.
func init() {
	core.Register(core.EntityDefinition{
		Name:     core.EntityAuditLogs,
		Group:    "Compliance",
		Label:    "Audit log",
		Columns:  schema.AuditLogColumns,
		ReadOnly: true,
		Validate: schema.ValidateAuditLog,
	})
}
