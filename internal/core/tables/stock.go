package tables

import (
	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/schema"
)

func init() {
	core.Register(core.EntityDefinition{
		Name:     core.EntityInventory,
		Group:    "Stock",
		Label:    "Inventory",
		Columns:  schema.InventoryColumns,
		Validate: schema.ValidateInventory,
	})
}
