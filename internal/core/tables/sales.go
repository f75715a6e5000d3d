package tables

import (
	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/schema"
)

func init() {
	registerCustomers()
	registerOrders()
	registerInvoices()
}

func registerCustomers() {
	core.Register(core.EntityDefinition{
		Name:     core.EntityCustomers,
		Group:    "Sales",
		Label:    "Customers",
		Columns:  schema.CustomerColumns,
		Validate: schema.ValidateCustomer,
	})
}

func registerOrders() {
	core.Register(core.EntityDefinition{
		Name:     core.EntityOrders,
		Group:    "Sales",
		Label:    "Orders",
		Columns:  schema.OrderColumns,
		Validate: schema.ValidateOrder,
	})
}

func registerInvoices() {
	core.Register(core.EntityDefinition{
		Name:     core.EntityInvoices,
		Group:    "Sales",
		Label:    "Invoices",
		Columns:  schema.InvoiceColumns,
		Validate: schema.ValidateInvoice,
	})
}
