package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/fluent/internal/backend/memory"
	"github.com/JonMunkholm/fluent/internal/core"
	"github.com/JonMunkholm/fluent/internal/schema"
	"github.com/JonMunkholm/fluent/internal/views"
)

// SeedSummary describes the demo dataset.
type SeedSummary struct {
	Entities  []SeedEntity    `json:"entities"`
	Dashboard views.Dashboard `json:"dashboard"`
	LowStock  []string        `json:"low_stock"`
}

// SeedEntity is the row count and validation result of one entity.
type SeedEntity struct {
	Entity  core.Entity `json:"entity"`
	Rows    int         `json:"rows"`
	Invalid int         `json:"invalid"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Summarize the demo dataset",
		Long: `Summarize the dataset the in-memory backend is seeded with: rows per
entity checked against the entity schemas, and the dashboard figures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := summarizeSeed(memory.SeedData())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			data := pterm.TableData{{"Entity", "Rows", "Invalid"}}
			for _, e := range summary.Entities {
				data = append(data, []string{string(e.Entity), fmt.Sprint(e.Rows), fmt.Sprint(e.Invalid)})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, table)

			d := summary.Dashboard
			fmt.Fprintln(out, pterm.Sprintf("Active orders: %d  Customers: %d  Outstanding: %.2f  Stock value: %.2f",
				d.ActiveOrders, d.Customers, d.Outstanding, d.InventoryValue))
			for _, sku := range summary.LowStock {
				fmt.Fprintln(out, pterm.Warning.Sprintf("Low stock: %s", sku))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

// summarizeSeed validates every row against its entity and computes the
// dashboard over the dataset.
func summarizeSeed(data map[core.Entity][]core.Row) (SeedSummary, error) {
	var s SeedSummary

	for entity, rows := range data {
		e := SeedEntity{Entity: entity, Rows: len(rows)}
		if def, ok := core.Lookup(entity); ok && def.Validate != nil {
			for _, r := range rows {
				if err := def.Validate(r); err != nil {
					e.Invalid++
				}
			}
		}
		s.Entities = append(s.Entities, e)
	}
	sort.Slice(s.Entities, func(i, j int) bool { return s.Entities[i].Entity < s.Entities[j].Entity })

	s.Dashboard = views.Summarize(views.DashboardInput{
		Orders:    data[core.EntityOrders],
		Customers: data[core.EntityCustomers],
		Invoices:  data[core.EntityInvoices],
		Inventory: data[core.EntityInventory],
	})

	items, err := schema.Decode[schema.InventoryItem](data[core.EntityInventory])
	if err != nil {
		return SeedSummary{}, fmt.Errorf("decode inventory: %w", err)
	}
	for _, it := range views.LowStockItems(items) {
		s.LowStock = append(s.LowStock, it.SKU)
	}

	return s, nil
}
