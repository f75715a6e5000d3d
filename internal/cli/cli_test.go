package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fluent/internal/backend/memory"
	"github.com/JonMunkholm/fluent/internal/core"
)

func init() {
	pterm.DisableStyling()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "watch", "seed"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	env := cmd.PersistentFlags().Lookup("env-file")
	require.NotNil(t, env)
	assert.Equal(t, ".env", env.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("backend"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestInvalidBackend(t *testing.T) {
	_, err := run(t, "--backend", "mysql", "seed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid backend "mysql"`)
}

func TestSeedCommand(t *testing.T) {
	out, err := run(t, "seed")
	require.NoError(t, err)

	assert.Contains(t, out, "inventory_items")
	assert.Contains(t, out, "Low stock: BRK-001")
	assert.Contains(t, out, "Active orders: 2")
}

func TestSeedCommand_JSON(t *testing.T) {
	out, err := run(t, "seed", "--json")
	require.NoError(t, err)

	var summary SeedSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Len(t, summary.Entities, 5)
	for _, e := range summary.Entities {
		assert.Zero(t, e.Invalid, "seed rows of %s match the schema", e.Entity)
	}
	assert.Equal(t, []string{"BRK-001"}, summary.LowStock)
	assert.Equal(t, 1, summary.Dashboard.LowStockItems)
}

func TestWatchOnce(t *testing.T) {
	out, err := run(t, "--backend", "memory", "watch", "inventory_items",
		"--select", "sku,quantity", "--filter", "sku=BRK-001", "--once")
	require.NoError(t, err)

	assert.Contains(t, out, "Inventory: 1 rows, ready")
	assert.Contains(t, out, "BRK-001")
	assert.Contains(t, out, "15")
	assert.NotContains(t, out, "OIL-002")
}

func TestWatchOnce_Decrypt(t *testing.T) {
	out, err := run(t, "--backend", "memory", "watch", "customers",
		"--select", "id,encrypted_name", "--filter", "id="+memory.MariaID, "--once", "--decrypt")
	require.NoError(t, err)
	assert.Contains(t, out, "Maria Schmidt")
}

func TestWatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown entity", []string{"watch", "spaceships", "--once"}, `unknown entity "spaceships"`},
		{"malformed filter", []string{"watch", "orders", "--filter", "status", "--once"}, "want field=value"},
		{"unknown column", []string{"watch", "orders", "--filter", "bogus=1", "--once"}, "unknown column"},
		{"missing entity", []string{"watch"}, "accepts 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, append([]string{"--backend", "memory"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTableData(t *testing.T) {
	rows := []core.Row{
		{"sku": "BRK-001", "quantity": 15, "unit_price": 60.0, "supplier_info": map[string]any{"name": "AutoParts GmbH"}},
		{"sku": "OIL-002", "quantity": 50, "unit_price": 24.5, "supplier_info": nil},
	}

	got := tableData([]string{"sku", "quantity", "unit_price", "supplier_info"}, rows)
	want := pterm.TableData{
		{"sku", "quantity", "unit_price", "supplier_info"},
		{"BRK-001", "15", "60", `{"name":"AutoParts GmbH"}`},
		{"OIL-002", "50", "24.50", ""},
	}
	assert.Equal(t, want, got)
}

func TestTableColumns(t *testing.T) {
	def, ok := core.Lookup(core.EntityInventory)
	require.True(t, ok)

	assert.Equal(t, def.ColumnNames(), tableColumns(def, []string{"*"}))
	assert.Equal(t, def.ColumnNames(), tableColumns(def, nil))
	assert.Equal(t, []string{"sku"}, tableColumns(def, []string{"sku"}))
}
