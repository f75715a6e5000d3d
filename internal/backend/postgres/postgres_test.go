package postgres

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/fluent/internal/core"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"orders", `"orders"`},
		{"reorder_point", `"reorder_point"`},
		{`bad"name`, `"bad""name"`},
		{`x"; DROP TABLE orders; --`, `"x""; DROP TABLE orders; --"`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quoteIdentifier(tt.input))
	}
}

func TestSelectSQL(t *testing.T) {
	tests := []struct {
		name     string
		columns  []string
		filters  []core.Filter
		wantSQL  string
		wantArgs []any
	}{
		{
			name:    "all columns no filters",
			columns: []string{"*"},
			wantSQL: `SELECT * FROM "inventory_items"`,
		},
		{
			name:    "projection",
			columns: []string{"id", "sku"},
			wantSQL: `SELECT "id", "sku" FROM "inventory_items"`,
		},
		{
			name:     "filters",
			columns:  []string{"*", "supplier_info"},
			filters:  []core.Filter{{Field: "category", Value: "Brakes"}, {Field: "quantity", Value: int64(15)}},
			wantSQL:  `SELECT * FROM "inventory_items" WHERE "category" = $1 AND "quantity" = $2`,
			wantArgs: []any{"Brakes", int64(15)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := selectSQL(core.EntityInventory, tt.columns, tt.filters)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestUpdateSQL(t *testing.T) {
	sql, args := updateSQL(core.EntityCustomers,
		map[string]any{"gdpr_consent_date": "2024-02-20T12:00:00Z", "gdpr_consent": true},
		[]core.Filter{{Field: "id", Value: "c-1"}},
	)

	assert.Equal(t, `UPDATE "customers" SET "gdpr_consent" = $1, "gdpr_consent_date" = $2 WHERE "id" = $3`, sql)
	assert.Equal(t, []any{true, "2024-02-20T12:00:00Z", "c-1"}, args)
}

func TestUpdateSQL_JSONValue(t *testing.T) {
	_, args := updateSQL(core.EntityInventory,
		map[string]any{"supplier_info": map[string]any{"name": "LubeTech AG"}},
		[]core.Filter{{Field: "sku", Value: "OIL-002"}},
	)
	require.Len(t, args, 2)
	assert.JSONEq(t, `{"name": "LubeTech AG"}`, args[0].(string))
}

func TestProcedureSQL(t *testing.T) {
	sql, args := procedureSQL(core.ProcDeleteCustomerData, map[string]any{"customer_id": "c-1"})
	assert.Equal(t, `SELECT "delete_customer_data"("customer_id" => $1)`, sql)
	assert.Equal(t, []any{"c-1"}, args)

	sql, args = procedureSQL("refresh", nil)
	assert.Equal(t, `SELECT "refresh"()`, sql)
	assert.Empty(t, args)
}

func TestFromDB(t *testing.T) {
	id := uuid.MustParse("5b0c8f4e-6a43-4c55-9d0e-0c1b7a6f2e11")
	ts := time.Date(2024, 2, 15, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		in   any
		oid  uint32
		want any
	}{
		{name: "nil", in: nil, want: nil},
		{name: "uuid", in: [16]byte(id), oid: pgtype.UUIDOID, want: id.String()},
		{name: "numeric", in: pgtype.Numeric{Int: big.NewInt(4500), Exp: -1, Valid: true}, oid: pgtype.NumericOID, want: 450.0},
		{name: "null numeric", in: pgtype.Numeric{}, oid: pgtype.NumericOID, want: nil},
		{name: "timestamptz", in: ts, oid: pgtype.TimestamptzOID, want: "2024-02-15T08:00:00Z"},
		{name: "date", in: time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC), oid: pgtype.DateOID, want: "2024-03-17"},
		{name: "int4", in: int32(15), oid: pgtype.Int4OID, want: int64(15)},
		{name: "jsonb bytes", in: []byte(`{"name":"AutoParts GmbH"}`), oid: pgtype.JSONBOID, want: map[string]any{"name": "AutoParts GmbH"}},
		{name: "text", in: "Brake Pads", oid: pgtype.TextOID, want: "Brake Pads"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fromDB(tt.in, tt.oid))
		})
	}
}

func TestToArg(t *testing.T) {
	assert.Equal(t, int64(3), toArg(json.Number("3")))
	assert.Equal(t, 2.5, toArg(json.Number("2.5")))
	assert.Equal(t, "x", toArg("x"))
	assert.Equal(t, `[1,2]`, toArg([]any{1, 2}))
}

func TestScanRow(t *testing.T) {
	row := scanRow(
		[]string{"sku", "quantity", "unit_price"},
		[]uint32{pgtype.TextOID, pgtype.Int4OID, pgtype.NumericOID},
		[]any{"BRK-001", int32(15), pgtype.Numeric{Int: big.NewInt(60), Valid: true}},
	)
	assert.Equal(t, core.Row{"sku": "BRK-001", "quantity": int64(15), "unit_price": 60.0}, row)
}

func TestParseOp(t *testing.T) {
	assert.Equal(t, core.ChangeInsert, parseOp("INSERT"))
	assert.Equal(t, core.ChangeDelete, parseOp(" delete\n"))
	assert.Equal(t, core.ChangeUpdate, parseOp("TRUNCATE"))
	assert.Equal(t, core.ChangeUpdate, parseOp(""))
}

func TestChannelNameAndTriggers(t *testing.T) {
	assert.Equal(t, "fluent_orders", ChannelName("fluent", core.EntityOrders))

	stmts := triggerSQL("fluent", core.EntityOrders)
	require.Len(t, stmts, 2)
	assert.Equal(t, `DROP TRIGGER IF EXISTS "fluent_notify_orders" ON "orders"`, stmts[0])
	assert.Contains(t, stmts[1], `ON "orders"`)
	assert.Contains(t, stmts[1], `fluent_notify_change('fluent_orders')`)
	assert.Contains(t, notifyFunctionSQL, "pg_notify(TG_ARGV[0], TG_OP)")
}

func TestProcedureError(t *testing.T) {
	err := procedureError(core.ProcDeleteCustomerData, &pgconn.PgError{Code: codeNoDataFound, Message: "customer not found"})
	assert.ErrorIs(t, err, core.ErrNoRows)

	cause := errors.New("connection refused")
	err = procedureError(core.ProcDecryptField, cause)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, core.ErrNoRows)
}
