package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pterm/pterm"

	"github.com/JonMunkholm/fluent/internal/core"
)

// tableColumns resolves the columns to show: the selected ones, or every
// known column when the query selects all.
func tableColumns(def core.EntityDefinition, selected []string) []string {
	for _, c := range selected {
		if c == "*" {
			return def.ColumnNames()
		}
	}
	if len(selected) == 0 {
		return def.ColumnNames()
	}
	return selected
}

// tableData builds a header row plus one row per record.
func tableData(columns []string, rows []core.Row) pterm.TableData {
	data := make(pterm.TableData, 0, len(rows)+1)
	data = append(data, columns)
	for _, r := range rows {
		line := make([]string, len(columns))
		for i, c := range columns {
			line[i] = formatCell(r[c])
		}
		data = append(data, line)
	}
	return data
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', 2, 64)
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

// renderSnapshot renders a status line and the rows of snap as a table.
func renderSnapshot(def core.EntityDefinition, columns []string, snap core.Snapshot) (string, error) {
	var b strings.Builder

	status := fmt.Sprintf("%s: %d rows, %s, version %d", def.Label, len(snap.Rows), snap.State, snap.Version)
	if !snap.FetchedAt.IsZero() {
		status += ", fetched " + snap.FetchedAt.Format("15:04:05")
	}
	b.WriteString(pterm.FgCyan.Sprint(status))
	b.WriteString("\n")

	if snap.Err != nil {
		b.WriteString(pterm.FgRed.Sprint(core.FormatUserError(snap.Err)))
		b.WriteString("\n")
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(tableData(columns, snap.Rows)).Srender()
	if err != nil {
		return "", fmt.Errorf("render table: %w", err)
	}
	b.WriteString(table)
	return b.String(), nil
}
