package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/fluent/internal/core"
)

// quoteIdentifier safely quotes a PostgreSQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// selectSQL builds the read for one request. Filters are equality
// predicates joined with AND; every value is a bind parameter.
func selectSQL(entity core.Entity, columns []string, filters []core.Filter) (string, []any) {
	cols := "*"
	if !selectsAll(columns) {
		quoted := make([]string, len(columns))
		for i, c := range columns {
			quoted[i] = quoteIdentifier(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	where, args := whereClause(filters, 1)
	query := fmt.Sprintf("SELECT %s FROM %s%s", cols, quoteIdentifier(string(entity)), where)
	return query, args
}

// updateSQL builds an UPDATE of changes for rows matching match. Changed
// columns are applied in name order so the statement text is stable.
func updateSQL(entity core.Entity, changes map[string]any, match []core.Filter) (string, []any) {
	names := make([]string, 0, len(changes))
	for k := range changes {
		names = append(names, k)
	}
	sort.Strings(names)

	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+len(match))
	for i, name := range names {
		sets[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(name), i+1)
		args = append(args, toArg(changes[name]))
	}

	where, whereArgs := whereClause(match, len(names)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s%s", quoteIdentifier(string(entity)), strings.Join(sets, ", "), where)
	return query, args
}

// procedureSQL calls a function with named arguments, the way the hosted
// API's rpc endpoint does.
func procedureSQL(name string, args map[string]any) (string, []any) {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)

	params := make([]string, len(names))
	values := make([]any, len(names))
	for i, n := range names {
		params[i] = fmt.Sprintf("%s => $%d", quoteIdentifier(n), i+1)
		values[i] = toArg(args[n])
	}

	return fmt.Sprintf("SELECT %s(%s)", quoteIdentifier(name), strings.Join(params, ", ")), values
}

func whereClause(filters []core.Filter, firstArg int) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}

	conditions := make([]string, len(filters))
	args := make([]any, len(filters))
	for i, f := range filters {
		conditions[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(f.Field), firstArg+i)
		args[i] = toArg(f.Value)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func selectsAll(columns []string) bool {
	if len(columns) == 0 {
		return true
	}
	for _, c := range columns {
		if c == "*" {
			return true
		}
	}
	return false
}
