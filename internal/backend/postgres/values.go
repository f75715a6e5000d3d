package postgres

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/fluent/internal/core"
)

// fromDB converts a value decoded by pgx into the plain Go value rows carry:
// uuids become strings, numerics become float64, timestamps become RFC 3339
// text and dates become "2006-01-02".
func fromDB(v any, oid uint32) any {
	switch val := v.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case time.Time:
		if oid == pgtype.DateOID {
			return val.Format("2006-01-02")
		}
		return val.UTC().Format(time.RFC3339Nano)
	case pgtype.Time:
		if !val.Valid {
			return nil
		}
		return time.UnixMicro(val.Microseconds).UTC().Format("15:04:05")
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case []byte:
		if oid == pgtype.JSONOID || oid == pgtype.JSONBOID {
			var decoded any
			if err := json.Unmarshal(val, &decoded); err == nil {
				return decoded
			}
		}
		return string(val)
	default:
		return v
	}
}

// toArg converts a row or filter value into a bind parameter. JSON
// containers are passed as jsonb text.
func toArg(v any) any {
	switch val := v.(type) {
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return v
		}
		return string(b)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

// scanRow builds a core.Row from one result row.
func scanRow(names []string, oids []uint32, values []any) core.Row {
	row := make(core.Row, len(names))
	for i, name := range names {
		row[name] = fromDB(values[i], oids[i])
	}
	return row
}
