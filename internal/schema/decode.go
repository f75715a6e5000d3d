package schema

import (
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/fluent/internal/core"
)

// Decode converts rows into typed values. Columns without a matching field
// are ignored; a row whose values do not fit the field types fails the whole
// decode.
func Decode[T any](rows []core.Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for i, row := range rows {
		var v T
		if err := DecodeRow(row, &v); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// DecodeRow converts a single row into dst.
func DecodeRow(row core.Row, dst any) error {
	b, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}
