package store

import (
	"context"
	"time"
)

// QueryRows runs a read-only query and returns every row as a column→value
// map. TEXT values come back as strings and INTEGER values as int64.
// Used by diagnostics and scenario assertions; the domain operations have
// typed accessors.
func (s *Store) QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	db, release, err := s.conn("query")
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ioFailure("query", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, ioFailure("query: columns", err)
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, ioFailure("query: scan", err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			case time.Time:
				row[col] = v.UTC().Format(time.RFC3339Nano)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, ioFailure("query: iterate", err)
	}
	return out, nil
}
