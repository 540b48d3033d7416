package sqldriver

import (
	"database/sql"
	"fmt"

	"sessiondb/internal/driver"
)

func scanRows(rows *sql.Rows) (driver.Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return driver.Result{}, fmt.Errorf("get columns: %w", err)
	}
	res := driver.Result{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return driver.Result{}, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v)
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return driver.Result{}, err
	}
	return res, nil
}

// normalizeValue turns driver byte slices into strings so results encode as text.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
