package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/query"
)

// searchTTL bounds how long a cached search stays fresh between
// explicit invalidations.
const searchTTL = 30 * time.Second

// Search compiles and runs the spec, returning the matching rows as
// field -> value maps shaped by the statement's result columns.
func (e *Executor) Search(ctx context.Context, c *query.Compiler, spec query.SearchSpec) ([]map[string]any, error) {
	cc := *c
	if cc.Dialect == "" {
		cc.Dialect = e.drv.Dialect()
	}
	stmt, args, err := cc.Select(spec)
	if err != nil {
		return nil, err
	}
	var key string
	if e.cache != nil && spec.SQL == "" {
		key = tabula.CacheKey{
			Table:     spec.Datasheet,
			Predicate: stmt,
			Args:      fmt.Sprint(args...),
		}.String()
		if data, err := e.cache.Get(ctx, key); err == nil && data != nil {
			if rows, err := tabula.DecodeRows(data); err == nil {
				return rows, nil
			}
		}
	}
	rows, err := e.queryRows(ctx, e.drv, stmt, args)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if data, err := tabula.EncodeRows(rows); err == nil {
			if err := e.cache.Set(ctx, key, data, searchTTL); err != nil {
				e.log.WarnContext(ctx, "cache store failed", "table", spec.Datasheet, "err", err)
			}
		}
	}
	return rows, nil
}

// queryRows runs the statement and scans every result row into a
// field -> value map, using the result set's own column list so no
// table-specific shape is needed.
func (e *Executor) queryRows(ctx context.Context, conn dialect.ExecQuerier, stmt string, args []any) ([]map[string]any, error) {
	rows := &sql.Rows{}
	if err := conn.Query(ctx, stmt, args, rows); err != nil {
		return nil, fmt.Errorf("executor: search: %w", err)
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("executor: search: columns: %w", err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("executor: search: scan: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize converts driver-specific scan values into plain Go
// values: byte slices become strings so row maps survive caching.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
