package executor

import (
	"context"
	"fmt"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
)

// ReconcileResult reports what a reconciliation changed.
type ReconcileResult struct {
	Inserted []int64
	Updated  int
	Deleted  int
}

// Reconcile replaces the table's state for the key space covered by
// the incoming snapshot: incoming rows matching an existing row by
// key tuple are updated, unmatched incoming rows are inserted, and
// existing rows missing from the snapshot are soft-deleted.
//
// The snapshot must be the complete intended state for the key space
// it covers; a partial snapshot soft-deletes the rows it omits. An
// empty snapshot is rejected rather than interpreted as "delete
// everything". The existing rows considered are scoped to the values
// of the first key column present in the snapshot. The operation is
// idempotent: reconciling the same snapshot twice leaves the same
// final state.
func (e *Executor) Reconcile(ctx context.Context, table string, rows []Row, keys []string, modifiedBy string) (*ReconcileResult, error) {
	if len(rows) == 0 {
		return nil, tabula.NewError(tabula.CodeEmptyRows, table)
	}
	if len(keys) == 0 {
		return nil, tabula.NewError(tabula.CodeInvalidParameter, "primaryKeys")
	}
	res := &ReconcileResult{}
	err := e.WithTx(ctx, func(tx dialect.Tx) error {
		existing, err := e.existingKeys(ctx, tx, table, rows, keys)
		if err != nil {
			return err
		}
		var inserts []Row
		seen := make(map[string]struct{}, len(rows))
		for _, row := range rows {
			key := keyOf(row, keys)
			seen[key] = struct{}{}
			id, ok := existing[key]
			if !ok {
				inserts = append(inserts, row)
				continue
			}
			update := make(Row, len(row)+1)
			for k, v := range row {
				update[k] = v
			}
			update[e.rules.System.ID] = id
			if err := e.UpdateByKeyTx(ctx, tx, table, []Row{update}); err != nil {
				return err
			}
			res.Updated++
		}
		var stale []any
		for key, id := range existing {
			if _, ok := seen[key]; !ok {
				stale = append(stale, id)
			}
		}
		if len(stale) > 0 {
			if err := e.SetDeletedTx(ctx, tx, table, stale, true, modifiedBy); err != nil {
				return err
			}
			res.Deleted = len(stale)
		}
		if len(inserts) > 0 {
			ids, err := e.CreateManyTx(ctx, tx, table, inserts)
			if err != nil {
				return err
			}
			res.Inserted = ids
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Invalidate(ctx, table)
	return res, nil
}

// existingKeys loads the live rows of the snapshot's key space as a
// key tuple -> id index.
func (e *Executor) existingKeys(ctx context.Context, conn dialect.ExecQuerier, table string, rows []Row, keys []string) (map[string]int64, error) {
	sys := e.rules.System
	scope := make([]any, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		v := fmt.Sprint(row[keys[0]])
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			scope = append(scope, row[keys[0]])
		}
	}
	stmt, args := sql.Dialect(e.drv.Dialect()).
		Select(append([]string{sys.ID}, keys...)...).
		From(table).
		Where(sql.And(
			sql.EQ(sys.IsDelete, false),
			sql.In(keys[0], scope...),
		)).
		Query()
	found, err := e.queryRows(ctx, conn, stmt, args)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]int64, len(found))
	for _, row := range found {
		id, err := asInt64(row[sys.ID])
		if err != nil {
			return nil, fmt.Errorf("executor: reconcile %s: %w", table, err)
		}
		existing[keyOf(row, keys)] = id
	}
	return existing, nil
}

func asInt64(v any) (int64, error) {
	switch v := v.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		var id int64
		_, err := fmt.Sscan(v, &id)
		return id, err
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}
