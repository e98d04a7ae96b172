// Package executor performs table-name-agnostic multi-row create,
// update, soft-delete and reconcile operations.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/validate"
)

// Row is one field -> value record.
type Row = map[string]any

// Executor runs generic CRUD operations through a dialect driver.
// Every multi-row operation is wrapped in exactly one transaction;
// on any error the transaction is rolled back before the error is
// returned.
type Executor struct {
	drv   dialect.Driver
	rules *validate.Rules
	log   *slog.Logger
	cache tabula.Cache
	now   func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithRules sets the rules carrying the system column names.
func WithRules(r *validate.Rules) Option {
	return func(e *Executor) { e.rules = r }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithCache enables search-result caching. Write operations
// invalidate the cached searches of the table they touch.
func WithCache(c tabula.Cache) Option {
	return func(e *Executor) { e.cache = c }
}

// New returns an Executor using the given driver.
func New(drv dialect.Driver, opts ...Option) *Executor {
	e := &Executor{
		drv:   drv,
		rules: validate.Default(),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WithTx runs fn inside one transaction, rolling back before the
// error is surfaced when fn fails.
func (e *Executor) WithTx(ctx context.Context, fn func(tx dialect.Tx) error) error {
	tx, err := e.drv.Tx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}
	return tx.Commit()
}

// CreateMany inserts the rows in one transaction and returns the
// generated primary keys in insertion order.
func (e *Executor) CreateMany(ctx context.Context, table string, rows []Row) ([]int64, error) {
	var ids []int64
	err := e.WithTx(ctx, func(tx dialect.Tx) error {
		var err error
		ids, err = e.CreateManyTx(ctx, tx, table, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.Invalidate(ctx, table)
	return ids, nil
}

// CreateManyTx inserts the rows within the caller's transaction.
func (e *Executor) CreateManyTx(ctx context.Context, conn dialect.ExecQuerier, table string, rows []Row) ([]int64, error) {
	if len(rows) == 0 {
		return nil, tabula.NewError(tabula.CodeEmptyRows, table)
	}
	columns := columnUnion(rows)
	d := e.drv.Dialect()
	if d == dialect.Postgres {
		return e.insertReturning(ctx, conn, table, columns, rows)
	}
	// Backends without RETURNING insert row by row so every generated
	// key is captured in order.
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		query, args := sql.Dialect(d).Insert(table).
			Columns(columns...).
			Values(rowValues(row, columns)...).
			Query()
		var res sql.Result
		if err := conn.Exec(ctx, query, args, &res); err != nil {
			return nil, fmt.Errorf("executor: insert %s: %w", table, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("executor: insert %s: generated key: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Executor) insertReturning(ctx context.Context, conn dialect.ExecQuerier, table string, columns []string, rows []Row) ([]int64, error) {
	b := sql.Dialect(dialect.Postgres).Insert(table).
		Columns(columns...).
		Returning(e.rules.System.ID)
	for _, row := range rows {
		b.Values(rowValues(row, columns)...)
	}
	query, args := b.Query()
	out := &sql.Rows{}
	if err := conn.Query(ctx, query, args, out); err != nil {
		return nil, fmt.Errorf("executor: insert %s: %w", table, err)
	}
	defer out.Close()
	ids := make([]int64, 0, len(rows))
	for out.Next() {
		var id int64
		if err := out.Scan(&id); err != nil {
			return nil, fmt.Errorf("executor: insert %s: scan key: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, out.Err()
}

// UpdateByKey updates each row's supplied columns by primary key, in
// one transaction. Rows update only the columns they carry.
func (e *Executor) UpdateByKey(ctx context.Context, table string, rows []Row) error {
	err := e.WithTx(ctx, func(tx dialect.Tx) error {
		return e.UpdateByKeyTx(ctx, tx, table, rows)
	})
	if err != nil {
		return err
	}
	e.Invalidate(ctx, table)
	return nil
}

// UpdateByKeyTx updates the rows within the caller's transaction.
func (e *Executor) UpdateByKeyTx(ctx context.Context, conn dialect.ExecQuerier, table string, rows []Row) error {
	if len(rows) == 0 {
		return tabula.NewError(tabula.CodeEmptyRows, table)
	}
	sys := e.rules.System
	for i, row := range rows {
		id, ok := row[sys.ID]
		if !ok {
			return tabula.NewError(tabula.CodeMissingFields, i, sys.ID)
		}
		u := sql.Dialect(e.drv.Dialect()).Update(table)
		for _, col := range sortedKeys(row) {
			if col == sys.ID {
				continue
			}
			u.Set(col, row[col])
		}
		if u.Empty() {
			return tabula.NewError(tabula.CodeMissingFields, i, "at least one updatable field")
		}
		if _, ok := row[sys.ModifiedOn]; !ok {
			u.Set(sys.ModifiedOn, e.now())
		}
		query, args := u.Where(sql.EQ(sys.ID, id)).Query()
		if err := conn.Exec(ctx, query, args, nil); err != nil {
			return fmt.Errorf("executor: update %s: %w", table, err)
		}
	}
	return nil
}

// SetDeleted flips the soft-delete flag of the given rows and stamps
// the modification columns. Rows are never physically removed.
func (e *Executor) SetDeleted(ctx context.Context, table string, ids []any, deleted bool, modifiedBy string) error {
	err := e.WithTx(ctx, func(tx dialect.Tx) error {
		return e.SetDeletedTx(ctx, tx, table, ids, deleted, modifiedBy)
	})
	if err != nil {
		return err
	}
	e.Invalidate(ctx, table)
	return nil
}

// SetDeletedTx flips the soft-delete flag within the caller's
// transaction.
func (e *Executor) SetDeletedTx(ctx context.Context, conn dialect.ExecQuerier, table string, ids []any, deleted bool, modifiedBy string) error {
	if len(ids) == 0 {
		return tabula.NewError(tabula.CodeEmptyRows, table)
	}
	sys := e.rules.System
	query, args := sql.Dialect(e.drv.Dialect()).Update(table).
		Set(sys.IsDelete, deleted).
		Set(sys.ModifiedBy, modifiedBy).
		Set(sys.ModifiedOn, e.now()).
		Where(sql.In(sys.ID, ids...)).
		Query()
	if err := conn.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("executor: soft delete %s: %w", table, err)
	}
	return nil
}

// SoftDelete marks the given rows deleted.
func (e *Executor) SoftDelete(ctx context.Context, table string, ids []any, modifiedBy string) error {
	return e.SetDeleted(ctx, table, ids, true, modifiedBy)
}

// Invalidate drops the cached searches of the given table. Callers
// composing *Tx operations into their own transaction call it once
// after commit.
func (e *Executor) Invalidate(ctx context.Context, table string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.DeletePrefix(ctx, table+":"); err != nil {
		e.log.WarnContext(ctx, "cache invalidation failed", "table", table, "err", err)
	}
}

// columnUnion returns the sorted union of the field names across all
// rows, so a single statement shape covers rows with differing keys.
func columnUnion(rows []Row) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for col := range row {
			set[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func rowValues(row Row, columns []string) []any {
	vs := make([]any, len(columns))
	for i, col := range columns {
		vs[i] = row[col] // missing fields insert as NULL
	}
	return vs
}

func sortedKeys(row Row) []string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keyOf joins a row's primary-key values into a comparable tuple.
func keyOf(row Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprint(row[k])
	}
	return strings.Join(parts, "\x00")
}
