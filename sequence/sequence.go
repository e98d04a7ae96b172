// Package sequence produces zero-padded, per-(table, group) monotonic
// document numbers under a serializing row lock.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
)

// DefaultTable is the name of the counter table.
const DefaultTable = "sequence"

// DefaultFormat is the zero-padding format used when none is given.
const DefaultFormat = "0000"

// Generator allocates grouped document numbers. Counter rows are
// created lazily on first use and only ever grow, except through an
// explicit administrative Reset.
type Generator struct {
	drv   dialect.Driver
	table string
	now   func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithTable overrides the counter table name.
func WithTable(name string) Option {
	return func(g *Generator) { g.table = name }
}

// New returns a Generator using the given driver.
func New(drv dialect.Driver, opts ...Option) *Generator {
	g := &Generator{drv: drv, table: DefaultTable, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// DateKey normalizes a time into the yyyy-MM-dd group key form.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Pad zero-pads n to the width of format (a string of digits, e.g.
// "0000" for four). Numbers wider than the format keep their digits.
func Pad(n int64, format string) string {
	width := len(format)
	if width == 0 {
		width = len(DefaultFormat)
	}
	return fmt.Sprintf("%0*d", width, n)
}

// NextNumber allocates the next number for (table, group) inside the
// caller's transaction, so the number and the document consuming it
// commit or roll back together. Concurrent calls for the same group
// serialize on a row-exclusive lock held until the transaction ends;
// different groups do not block each other. A lock-wait timeout
// surfaces as a backend error; the caller retries the whole business
// transaction, not just this step.
func (g *Generator) NextNumber(ctx context.Context, tx dialect.ExecQuerier, table, group, format string) (string, error) {
	if format == "" {
		format = DefaultFormat
	}
	n, ok, err := g.lockedRead(ctx, tx, table, group)
	if err != nil {
		return "", err
	}
	if ok {
		return Pad(n+1, format), g.bump(ctx, tx, table, group, n+1)
	}
	if err := g.insert(ctx, tx, table, group, format); err != nil {
		// A racer may have created the counter first; its insert wins
		// and ours reduces to the locked increment path.
		if dbe := tabula.TranslateDB(err); dbe != nil && dbe.Entry.Name == tabula.CodeDuplicateKey {
			n, ok, err = g.lockedRead(ctx, tx, table, group)
			if err != nil {
				return "", err
			}
			if !ok {
				return "", fmt.Errorf("sequence: counter %s/%s vanished after conflict", table, group)
			}
			return Pad(n+1, format), g.bump(ctx, tx, table, group, n+1)
		}
		return "", err
	}
	return Pad(1, format), nil
}

// lockedRead reads the counter under a row-exclusive lock that the
// backend holds until the transaction commits or rolls back.
func (g *Generator) lockedRead(ctx context.Context, tx dialect.ExecQuerier, table, group string) (int64, bool, error) {
	stmt, args := sql.Dialect(g.drv.Dialect()).
		Select("currentNumber").
		From(g.table).
		Where(sql.And(
			sql.EQ("tableName", table),
			sql.EQ("groupKey", group),
		)).
		Query()
	switch g.drv.Dialect() {
	case dialect.MySQL, dialect.Postgres:
		stmt += " FOR UPDATE"
	// sqlite write transactions already serialize.
	}
	rows := &sql.Rows{}
	if err := tx.Query(ctx, stmt, args, rows); err != nil {
		return 0, false, fmt.Errorf("sequence: read %s/%s: %w", table, group, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, false, rows.Err()
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, false, fmt.Errorf("sequence: read %s/%s: %w", table, group, err)
	}
	return n, true, nil
}

func (g *Generator) bump(ctx context.Context, tx dialect.ExecQuerier, table, group string, n int64) error {
	stmt, args := sql.Dialect(g.drv.Dialect()).Update(g.table).
		Set("currentNumber", n).
		Set("modifiedOn", g.now()).
		Where(sql.And(
			sql.EQ("tableName", table),
			sql.EQ("groupKey", group),
		)).
		Query()
	if err := tx.Exec(ctx, stmt, args, nil); err != nil {
		return fmt.Errorf("sequence: increment %s/%s: %w", table, group, err)
	}
	return nil
}

func (g *Generator) insert(ctx context.Context, tx dialect.ExecQuerier, table, group, format string) error {
	now := g.now()
	stmt, args := sql.Dialect(g.drv.Dialect()).Insert(g.table).
		Columns("tableName", "groupKey", "currentNumber", "numberFormat", "createdOn", "modifiedOn").
		Values(table, group, 1, format, now, now).
		Query()
	if err := tx.Exec(ctx, stmt, args, nil); err != nil {
		return fmt.Errorf("sequence: create %s/%s: %w", table, group, err)
	}
	return nil
}

// Peek reads the current number without locking. It is for display
// only and must not be used to allocate a number. A missing counter
// reads as zero.
func (g *Generator) Peek(ctx context.Context, table, group string) (int64, error) {
	stmt, args := sql.Dialect(g.drv.Dialect()).
		Select("currentNumber").
		From(g.table).
		Where(sql.And(
			sql.EQ("tableName", table),
			sql.EQ("groupKey", group),
		)).
		Query()
	rows := &sql.Rows{}
	if err := g.drv.Query(ctx, stmt, args, rows); err != nil {
		return 0, fmt.Errorf("sequence: peek %s/%s: %w", table, group, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return 0, rows.Err()
	}
	var n int64
	if err := rows.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Reset is the administrative override setting a counter to an exact
// value. The counter is created when missing.
func (g *Generator) Reset(ctx context.Context, table, group string, value int64) error {
	tx, err := g.drv.Tx(ctx)
	if err != nil {
		return err
	}
	_, ok, err := g.lockedRead(ctx, tx, table, group)
	if err == nil && !ok {
		err = g.insert(ctx, tx, table, group, DefaultFormat)
	}
	if err == nil {
		err = g.bump(ctx, tx, table, group, value)
	}
	if err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			err = fmt.Errorf("%w: rolling back transaction: %v", err, rerr)
		}
		return err
	}
	return tx.Commit()
}
