// Package engine bundles the catalog provider, validation pipeline,
// executor and sequence generator behind the operations the business
// services consume. Every operation reports through the uniform
// envelope and never lets an error escape uncaught.
package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/text/language"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/catalog"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/executor"
	"github.com/syssam/tabula/query"
	"github.com/syssam/tabula/sequence"
	"github.com/syssam/tabula/validate"
)

// Row is one field -> value input record.
type Row = validate.Row

// Engine is the facade the business services call.
type Engine struct {
	drv      dialect.Driver
	rules    *validate.Rules
	catalog  *catalog.Provider
	exec     *executor.Executor
	seq      *sequence.Generator
	log      *slog.Logger
	cache    tabula.Cache
	scopedOr bool
	locales  []language.Tag
	local    map[string]bool
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules sets the validation rule tables.
func WithRules(r *validate.Rules) Option {
	return func(e *Engine) { e.rules = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCache enables search-result caching.
func WithCache(c tabula.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithScopedOr makes mixed AND/OR searches scope the AND conditions
// over the OR alternatives instead of the historical flat join.
func WithScopedOr() Option {
	return func(e *Engine) { e.scopedOr = true }
}

// WithLocales declares the locales carrying localized column
// variants, the first being the fallback, and the columns that have
// them.
func WithLocales(localized map[string]bool, tags ...language.Tag) Option {
	return func(e *Engine) {
		e.locales = tags
		e.local = localized
	}
}

// New returns an Engine on top of the given driver.
func New(drv dialect.Driver, opts ...Option) *Engine {
	e := &Engine{
		drv:   drv,
		rules: validate.Default(),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.catalog = catalog.NewProvider(drv)
	execOpts := []executor.Option{executor.WithRules(e.rules), executor.WithLogger(e.log)}
	if e.cache != nil {
		execOpts = append(execOpts, executor.WithCache(e.cache))
	}
	e.exec = executor.New(drv, execOpts...)
	e.seq = sequence.New(drv)
	return e
}

// Catalog exposes the metadata provider.
func (e *Engine) Catalog() *catalog.Provider { return e.catalog }

// Executor exposes the CRUD executor for services that manage their
// own transactions.
func (e *Engine) Executor() *executor.Executor { return e.exec }

// Sequence exposes the document number generator.
func (e *Engine) Sequence() *sequence.Generator { return e.seq }

// compiler builds the query compiler for this engine's driver.
func (e *Engine) compiler(locale language.Tag) *query.Compiler {
	return &query.Compiler{
		Dialect:   e.drv.Dialect(),
		ScopedOr:  e.scopedOr,
		Locales:   e.locales,
		Locale:    locale,
		Localized: e.local,
	}
}

// prepare loads the table metadata, validates the rows for the given
// operation, strips forbidden fields and fills defaults. It returns
// the row errors when validation fails.
func (e *Engine) prepare(ctx context.Context, table string, rows []Row, op validate.Op) ([]catalog.Column, []tabula.RowError, error) {
	cols, err := e.catalog.Columns(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	var required map[string]struct{}
	if op == validate.OpCreate {
		required = catalog.RequiredFields(cols)
	}
	if rowErrs := validate.Validate(rows, required, op, e.rules); len(rowErrs) > 0 {
		return nil, rowErrs, nil
	}
	validate.StripForbidden(rows, op, e.rules)
	if op == validate.OpCreate {
		if err := validate.ApplyDefaults(rows, cols); err != nil {
			return nil, nil, err
		}
	}
	return cols, nil, nil
}

// Create validates and inserts the rows, returning the generated ids.
func (e *Engine) Create(ctx context.Context, table string, rows []Row, createdBy string) tabula.Envelope {
	_, rowErrs, err := e.prepare(ctx, table, rows, validate.OpCreate)
	if err != nil {
		return tabula.FromError(err)
	}
	if len(rowErrs) > 0 {
		return tabula.FromRowErrors(rowErrs)
	}
	e.stampCreate(rows, createdBy)
	ids, err := e.exec.CreateMany(ctx, table, rows)
	if err != nil {
		return tabula.FromError(err)
	}
	return tabula.OK(ids)
}

// CreateNumbered is Create with a document number allocated from the
// sequence generator inside the same transaction as the insert, so
// the number becomes visible only when the document commits.
func (e *Engine) CreateNumbered(ctx context.Context, table string, rows []Row, createdBy, numberField, group, format string) tabula.Envelope {
	_, rowErrs, err := e.prepare(ctx, table, rows, validate.OpCreate)
	if err != nil {
		return tabula.FromError(err)
	}
	if len(rowErrs) > 0 {
		return tabula.FromRowErrors(rowErrs)
	}
	e.stampCreate(rows, createdBy)
	var ids []int64
	err = e.exec.WithTx(ctx, func(tx dialect.Tx) error {
		for _, row := range rows {
			num, err := e.seq.NextNumber(ctx, tx, table, group, format)
			if err != nil {
				return err
			}
			row[numberField] = num
		}
		var err error
		ids, err = e.exec.CreateManyTx(ctx, tx, table, rows)
		return err
	})
	if err != nil {
		return tabula.FromError(err)
	}
	return tabula.OK(ids)
}

// Update applies partial updates by primary key.
func (e *Engine) Update(ctx context.Context, table string, rows []Row, modifiedBy string) tabula.Envelope {
	_, rowErrs, err := e.prepare(ctx, table, rows, validate.OpUpdate)
	if err != nil {
		return tabula.FromError(err)
	}
	if len(rowErrs) > 0 {
		return tabula.FromRowErrors(rowErrs)
	}
	sys := e.rules.System
	for _, row := range rows {
		if _, ok := row[sys.ModifiedBy]; !ok {
			row[sys.ModifiedBy] = modifiedBy
		}
	}
	if err := e.exec.UpdateByKey(ctx, table, rows); err != nil {
		return tabula.FromError(err)
	}
	return tabula.OK(nil)
}

// Delete soft-deletes the rows identified by the id field.
func (e *Engine) Delete(ctx context.Context, table string, rows []Row, modifiedBy string) tabula.Envelope {
	if rowErrs := validate.Validate(rows, nil, validate.OpDelete, e.rules); len(rowErrs) > 0 {
		return tabula.FromRowErrors(rowErrs)
	}
	ids := e.collectIDs(rows)
	if err := e.exec.SoftDelete(ctx, table, ids, modifiedBy); err != nil {
		return tabula.FromError(err)
	}
	return tabula.OK(nil)
}

// SetDeleted flips the soft-delete flag to the value each row
// carries in its isDelete field. Mixed-flag batches run in one
// transaction; all rows flip or none do.
func (e *Engine) SetDeleted(ctx context.Context, table string, rows []Row, modifiedBy string) tabula.Envelope {
	if rowErrs := validate.Validate(rows, nil, validate.OpIsDelete, e.rules); len(rowErrs) > 0 {
		return tabula.FromRowErrors(rowErrs)
	}
	sys := e.rules.System
	byFlag := map[bool][]any{}
	for _, row := range rows {
		flag := truthy(row[sys.IsDelete])
		byFlag[flag] = append(byFlag[flag], row[sys.ID])
	}
	err := e.exec.WithTx(ctx, func(tx dialect.Tx) error {
		for _, flag := range []bool{true, false} {
			ids, ok := byFlag[flag]
			if !ok {
				continue
			}
			if err := e.exec.SetDeletedTx(ctx, tx, table, ids, flag, modifiedBy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return tabula.FromError(err)
	}
	e.exec.Invalidate(ctx, table)
	return tabula.OK(nil)
}

// Reconcile replaces the table's state for the snapshot's key space.
func (e *Engine) Reconcile(ctx context.Context, table string, rows []Row, keys []string, modifiedBy string) tabula.Envelope {
	_, rowErrs, err := e.prepare(ctx, table, rows, validate.OpCreate)
	if err != nil {
		return tabula.FromError(err)
	}
	if len(rowErrs) > 0 {
		return tabula.FromRowErrors(rowErrs)
	}
	res, err := e.exec.Reconcile(ctx, table, rows, keys, modifiedBy)
	if err != nil {
		return tabula.FromError(err)
	}
	return tabula.OK(res)
}

// Search compiles and runs the spec, returning the matching rows.
func (e *Engine) Search(ctx context.Context, spec query.SearchSpec) tabula.Envelope {
	return e.SearchLocalized(ctx, spec, language.Und)
}

// SearchLocalized is Search with an explicit requested locale for
// localized column projection.
func (e *Engine) SearchLocalized(ctx context.Context, spec query.SearchSpec, locale language.Tag) tabula.Envelope {
	rows, err := e.exec.Search(ctx, e.compiler(locale), spec)
	if err != nil {
		return tabula.FromError(err)
	}
	return tabula.OK(rows)
}

// NextNumber allocates a document number in its own transaction.
// Prefer CreateNumbered so the number shares the document's
// transaction.
func (e *Engine) NextNumber(ctx context.Context, table, group, format string) tabula.Envelope {
	var num string
	err := e.exec.WithTx(ctx, func(tx dialect.Tx) error {
		var err error
		num, err = e.seq.NextNumber(ctx, tx, table, group, format)
		return err
	})
	if err != nil {
		return tabula.FromError(err)
	}
	return tabula.OK(num)
}

func (e *Engine) stampCreate(rows []Row, createdBy string) {
	sys := e.rules.System
	now := e.now()
	for _, row := range rows {
		row[sys.IsDelete] = false
		row[sys.CreatedOn] = now
		if _, ok := row[sys.CreatedBy]; !ok {
			row[sys.CreatedBy] = createdBy
		}
	}
}

func (e *Engine) collectIDs(rows []Row) []any {
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row[e.rules.System.ID])
	}
	return ids
}

func truthy(v any) bool {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return v == "1" || v == "true"
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return false
	}
}
