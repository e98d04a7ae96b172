// Package catalog reads column metadata from the property catalog
// table and resolves it into semantic row schemas.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-openapi/inflect"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
)

// DefaultTable is the name of the catalog table.
const DefaultTable = "property"

type cached struct {
	cols    []Column
	expires time.Time
}

// Provider reads column descriptors for business tables from the
// catalog table. Concurrent reads for the same table are collapsed
// into one query; results are cached for a short TTL so a batch
// validating many rows shares one catalog read.
type Provider struct {
	drv   dialect.Driver
	table string
	ttl   time.Duration

	sf    singleflight.Group
	mu    sync.RWMutex
	cache map[string]cached
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithCatalogTable overrides the catalog table name.
func WithCatalogTable(name string) ProviderOption {
	return func(p *Provider) { p.table = name }
}

// WithTTL sets how long catalog reads are cached. Zero disables
// caching; every call then issues a read (still deduplicated).
func WithTTL(d time.Duration) ProviderOption {
	return func(p *Provider) { p.ttl = d }
}

// NewProvider returns a Provider reading through the given driver.
func NewProvider(drv dialect.Driver, opts ...ProviderOption) *Provider {
	p := &Provider{
		drv:   drv,
		table: DefaultTable,
		ttl:   time.Minute,
		cache: make(map[string]cached),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Columns returns the column descriptors of the given table, ordered
// by their declared sort position. A table without catalog rows
// yields an empty slice, not an error.
func (p *Provider) Columns(ctx context.Context, table string) ([]Column, error) {
	p.mu.RLock()
	c, ok := p.cache[table]
	p.mu.RUnlock()
	if ok && time.Now().Before(c.expires) {
		return c.cols, nil
	}
	v, err, _ := p.sf.Do(table, func() (any, error) {
		cols, err := p.load(ctx, table)
		if err != nil {
			return nil, err
		}
		if p.ttl > 0 {
			p.mu.Lock()
			p.cache[table] = cached{cols: cols, expires: time.Now().Add(p.ttl)}
			p.mu.Unlock()
		}
		return cols, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Column), nil
}

// Invalidate drops the cached descriptors of the given table.
func (p *Provider) Invalidate(table string) {
	p.mu.Lock()
	delete(p.cache, table)
	p.mu.Unlock()
}

func (p *Provider) load(ctx context.Context, table string) ([]Column, error) {
	query, args := sql.Dialect(p.drv.Dialect()).
		Select("name", "dataType", "length", "scale", "isRequired", "isUnique", "defaultValue", "sort", "itemType").
		From(p.table).
		Where(sql.And(
			sql.EQ("datasheet", table),
			sql.EQ("isDelete", false),
		)).
		OrderBy("sort ASC").
		Query()
	rows := &sql.Rows{}
	if err := p.drv.Query(ctx, query, args, rows); err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", table, err)
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var (
			name, dataType   string
			length, scale    sql.NullInt64
			required, unique sql.NullBool
			defval, itemType sql.NullString
			sortPos          sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &length, &scale, &required, &unique, &defval, &sortPos, &itemType); err != nil {
			return nil, fmt.Errorf("catalog: scan %q: %w", table, err)
		}
		cols = append(cols, Column{
			Name:       inflect.CamelizeDownFirst(name),
			DataType:   dataType,
			Type:       Resolve(dataType),
			Length:     int(length.Int64),
			Scale:      int(scale.Int64),
			Required:   required.Bool,
			Unique:     unique.Bool,
			Default:    defval.String,
			HasDefault: defval.Valid && defval.String != "",
			Sort:       int(sortPos.Int64),
			ItemType:   itemType.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: read %q: %w", table, err)
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Sort < cols[j].Sort })
	return cols, nil
}
