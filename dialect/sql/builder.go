package sql

import (
	"strconv"
	"strings"

	"github.com/syssam/tabula/dialect"
)

// Querier wraps the Query method. It is implemented by all
// statement builders and by compiled predicates.
type Querier interface {
	// Query returns the query representation of the element
	// and its arguments (if any).
	Query() (string, []any)
}

// Builder is the base query builder shared by all statement builders.
// It tracks bound arguments and renders dialect-specific placeholders
// ($N for postgres, ? otherwise).
type Builder struct {
	sb      strings.Builder
	dialect string
	args    []any
	// total reports the total number of arguments so far. It is
	// kept separate from len(args) so that nested builders can
	// continue the numbering of their parent.
	total int
}

// NewBuilder returns a new Builder for the given dialect.
func NewBuilder(dialect string) *Builder {
	return &Builder{dialect: dialect}
}

// SetDialect sets the builder dialect.
func (b *Builder) SetDialect(dialect string) { b.dialect = dialect }

// Dialect returns the builder dialect.
func (b *Builder) Dialect() string { return b.dialect }

// SetTotal sets the value of the total field, to continue the
// placeholder numbering of an outer builder.
func (b *Builder) SetTotal(total int) { b.total = total }

// Total returns the total number of arguments so far.
func (b *Builder) Total() int { return b.total }

// WriteString appends the string s to the query.
func (b *Builder) WriteString(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends the given identifier after sanitizing it. Every
// character outside [A-Za-z0-9_.] is dropped, so caller-supplied
// field names can never break out of the identifier position.
func (b *Builder) Ident(s string) *Builder {
	b.sb.WriteString(sanitizeIdent(s))
	return b
}

// Arg binds the given value and writes its placeholder.
func (b *Builder) Arg(v any) *Builder {
	b.total++
	b.args = append(b.args, v)
	switch b.dialect {
	case dialect.Postgres:
		b.sb.WriteString("$")
		b.sb.WriteString(strconv.Itoa(b.total))
	default:
		b.sb.WriteString("?")
	}
	return b
}

// Args binds the given values comma-separated.
func (b *Builder) Args(vs ...any) *Builder {
	for i, v := range vs {
		if i > 0 {
			b.Comma()
		}
		b.Arg(v)
	}
	return b
}

// Comma writes a comma separator.
func (b *Builder) Comma() *Builder { return b.WriteString(", ") }

// Pad writes a single space.
func (b *Builder) Pad() *Builder { return b.WriteString(" ") }

// String returns the accumulated query text.
func (b *Builder) String() string { return b.sb.String() }

// Query implements the Querier interface.
func (b *Builder) Query() (string, []any) { return b.sb.String(), b.args }

// join renders the given querier into b, continuing the
// placeholder numbering.
func (b *Builder) join(q Querier) {
	if p, ok := q.(*Predicate); ok {
		p.renderInto(b)
		return
	}
	query, args := q.Query()
	b.sb.WriteString(query)
	b.args = append(b.args, args...)
	b.total += len(args)
}

// sanitizeIdent drops every rune outside [A-Za-z0-9_.] so that
// caller-controlled field names cannot carry SQL text.
func sanitizeIdent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9', r == '_', r == '.':
			return r
		}
		return -1
	}, s)
}

// DialectBuilder prefixes all root builders with the given dialect.
type DialectBuilder struct {
	dialect string
}

// Dialect creates a builder factory for the configured dialect.
//
//	Dialect(dialect.Postgres).Select("id").From("orders")
func Dialect(name string) *DialectBuilder {
	return &DialectBuilder{dialect: name}
}

// Select creates a SelectBuilder for the configured dialect.
func (d *DialectBuilder) Select(columns ...string) *SelectBuilder {
	s := Select(columns...)
	s.SetDialect(d.dialect)
	return s
}

// Insert creates an InsertBuilder for the configured dialect.
func (d *DialectBuilder) Insert(table string) *InsertBuilder {
	i := Insert(table)
	i.SetDialect(d.dialect)
	return i
}

// Update creates an UpdateBuilder for the configured dialect.
func (d *DialectBuilder) Update(table string) *UpdateBuilder {
	u := Update(table)
	u.SetDialect(d.dialect)
	return u
}

// SelectBuilder builds SELECT statements.
type SelectBuilder struct {
	Builder
	columns []string
	from    string
	where   *Predicate
	order   []string
	limit   *int
	offset  *int
}

// Select returns a SelectBuilder for the given columns.
func Select(columns ...string) *SelectBuilder {
	return &SelectBuilder{columns: columns}
}

// From sets the source table.
func (s *SelectBuilder) From(table string) *SelectBuilder {
	s.from = table
	return s
}

// Where sets or appends (AND) the given predicate.
func (s *SelectBuilder) Where(p *Predicate) *SelectBuilder {
	if s.where != nil {
		s.where = And(s.where, p)
	} else {
		s.where = p
	}
	return s
}

// OrderBy appends the given order terms. Terms are written verbatim
// after identifier sanitization of the column part, so callers may
// pass "name DESC".
func (s *SelectBuilder) OrderBy(terms ...string) *SelectBuilder {
	s.order = append(s.order, terms...)
	return s
}

// Limit sets the LIMIT clause.
func (s *SelectBuilder) Limit(n int) *SelectBuilder {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *SelectBuilder) Offset(n int) *SelectBuilder {
	s.offset = &n
	return s
}

// Query returns the SELECT statement and its bound arguments.
func (s *SelectBuilder) Query() (string, []any) {
	s.WriteString("SELECT ")
	if len(s.columns) == 0 {
		s.WriteString("*")
	}
	for i, c := range s.columns {
		if i > 0 {
			s.Comma()
		}
		s.Ident(c)
	}
	s.WriteString(" FROM ").Ident(s.from)
	if s.where != nil {
		s.WriteString(" WHERE ")
		s.join(s.where)
	}
	if len(s.order) > 0 {
		s.WriteString(" ORDER BY ")
		for i, o := range s.order {
			if i > 0 {
				s.Comma()
			}
			s.WriteString(orderTerm(o))
		}
	}
	if s.limit != nil {
		s.WriteString(" LIMIT ").WriteString(strconv.Itoa(*s.limit))
	}
	if s.offset != nil {
		s.WriteString(" OFFSET ").WriteString(strconv.Itoa(*s.offset))
	}
	return s.Builder.Query()
}

// orderTerm sanitizes an "ident [ASC|DESC]" order term.
func orderTerm(o string) string {
	ident, dir, found := strings.Cut(strings.TrimSpace(o), " ")
	ident = sanitizeIdent(ident)
	if !found {
		return ident
	}
	if strings.EqualFold(dir, "ASC") {
		return ident + " ASC"
	}
	return ident + " DESC"
}

// InsertBuilder builds INSERT statements. Multiple calls to Values
// produce a single multi-row insert.
type InsertBuilder struct {
	Builder
	table     string
	columns   []string
	values    [][]any
	returning []string
	defaults  bool
}

// Insert returns an InsertBuilder for the given table.
func Insert(table string) *InsertBuilder {
	return &InsertBuilder{table: table}
}

// Columns sets the insert columns.
func (i *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	i.columns = columns
	return i
}

// Values appends one row of values.
func (i *InsertBuilder) Values(values ...any) *InsertBuilder {
	i.values = append(i.values, values)
	return i
}

// Default sets the insert to use the DEFAULT VALUES clause.
func (i *InsertBuilder) Default() *InsertBuilder {
	i.defaults = true
	return i
}

// Returning adds a RETURNING clause. It is rendered only for
// dialects that support returning generated keys from an insert.
func (i *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	i.returning = columns
	return i
}

// Query returns the INSERT statement and its bound arguments.
func (i *InsertBuilder) Query() (string, []any) {
	i.WriteString("INSERT INTO ").Ident(i.table)
	if i.defaults && len(i.columns) == 0 {
		i.WriteString(" DEFAULT VALUES")
	} else {
		i.WriteString(" (")
		for j, c := range i.columns {
			if j > 0 {
				i.Comma()
			}
			i.Ident(c)
		}
		i.WriteString(") VALUES ")
		for j, row := range i.values {
			if j > 0 {
				i.Comma()
			}
			i.WriteString("(").Args(row...).WriteString(")")
		}
	}
	if len(i.returning) > 0 && i.dialect != dialect.MySQL {
		i.WriteString(" RETURNING ")
		for j, c := range i.returning {
			if j > 0 {
				i.Comma()
			}
			i.Ident(c)
		}
	}
	return i.Builder.Query()
}

// UpdateBuilder builds UPDATE statements.
type UpdateBuilder struct {
	Builder
	table   string
	columns []string
	values  []any
	where   *Predicate
}

// Update returns an UpdateBuilder for the given table.
func Update(table string) *UpdateBuilder {
	return &UpdateBuilder{table: table}
}

// Set assigns a value to the given column.
func (u *UpdateBuilder) Set(column string, v any) *UpdateBuilder {
	u.columns = append(u.columns, column)
	u.values = append(u.values, v)
	return u
}

// Where sets or appends (AND) the given predicate.
func (u *UpdateBuilder) Where(p *Predicate) *UpdateBuilder {
	if u.where != nil {
		u.where = And(u.where, p)
	} else {
		u.where = p
	}
	return u
}

// Empty reports whether the builder has no assignments.
func (u *UpdateBuilder) Empty() bool { return len(u.columns) == 0 }

// Query returns the UPDATE statement and its bound arguments.
func (u *UpdateBuilder) Query() (string, []any) {
	u.WriteString("UPDATE ").Ident(u.table).WriteString(" SET ")
	for i, c := range u.columns {
		if i > 0 {
			u.Comma()
		}
		u.Ident(c).WriteString(" = ").Arg(u.values[i])
	}
	if u.where != nil {
		u.WriteString(" WHERE ")
		u.join(u.where)
	}
	return u.Builder.Query()
}
