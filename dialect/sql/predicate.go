package sql

// Predicate is a where-clause fragment. Rendering is deferred until
// the predicate is joined into a statement builder, so placeholder
// numbering stays continuous across nested fragments.
type Predicate struct {
	dialect string
	fns     []func(*Builder)
}

// P returns a new predicate from the given render functions.
func P(fns ...func(*Builder)) *Predicate {
	return &Predicate{fns: fns}
}

// SetDialect sets the dialect used when the predicate is rendered
// standalone with Query.
func (p *Predicate) SetDialect(dialect string) *Predicate {
	p.dialect = dialect
	return p
}

// Append adds a render function to the predicate.
func (p *Predicate) Append(fn func(*Builder)) *Predicate {
	p.fns = append(p.fns, fn)
	return p
}

// Query renders the predicate standalone and returns its text and
// bound arguments.
func (p *Predicate) Query() (string, []any) {
	b := NewBuilder(p.dialect)
	p.renderInto(b)
	return b.Query()
}

func (p *Predicate) renderInto(b *Builder) {
	for _, fn := range p.fns {
		fn(b)
	}
}

// join writes the given predicates separated by sep. No grouping
// parentheses are added; callers that need scoping wrap the operands
// with Parens.
func join(sep string, ps ...*Predicate) *Predicate {
	return P(func(b *Builder) {
		for i, p := range ps {
			if i > 0 {
				b.WriteString(sep)
			}
			p.renderInto(b)
		}
	})
}

// And joins the given predicates with AND.
func And(ps ...*Predicate) *Predicate {
	if len(ps) == 1 {
		return ps[0]
	}
	return join(" AND ", ps...)
}

// Or joins the given predicates with OR.
func Or(ps ...*Predicate) *Predicate {
	if len(ps) == 1 {
		return ps[0]
	}
	return join(" OR ", ps...)
}

// Parens wraps the given predicate with parentheses.
func Parens(p *Predicate) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("(")
		p.renderInto(b)
		b.WriteString(")")
	})
}

// ExprP returns a predicate from the given raw expression and its
// arguments. The expression is written verbatim and must not contain
// caller-controlled text.
func ExprP(expr string, args ...any) *Predicate {
	return P(func(b *Builder) {
		b.WriteString(expr)
		b.args = append(b.args, args...)
		b.total += len(args)
	})
}

func binary(col, op string, v any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" " + op + " ").Arg(v)
	})
}

// EQ returns a column = value predicate.
func EQ(col string, v any) *Predicate { return binary(col, "=", v) }

// NEQ returns a column <> value predicate.
func NEQ(col string, v any) *Predicate { return binary(col, "<>", v) }

// GT returns a column > value predicate.
func GT(col string, v any) *Predicate { return binary(col, ">", v) }

// GTE returns a column >= value predicate.
func GTE(col string, v any) *Predicate { return binary(col, ">=", v) }

// LT returns a column < value predicate.
func LT(col string, v any) *Predicate { return binary(col, "<", v) }

// LTE returns a column <= value predicate.
func LTE(col string, v any) *Predicate { return binary(col, "<=", v) }

// Like returns a column LIKE value predicate.
func Like(col string, v any) *Predicate { return binary(col, "LIKE", v) }

// NotLike returns a column NOT LIKE value predicate.
func NotLike(col string, v any) *Predicate { return binary(col, "NOT LIKE", v) }

// IsNull returns a column IS NULL predicate.
func IsNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" IS NULL")
	})
}

// NotNull returns a column IS NOT NULL predicate.
func NotNull(col string) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" IS NOT NULL")
	})
}

// Empty matches columns that are NULL or hold the empty string.
func Empty(col string) *Predicate {
	return P(func(b *Builder) {
		b.WriteString("(").Ident(col).WriteString(" IS NULL OR ").
			Ident(col).WriteString(" = '')")
	})
}

// In returns a column IN (...) predicate. An empty value list renders
// FALSE so the predicate never matches.
func In(col string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("FALSE")
			return
		}
		b.Ident(col).WriteString(" IN (").Args(vs...).WriteString(")")
	})
}

// NotIn returns a column NOT IN (...) predicate. An empty value list
// renders TRUE so the predicate always matches.
func NotIn(col string, vs ...any) *Predicate {
	return P(func(b *Builder) {
		if len(vs) == 0 {
			b.WriteString("TRUE")
			return
		}
		b.Ident(col).WriteString(" NOT IN (").Args(vs...).WriteString(")")
	})
}

// Between returns a column BETWEEN lo AND hi predicate.
func Between(col string, lo, hi any) *Predicate {
	return P(func(b *Builder) {
		b.Ident(col).WriteString(" BETWEEN ").Arg(lo).WriteString(" AND ").Arg(hi)
	})
}
