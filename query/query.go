// Package query compiles declarative search descriptions into
// parameterized SQL predicates.
package query

import (
	"strings"

	"golang.org/x/text/language"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect/sql"
)

// Condition is one {field, operate, value} triple. Order conditions
// reuse the shape with the direction carried in Value.
type Condition struct {
	Field   string `json:"field"`
	Operate string `json:"operate"`
	Value   string `json:"value"`
}

// SearchSpec is the declarative wire shape of a search.
type SearchSpec struct {
	Datasheet            string              `json:"datasheet"`
	Localization         bool                `json:"localization"`
	And                  []Condition         `json:"and,omitempty"`
	Or                   []Condition         `json:"or,omitempty"`
	Order                []Condition         `json:"order,omitempty"`
	SQL                  string              `json:"sql,omitempty"`
	SelectPrimaryColumns []string            `json:"selectPrimaryColumns,omitempty"`
	SelectForeignColumns map[string][]string `json:"selectForeignColumns,omitempty"`
}

// operators is the closed set of condition operators. Anything else
// is rejected before any SQL is built.
var operators = map[string]struct{}{
	"=": {}, "!=": {}, "like": {}, "not like": {},
	"null": {}, "not null": {}, "empty": {},
	"<": {}, "<=": {}, ">": {}, ">=": {},
	"in": {}, "not in": {}, "between": {},
}

// Compiled is the output of the compiler: a parameterized predicate
// and an order clause, appendable to a base SELECT.
type Compiled struct {
	Predicate string
	Args      []any
	OrderBy   string
}

// Compiler turns SearchSpecs into SQL fragments. The zero value
// compiles for the default placeholder style (?).
type Compiler struct {
	// Dialect selects the placeholder style.
	Dialect string
	// ScopedOr controls how mixed AND/OR lists combine. When false
	// (the historical behavior) the joined AND block becomes one more
	// OR operand, unparenthesized, so the AND conditions do not scope
	// the OR terms. When true the AND block is parenthesized and
	// conjoined with the parenthesized OR block.
	ScopedOr bool
	// Locales are the locales with localized column variants, the
	// first one being the fallback. Used when a spec asks for
	// localization.
	Locales []language.Tag
	// Locale is the requested locale, best-matched against Locales.
	Locale language.Tag
	// Localized lists the column names that carry localized variants.
	Localized map[string]bool
}

// Compile validates the spec operators and renders the predicate and
// order clause. Caller values travel only as bound arguments; field
// names are sanitized before interpolation.
func (c *Compiler) Compile(spec SearchSpec) (*Compiled, error) {
	for _, cond := range append(append([]Condition{}, spec.And...), spec.Or...) {
		if _, ok := operators[strings.ToLower(strings.TrimSpace(cond.Operate))]; !ok {
			return nil, tabula.NewError(tabula.CodeInvalidParameter, cond.Operate)
		}
	}
	var pred *sql.Predicate
	andPreds := make([]*sql.Predicate, 0, len(spec.And))
	for _, cond := range spec.And {
		andPreds = append(andPreds, compileCondition(cond))
	}
	if len(andPreds) > 0 {
		pred = sql.And(andPreds...)
	}
	if len(spec.Or) > 0 {
		orPreds := make([]*sql.Predicate, 0, len(spec.Or)+1)
		for _, cond := range spec.Or {
			orPreds = append(orPreds, compileCondition(cond))
		}
		switch {
		case pred == nil:
			pred = sql.Or(orPreds...)
		case c.ScopedOr:
			pred = sql.And(sql.Parens(pred), sql.Parens(sql.Or(orPreds...)))
		default:
			// Historical combination: the AND block is just one more
			// OR operand, so it does not scope the OR terms.
			pred = sql.Or(append([]*sql.Predicate{pred}, orPreds...)...)
		}
	}
	out := &Compiled{OrderBy: c.orderBy(spec.Order)}
	if pred != nil {
		pred.SetDialect(c.Dialect)
		out.Predicate, out.Args = pred.Query()
	}
	return out, nil
}

// compileCondition renders one condition. Simple operators consume
// one parameter, between consumes two, in/not in one per comma-split
// value, and the null family none.
func compileCondition(cond Condition) *sql.Predicate {
	switch strings.ToLower(strings.TrimSpace(cond.Operate)) {
	case "=":
		return sql.EQ(cond.Field, cond.Value)
	case "!=":
		return sql.NEQ(cond.Field, cond.Value)
	case "like":
		return sql.Like(cond.Field, likePattern(cond.Value))
	case "not like":
		return sql.NotLike(cond.Field, likePattern(cond.Value))
	case "null":
		return sql.IsNull(cond.Field)
	case "not null":
		return sql.NotNull(cond.Field)
	case "empty":
		return sql.Empty(cond.Field)
	case "<":
		return sql.LT(cond.Field, cond.Value)
	case "<=":
		return sql.LTE(cond.Field, cond.Value)
	case ">":
		return sql.GT(cond.Field, cond.Value)
	case ">=":
		return sql.GTE(cond.Field, cond.Value)
	case "in":
		return sql.In(cond.Field, splitValues(cond.Value)...)
	case "not in":
		return sql.NotIn(cond.Field, splitValues(cond.Value)...)
	case "between":
		lo, hi, _ := strings.Cut(cond.Value, ",")
		return sql.Between(cond.Field, strings.TrimSpace(lo), strings.TrimSpace(hi))
	default:
		// Unreachable: operators are validated before compilation.
		return sql.EQ(cond.Field, cond.Value)
	}
}

func likePattern(v string) string {
	if strings.ContainsAny(v, "%_") {
		return v
	}
	return "%" + v + "%"
}

func splitValues(v string) []any {
	parts := strings.Split(v, ",")
	vs := make([]any, 0, len(parts))
	for _, p := range parts {
		vs = append(vs, strings.TrimSpace(p))
	}
	return vs
}

// orderBy renders the ORDER BY terms. Direction defaults to DESC
// unless the value equals "ASC" case-insensitively.
func (c *Compiler) orderBy(order []Condition) string {
	if len(order) == 0 {
		return ""
	}
	terms := make([]string, 0, len(order))
	for _, o := range order {
		dir := "DESC"
		if strings.EqualFold(strings.TrimSpace(o.Value), "ASC") {
			dir = "ASC"
		}
		terms = append(terms, o.Field+" "+dir)
	}
	b := sql.NewBuilder(c.Dialect)
	for i, t := range terms {
		if i > 0 {
			b.Comma()
		}
		ident, dir, _ := strings.Cut(t, " ")
		b.Ident(ident).Pad().WriteString(dir)
	}
	return "ORDER BY " + b.String()
}

// Select renders the full SELECT statement for the spec. A raw SQL
// override replaces the whole statement; it is service-authored text,
// never caller input.
func (c *Compiler) Select(spec SearchSpec) (string, []any, error) {
	if spec.SQL != "" {
		return spec.SQL, nil, nil
	}
	compiled, err := c.Compile(spec)
	if err != nil {
		return "", nil, err
	}
	s := sql.Dialect(c.Dialect).Select(c.projection(spec)...).From(spec.Datasheet)
	if compiled.Predicate != "" {
		s.Where(sql.ExprP(compiled.Predicate, compiled.Args...))
	}
	for _, o := range spec.Order {
		dir := "DESC"
		if strings.EqualFold(strings.TrimSpace(o.Value), "ASC") {
			dir = "ASC"
		}
		s.OrderBy(o.Field + " " + dir)
	}
	query, args := s.Query()
	return query, args, nil
}

// projection resolves the projected columns: the top-level columns,
// the per-joined-table columns qualified by their table, and the
// localized variants when the spec asks for localization.
func (c *Compiler) projection(spec SearchSpec) []string {
	var cols []string
	for _, col := range spec.SelectPrimaryColumns {
		cols = append(cols, c.localize(spec, col))
	}
	for table, fcols := range spec.SelectForeignColumns {
		for _, col := range fcols {
			cols = append(cols, table+"."+col)
		}
	}
	return cols
}

// localize rewrites a projected column to its locale-suffixed variant
// (for example name -> name_zh_TW) when the spec asks for
// localization and the column carries localized variants.
func (c *Compiler) localize(spec SearchSpec, col string) string {
	if !spec.Localization || !c.Localized[col] || len(c.Locales) == 0 {
		return col
	}
	_, i, _ := language.NewMatcher(c.Locales).Match(c.Locale)
	suffix := strings.ReplaceAll(c.Locales[i].String(), "-", "_")
	return col + "_" + suffix
}
