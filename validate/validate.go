// Package validate checks and repairs caller input rows against the
// catalog-declared field rules, keyed by CRUD operation kind.
package validate

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/catalog"
)

// Row is one field -> value input record.
type Row = map[string]any

// Validate checks the rows against the required-field set and the
// operation rules. It returns one aggregated error per offending row,
// or nil when every row passes.
func Validate(rows []Row, required map[string]struct{}, op Op, rules *Rules) []tabula.RowError {
	attempted := requiredFor(required, op, rules)
	if len(rows) == 0 {
		return []tabula.RowError{
			tabula.NewRowError(tabula.CodeEmptyRows, 0, sorted(attempted)),
		}
	}
	forbidden := rules.Forbidden(op)
	var errs []tabula.RowError
	for i, row := range rows {
		var missing []string
		for field := range attempted {
			v, ok := row[field]
			if !ok || IsEmpty(v) {
				missing = append(missing, field)
			}
		}
		if op == OpUpdate && len(missing) == 0 && len(row) < 2 {
			// id alone is not an update; at least one mutable field
			// must come with it.
			missing = append(missing, "at least one updatable field")
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			errs = append(errs, tabula.NewRowError(tabula.CodeMissingFields, i, missing))
			continue
		}
		var invalid []string
		for _, field := range forbidden {
			if _, ok := row[field]; ok {
				invalid = append(invalid, field)
			}
		}
		if len(invalid) > 0 {
			sort.Strings(invalid)
			errs = append(errs, tabula.NewRowError(tabula.CodeInvalidFields, i, invalid))
		}
	}
	return errs
}

// requiredFor extends the metadata-required set with the operation
// minimums: delete operations need the id, and the isDelete operation
// additionally needs the flag itself.
func requiredFor(required map[string]struct{}, op Op, rules *Rules) map[string]struct{} {
	out := make(map[string]struct{}, len(required)+2)
	switch op {
	case OpCreate:
		for f := range required {
			out[f] = struct{}{}
		}
	case OpUpdate:
		out[rules.System.ID] = struct{}{}
	case OpDelete:
		out[rules.System.ID] = struct{}{}
	case OpIsDelete:
		out[rules.System.ID] = struct{}{}
		out[rules.System.IsDelete] = struct{}{}
	}
	return out
}

// IsEmpty reports whether a value counts as absent: nil, a blank
// string, or a non-positive number. Zero and negative ids come from
// uninitialized numeric fields and are treated as not supplied.
func IsEmpty(v any) bool {
	switch v := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case bool:
		return false
	case int:
		return v <= 0
	case int32:
		return v <= 0
	case int64:
		return v <= 0
	case float32:
		return v <= 0
	case float64:
		return v <= 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f <= 0
	default:
		return false
	}
}

// StripForbidden removes the operation's forbidden fields from every
// row in place. It runs only after validation passed.
func StripForbidden(rows []Row, op Op, rules *Rules) {
	for _, row := range rows {
		for _, field := range rules.Forbidden(op) {
			delete(row, field)
		}
	}
}

// ApplyDefaults writes metadata-declared default values into every
// row for fields that are absent or present-but-nil. Explicitly
// supplied values, including non-nil zero values, are never
// overwritten.
func ApplyDefaults(rows []Row, cols []catalog.Column) error {
	for _, c := range cols {
		if !c.HasDefault {
			continue
		}
		for _, row := range rows {
			if v, ok := row[c.Name]; ok && v != nil {
				continue
			}
			dv, err := c.DefaultValue()
			if err != nil {
				return tabula.NewError(tabula.CodeInvalidParameter, c.Name+"="+c.Default)
			}
			row[c.Name] = dv
		}
	}
	return nil
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
