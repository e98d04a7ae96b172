package catalog

import (
	"strconv"
	"strings"
	"time"
)

// Type is the semantic type of a column. It drives default-value
// conversion and dynamic row-shape construction.
type Type int

// Semantic column types.
const (
	TypeInvalid Type = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
	TypeBytes
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeString:  "string",
	TypeInt:     "int",
	TypeFloat:   "float",
	TypeBool:    "bool",
	TypeTime:    "time",
	TypeBytes:   "bytes",
}

// String returns the type name.
func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return typeNames[TypeInvalid]
	}
	return typeNames[t]
}

// backendTypes maps raw backend type names to semantic types.
// Kept as an explicit enumerated map; no reflection.
var backendTypes = map[string]Type{
	"char":       TypeString,
	"nchar":      TypeString,
	"varchar":    TypeString,
	"nvarchar":   TypeString,
	"text":       TypeString,
	"ntext":      TypeString,
	"tinyint":    TypeInt,
	"smallint":   TypeInt,
	"int":        TypeInt,
	"integer":    TypeInt,
	"bigint":     TypeInt,
	"decimal":    TypeFloat,
	"numeric":    TypeFloat,
	"float":      TypeFloat,
	"real":       TypeFloat,
	"money":      TypeFloat,
	"bit":        TypeBool,
	"boolean":    TypeBool,
	"date":       TypeTime,
	"datetime":   TypeTime,
	"datetime2":  TypeTime,
	"timestamp":  TypeTime,
	"binary":     TypeBytes,
	"varbinary":  TypeBytes,
	"blob":       TypeBytes,
	"uniqueidentifier": TypeString,
}

// propertyTypes maps the higher-level vocabulary used by the property
// catalog itself.
var propertyTypes = map[string]Type{
	"string":   TypeString,
	"text":     TypeString,
	"select":   TypeString,
	"number":   TypeFloat,
	"integer":  TypeInt,
	"decimal":  TypeFloat,
	"boolean":  TypeBool,
	"switch":   TypeBool,
	"date":     TypeTime,
	"datetime": TypeTime,
	"file":     TypeBytes,
}

// Resolve maps a declared type name to its semantic type. The catalog
// vocabulary takes precedence over raw backend type names. Unknown
// names resolve to TypeString so unmodeled columns still round-trip.
func Resolve(name string) Type {
	name = strings.ToLower(strings.TrimSpace(name))
	// Strip a length suffix such as "varchar(50)".
	if i := strings.IndexByte(name, '('); i > 0 {
		name = name[:i]
	}
	if t, ok := propertyTypes[name]; ok {
		return t
	}
	if t, ok := backendTypes[name]; ok {
		return t
	}
	return TypeString
}

// Column describes one (table, column) pair read from the property
// catalog. The engine never mutates catalog rows.
type Column struct {
	Name       string
	DataType   string
	Type       Type
	Length     int
	Scale      int
	Required   bool
	Unique     bool
	Default    string
	HasDefault bool
	Sort       int
	ItemType   string
}

// DefaultValue converts the declared default into a typed value.
func (c Column) DefaultValue() (any, error) {
	if !c.HasDefault {
		return nil, nil
	}
	switch c.Type {
	case TypeInt:
		return strconv.ParseInt(c.Default, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(c.Default, 64)
	case TypeBool:
		switch strings.ToLower(c.Default) {
		case "1", "true", "yes":
			return true, nil
		}
		return false, nil
	case TypeTime:
		switch strings.ToLower(c.Default) {
		case "now", "now()", "getdate()", "current_timestamp":
			return time.Now(), nil
		}
		if t, err := time.Parse("2006-01-02 15:04:05", c.Default); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02", c.Default)
	default:
		return c.Default, nil
	}
}

// RequiredFields returns the set of required field names. A column is
// required only when its required flag is set and it declares no
// default; a default makes the field optional on input.
func RequiredFields(cols []Column) map[string]struct{} {
	required := make(map[string]struct{})
	for _, c := range cols {
		if c.Required && !c.HasDefault {
			required[c.Name] = struct{}{}
		}
	}
	return required
}
