package tabula

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// Entry is one error-catalog entry. The catalog is a closed,
// compile-time set; entries are indexed by name and by code at
// package initialization.
type Entry struct {
	// Name is the constant-style identifier of the entry.
	Name string
	// Code is the envelope code. The leading numeric segment is the
	// http-like class; optional sub-segments follow after a dash. A
	// trailing "{0}" segment is filled with a vendor error number.
	Code string
	// Message is a {0}-style positional message template.
	Message string
}

// Catalog entry names.
const (
	CodeSuccess          = "Success"
	CodeMissingFields    = "MissingFields"
	CodeInvalidFields    = "InvalidFields"
	CodeInvalidParameter = "InvalidParameter"
	CodeEmptyRows        = "EmptyRows"
	CodeDuplicateKey     = "DuplicateKey"
	CodeReconciled       = "AlreadyReconciled"
	CodeNotFound         = "NotFound"
	CodeSQLError         = "SQLError"
	CodeInternal         = "InternalError"
)

// entries is the closed catalog. Codes group by leading class:
// 400 validation, 404 not-found, 500 server.
var entries = []Entry{
	{CodeSuccess, "200", "success"},
	{CodeMissingFields, "400-1", "row {0} is missing required fields: {1}"},
	{CodeInvalidFields, "400-2", "row {0} carries fields that are not allowed: {1}"},
	{CodeInvalidParameter, "400-3", "invalid parameter: {0}"},
	{CodeEmptyRows, "400-4", "no rows supplied; required fields: {0}"},
	{CodeDuplicateKey, "400-5", "duplicate value for unique key: {0}"},
	{CodeReconciled, "400-7", "document {0} has already been reconciled"},
	{CodeNotFound, "404-1", "{0} not found"},
	{CodeSQLError, "400-500-{0}", "database error {0}: {1}"},
	{CodeInternal, "500-1", "internal error: {0}"},
}

var (
	byName = make(map[string]Entry, len(entries))
	byCode = make(map[string]Entry, len(entries))
)

func init() {
	for _, e := range entries {
		byName[e.Name] = e
		byCode[e.Code] = e
	}
}

// Lookup returns the catalog entry with the given name.
func Lookup(name string) (Entry, bool) {
	e, ok := byName[name]
	return e, ok
}

// LookupCode returns the catalog entry with the given code.
func LookupCode(code string) (Entry, bool) {
	e, ok := byCode[code]
	return e, ok
}

// Format fills the {0}-style positional placeholders of the template
// with the given arguments.
func Format(template string, args ...any) string {
	for i, a := range args {
		template = strings.ReplaceAll(template, "{"+strconv.Itoa(i)+"}", fmt.Sprint(a))
	}
	return template
}

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("tabula: row not found")

// Error is a typed domain error carrying a catalog entry, the
// positional message arguments and an optional structured payload.
type Error struct {
	Entry   Entry
	Args    []any
	Payload any
}

// Error returns the error string.
func (e *Error) Error() string {
	return "tabula: " + Format(e.Entry.Message, e.Args...)
}

// Code returns the envelope code, with any trailing {0} placeholder
// filled from the first argument.
func (e *Error) Code() string {
	return Format(e.Entry.Code, e.Args...)
}

// Is reports whether the target matches ErrNotFound for not-found entries.
func (e *Error) Is(err error) bool {
	return err == ErrNotFound && e.Entry.Name == CodeNotFound
}

// NewError returns a typed error for the named catalog entry.
// Unknown names fall back to the internal-error entry.
func NewError(name string, args ...any) *Error {
	e, ok := byName[name]
	if !ok {
		e = byName[CodeInternal]
		args = []any{name}
	}
	return &Error{Entry: e, Args: args}
}

// WithPayload attaches a structured payload to the error.
func (e *Error) WithPayload(p any) *Error {
	e.Payload = p
	return e
}

// IsError reports whether err is a catalog error.
func IsError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	return errors.As(err, &e)
}

// TranslateDB maps a backend error to a catalog error. Unique-key
// violations map to the duplicate-key entry; every other backend
// error maps to the SQL class with the vendor error number embedded
// in the code.
func TranslateDB(err error) *Error {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		if me.Number == 1062 {
			return NewError(CodeDuplicateKey, me.Message)
		}
		return NewError(CodeSQLError, me.Number, me.Message)
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		if pe.Code == "23505" {
			return NewError(CodeDuplicateKey, pe.Detail)
		}
		return NewError(CodeSQLError, string(pe.Code), pe.Message)
	}
	return nil
}
