package tabula

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RowError is one structured validation failure for a single input
// row. The json shape is part of the wire contract.
type RowError struct {
	Code     string   `json:"code"`
	RowIndex int      `json:"rowIndex"`
	Fields   []string `json:"errorData"`
	Message  string   `json:"message"`
}

// NewRowError builds a RowError from the named catalog entry.
func NewRowError(name string, row int, fields []string) RowError {
	e, _ := Lookup(name)
	args := []any{row, strings.Join(fields, ", ")}
	if name == CodeEmptyRows {
		// The empty-rows template reports the attempted field set
		// only; there is no offending row to index.
		args = []any{strings.Join(fields, ", ")}
	}
	return RowError{
		Code:     e.Code,
		RowIndex: row,
		Fields:   fields,
		Message:  Format(e.Message, args...),
	}
}

// Envelope is the uniform wrapper every engine operation reports
// through. Success is derived from Code, never set by callers.
type Envelope struct {
	Code          string `json:"code"`
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	ErrorCodeName string `json:"errorCodeName,omitempty"`
	ErrorData     any    `json:"errorData,omitempty"`
	Message       string `json:"message"`
	// Trace is an opaque diagnostic id correlating the envelope with
	// server-side logs. Never carries internal state.
	Trace string `json:"trace,omitempty"`
}

// successCode reports whether the leading numeric segment of code,
// parsed as an integer, lies in [200,300).
func successCode(code string) bool {
	head, _, _ := strings.Cut(code, "-")
	n, err := strconv.Atoi(head)
	return err == nil && n >= 200 && n < 300
}

// OK returns a success envelope carrying the given payload.
func OK(data any) Envelope {
	e, _ := Lookup(CodeSuccess)
	return Envelope{
		Code:    e.Code,
		Success: true,
		Data:    data,
		Message: e.Message,
	}
}

// Fail returns a failure envelope for the named catalog entry.
func Fail(name string, args ...any) Envelope {
	e, ok := Lookup(name)
	if !ok {
		e, _ = Lookup(CodeInternal)
		args = []any{name}
	}
	code := Format(e.Code, args...)
	return Envelope{
		Code:          code,
		Success:       successCode(code),
		ErrorCodeName: e.Name,
		Message:       Format(e.Message, args...),
	}
}

// FromRowErrors wraps structured validation failures in an envelope
// so callers can render row-by-row feedback.
func FromRowErrors(rowErrs []RowError) Envelope {
	env := Fail(CodeMissingFields)
	if len(rowErrs) > 0 {
		env.Code = rowErrs[0].Code
		if e, ok := LookupCode(rowErrs[0].Code); ok {
			env.ErrorCodeName = e.Name
		}
		env.Message = rowErrs[0].Message
	}
	env.Success = false
	env.ErrorData = rowErrs
	return env
}

// FromError translates any error into a failure envelope. Catalog
// errors keep their entry; backend errors are translated with the
// vendor number embedded in the code; everything else is reported as
// an internal error with a fresh diagnostic trace id.
func FromError(err error) Envelope {
	var te *Error
	if errors.As(err, &te) {
		env := Fail(te.Entry.Name, te.Args...)
		env.ErrorData = te.Payload
		return env
	}
	if errors.Is(err, ErrNotFound) {
		return Fail(CodeNotFound, "row")
	}
	if dbe := TranslateDB(err); dbe != nil {
		return Fail(dbe.Entry.Name, dbe.Args...)
	}
	env := Fail(CodeInternal, err.Error())
	env.Trace = uuid.NewString()
	return env
}
