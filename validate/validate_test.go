package validate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/catalog"
)

func requiredSet(fields ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		out[f] = struct{}{}
	}
	return out
}

func TestValidateEmptyRows(t *testing.T) {
	t.Parallel()

	errs := Validate(nil, requiredSet("customerId", "name"), OpCreate, Default())
	require.Len(t, errs, 1)
	assert.Equal(t, "400-4", errs[0].Code)
	assert.Equal(t, 0, errs[0].RowIndex)
	assert.Equal(t, []string{"customerId", "name"}, errs[0].Fields)
	assert.Equal(t, "no rows supplied; required fields: customerId, name", errs[0].Message)
}

func TestValidateMissingFields(t *testing.T) {
	t.Parallel()

	rows := []Row{
		{"customerId": 7, "name": "acme"},
		{"name": "  "},
		{},
	}
	errs := Validate(rows, requiredSet("customerId", "name"), OpCreate, Default())
	require.Len(t, errs, 2)

	assert.Equal(t, "400-1", errs[0].Code)
	assert.Equal(t, 1, errs[0].RowIndex)
	assert.Equal(t, []string{"customerId", "name"}, errs[0].Fields)
	assert.Contains(t, errs[0].Message, "row 1")

	assert.Equal(t, 2, errs[1].RowIndex)
	assert.Equal(t, []string{"customerId", "name"}, errs[1].Fields)
}

// A zero or negative numeric id means the field was never filled in,
// so it counts as missing.
func TestValidateZeroNumericIsMissing(t *testing.T) {
	t.Parallel()

	rows := []Row{
		{"customerId": 0, "name": "acme"},
		{"customerId": int64(-3), "name": "acme"},
		{"customerId": json.Number("0"), "name": "acme"},
	}
	errs := Validate(rows, requiredSet("customerId", "name"), OpCreate, Default())
	require.Len(t, errs, 3)
	for i, re := range errs {
		assert.Equal(t, i, re.RowIndex)
		assert.Equal(t, []string{"customerId"}, re.Fields)
	}
}

func TestValidateForbiddenFields(t *testing.T) {
	t.Parallel()

	rows := []Row{{"name": "acme", "id": 9, "isDelete": true}}
	errs := Validate(rows, requiredSet("name"), OpCreate, Default())
	require.Len(t, errs, 1)
	assert.Equal(t, "400-2", errs[0].Code)
	assert.Equal(t, []string{"id", "isDelete"}, errs[0].Fields)
}

// When a row both misses required fields and carries forbidden ones,
// only the missing-fields error is reported.
func TestValidateMissingSuppressesForbidden(t *testing.T) {
	t.Parallel()

	rows := []Row{{"id": 9}}
	errs := Validate(rows, requiredSet("name"), OpCreate, Default())
	require.Len(t, errs, 1)
	assert.Equal(t, "400-1", errs[0].Code)
}

func TestValidateUpdate(t *testing.T) {
	t.Parallel()

	t.Run("id_required", func(t *testing.T) {
		errs := Validate([]Row{{"name": "acme"}}, nil, OpUpdate, Default())
		require.Len(t, errs, 1)
		assert.Equal(t, []string{"id"}, errs[0].Fields)
	})

	t.Run("id_alone_rejected", func(t *testing.T) {
		errs := Validate([]Row{{"id": 7}}, nil, OpUpdate, Default())
		require.Len(t, errs, 1)
		assert.Equal(t, "400-1", errs[0].Code)
		assert.Equal(t, []string{"at least one updatable field"}, errs[0].Fields)
	})

	t.Run("ok", func(t *testing.T) {
		errs := Validate([]Row{{"id": 7, "name": "acme"}}, nil, OpUpdate, Default())
		assert.Empty(t, errs)
	})
}

func TestValidateDelete(t *testing.T) {
	t.Parallel()

	errs := Validate([]Row{{"id": 7}}, nil, OpDelete, Default())
	assert.Empty(t, errs)

	errs = Validate([]Row{{"id": 0}}, nil, OpDelete, Default())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"id"}, errs[0].Fields)
}

func TestValidateIsDelete(t *testing.T) {
	t.Parallel()

	errs := Validate([]Row{{"id": 7, "isDelete": false}}, nil, OpIsDelete, Default())
	assert.Empty(t, errs)

	errs = Validate([]Row{{"id": 7}}, nil, OpIsDelete, Default())
	require.Len(t, errs, 1)
	assert.Equal(t, []string{"isDelete"}, errs[0].Fields)
}

func TestIsEmpty(t *testing.T) {
	t.Parallel()

	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty("   "))
	assert.True(t, IsEmpty(0))
	assert.True(t, IsEmpty(int64(0)))
	assert.True(t, IsEmpty(-1))
	assert.True(t, IsEmpty(float64(-0.5)))
	assert.True(t, IsEmpty(json.Number("-1")))

	assert.False(t, IsEmpty("x"))
	assert.False(t, IsEmpty(1))
	assert.False(t, IsEmpty(0.5))
	assert.False(t, IsEmpty(false))
	assert.False(t, IsEmpty(true))
	assert.False(t, IsEmpty(json.Number("2")))
	assert.False(t, IsEmpty([]string{}))
}

func TestStripForbidden(t *testing.T) {
	t.Parallel()

	rows := []Row{{"name": "acme", "createdOn": "x", "id": 1}}
	StripForbidden(rows, OpCreate, Default())
	assert.Equal(t, Row{"name": "acme"}, rows[0])
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	cols := []catalog.Column{
		{Name: "status", Type: catalog.TypeString, Default: "open", HasDefault: true},
		{Name: "qty", Type: catalog.TypeInt, Default: "1", HasDefault: true},
		{Name: "name", Type: catalog.TypeString},
	}
	rows := []Row{
		{"name": "a"},
		{"name": "b", "status": "closed"},
		{"name": "c", "status": nil},
		{"name": "d", "qty": 0},
	}
	require.NoError(t, ApplyDefaults(rows, cols))

	assert.Equal(t, "open", rows[0]["status"])
	assert.Equal(t, int64(1), rows[0]["qty"])
	// Explicit values survive.
	assert.Equal(t, "closed", rows[1]["status"])
	// Present-but-nil is treated as absent.
	assert.Equal(t, "open", rows[2]["status"])
	// Non-nil zero values are explicit and survive.
	assert.Equal(t, 0, rows[3]["qty"])
}

func TestApplyDefaultsBadValue(t *testing.T) {
	t.Parallel()

	cols := []catalog.Column{
		{Name: "qty", Type: catalog.TypeInt, Default: "lots", HasDefault: true},
	}
	err := ApplyDefaults([]Row{{}}, cols)
	require.Error(t, err)
	var te *tabula.Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, tabula.CodeInvalidParameter, te.Entry.Name)
}

func TestRulesLoad(t *testing.T) {
	t.Parallel()

	t.Run("overlay", func(t *testing.T) {
		doc := `
forbidden:
  update: [isDelete, createdOn]
system:
  id: rowId
`
		rules, err := Load(strings.NewReader(doc))
		require.NoError(t, err)
		assert.Equal(t, []string{"isDelete", "createdOn"}, rules.Forbidden(OpUpdate))
		// Untouched keys keep the defaults.
		assert.Equal(t, Default().Forbidden(OpCreate), rules.Forbidden(OpCreate))
		assert.Equal(t, "rowId", rules.System.ID)
		assert.Equal(t, "isDelete", rules.System.IsDelete)
	})

	t.Run("unknown_operation", func(t *testing.T) {
		_, err := Load(strings.NewReader("forbidden:\n  upsert: [id]\n"))
		require.Error(t, err)
	})
}

func TestOpString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "isDelete", OpIsDelete.String())
	assert.Equal(t, "unknown", Op(99).String())
}
