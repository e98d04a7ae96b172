package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/tabula"
	"github.com/syssam/tabula/dialect"
	"github.com/syssam/tabula/dialect/sql"
	"github.com/syssam/tabula/query"
)

var fixedNow = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

const catalogQuery = "SELECT name, dataType, length, scale, isRequired, isUnique, defaultValue, sort, itemType FROM property WHERE datasheet = ? AND isDelete = ? ORDER BY sort ASC"

var catalogColumns = []string{
	"name", "dataType", "length", "scale", "isRequired", "isUnique",
	"defaultValue", "sort", "itemType",
}

func newEngine(t *testing.T, opts ...Option) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	e := New(sql.OpenDB(dialect.MySQL, db), opts...)
	e.now = func() time.Time { return fixedNow }
	return e, mock
}

func expectCatalog(mock sqlmock.Sqlmock, table string, rows *sqlmock.Rows) {
	mock.ExpectQuery(catalogQuery).WithArgs(table, false).WillReturnRows(rows)
}

func TestEngineCreate(t *testing.T) {
	e, mock := newEngine(t)

	expectCatalog(mock, "order", sqlmock.NewRows(catalogColumns).
		AddRow("name", "varchar", 50, 0, true, false, nil, 1, nil).
		AddRow("status", "varchar", 20, 0, true, false, "open", 2, nil))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO order (createdBy, createdOn, isDelete, name, status) VALUES (?, ?, ?, ?, ?)").
		WithArgs("u1", fixedNow, false, "acme", "open").
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectCommit()

	env := e.Create(context.Background(), "order", []Row{{"name": "acme"}}, "u1")
	require.True(t, env.Success, env.Message)
	assert.Equal(t, "200", env.Code)
	assert.Equal(t, []int64{10}, env.Data)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Validation failures come back as a structured envelope; nothing is
// written.
func TestEngineCreateValidationFailure(t *testing.T) {
	e, mock := newEngine(t)

	expectCatalog(mock, "order", sqlmock.NewRows(catalogColumns).
		AddRow("name", "varchar", 50, 0, true, false, nil, 1, nil))

	env := e.Create(context.Background(), "order", []Row{{"qty": 1}}, "u1")
	assert.False(t, env.Success)
	assert.Equal(t, "400-1", env.Code)
	rowErrs, ok := env.ErrorData.([]tabula.RowError)
	require.True(t, ok)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, []string{"name"}, rowErrs[0].Fields)
	require.NoError(t, mock.ExpectationsWereMet())
}

// Forbidden fields are stripped, not rejected, once required fields
// check out... unless they trip the invalid-fields rule first.
func TestEngineCreateForbiddenFields(t *testing.T) {
	e, mock := newEngine(t)

	expectCatalog(mock, "order", sqlmock.NewRows(catalogColumns).
		AddRow("name", "varchar", 50, 0, true, false, nil, 1, nil))

	env := e.Create(context.Background(), "order", []Row{{"name": "acme", "id": 5}}, "u1")
	assert.False(t, env.Success)
	assert.Equal(t, "400-2", env.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineCreateNumbered(t *testing.T) {
	e, mock := newEngine(t)

	expectCatalog(mock, "order", sqlmock.NewRows(catalogColumns).
		AddRow("name", "varchar", 50, 0, true, false, nil, 1, nil))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT currentNumber FROM sequence WHERE tableName = ? AND groupKey = ? FOR UPDATE").
		WithArgs("order", "2025-01-02").
		WillReturnRows(sqlmock.NewRows([]string{"currentNumber"}).AddRow(int64(3)))
	mock.ExpectExec("UPDATE sequence SET currentNumber = ?, modifiedOn = ? WHERE tableName = ? AND groupKey = ?").
		WithArgs(int64(4), sqlmock.AnyArg(), "order", "2025-01-02").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order (createdBy, createdOn, isDelete, name, orderNumber) VALUES (?, ?, ?, ?, ?)").
		WithArgs("u1", fixedNow, false, "acme", "0004").
		WillReturnResult(sqlmock.NewResult(10, 1))
	mock.ExpectCommit()

	env := e.CreateNumbered(context.Background(), "order",
		[]Row{{"name": "acme"}}, "u1", "orderNumber", "2025-01-02", "0000")
	require.True(t, env.Success, env.Message)
	assert.Equal(t, []int64{10}, env.Data)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineUpdate(t *testing.T) {
	e, mock := newEngine(t)

	expectCatalog(mock, "order", sqlmock.NewRows(catalogColumns).
		AddRow("name", "varchar", 50, 0, true, false, nil, 1, nil))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE order SET modifiedBy = ?, name = ?, modifiedOn = ? WHERE id = ?").
		WithArgs("u1", "acme", sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	env := e.Update(context.Background(), "order", []Row{{"id": 7, "name": "acme"}}, "u1")
	require.True(t, env.Success, env.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineDelete(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE order SET isDelete = ?, modifiedBy = ?, modifiedOn = ? WHERE id IN (?, ?)").
		WithArgs(true, "u1", sqlmock.AnyArg(), 3, 4).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	env := e.Delete(context.Background(), "order", []Row{{"id": 3}, {"id": 4}}, "u1")
	require.True(t, env.Success, env.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineDeleteMissingID(t *testing.T) {
	e, _ := newEngine(t)

	env := e.Delete(context.Background(), "order", []Row{{"id": 0}}, "u1")
	assert.False(t, env.Success)
	assert.Equal(t, "400-1", env.Code)
}

func TestEngineSetDeleted(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE order SET isDelete = ?, modifiedBy = ?, modifiedOn = ? WHERE id IN (?)").
		WithArgs(false, "u1", sqlmock.AnyArg(), 9).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	env := e.SetDeleted(context.Background(), "order", []Row{{"id": 9, "isDelete": false}}, "u1")
	require.True(t, env.Success, env.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A batch mixing delete and restore flags runs as one transaction,
// deletes first.
func TestEngineSetDeletedMixedFlags(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE order SET isDelete = ?, modifiedBy = ?, modifiedOn = ? WHERE id IN (?)").
		WithArgs(true, "u1", sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE order SET isDelete = ?, modifiedBy = ?, modifiedOn = ? WHERE id IN (?)").
		WithArgs(false, "u1", sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	env := e.SetDeleted(context.Background(), "order", []Row{
		{"id": 1, "isDelete": true},
		{"id": 2, "isDelete": false},
	}, "u1")
	require.True(t, env.Success, env.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

// If one side of a mixed-flag batch fails, the whole batch rolls
// back; the first update never commits alone.
func TestEngineSetDeletedMixedFlagsRollsBack(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE order SET isDelete = ?, modifiedBy = ?, modifiedOn = ? WHERE id IN (?)").
		WithArgs(true, "u1", sqlmock.AnyArg(), 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE order SET isDelete = ?, modifiedBy = ?, modifiedOn = ? WHERE id IN (?)").
		WithArgs(false, "u1", sqlmock.AnyArg(), 2).
		WillReturnError(&mysql.MySQLError{Number: 1205, Message: "lock wait timeout"})
	mock.ExpectRollback()

	env := e.SetDeleted(context.Background(), "order", []Row{
		{"id": 1, "isDelete": true},
		{"id": 2, "isDelete": false},
	}, "u1")
	assert.False(t, env.Success)
	assert.Equal(t, "400-500-1205", env.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineSearch(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectQuery("SELECT * FROM order WHERE isDelete = ?").
		WithArgs("0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "acme"))

	env := e.Search(context.Background(), query.SearchSpec{
		Datasheet: "order",
		And:       []query.Condition{{Field: "isDelete", Operate: "=", Value: "0"}},
	})
	require.True(t, env.Success, env.Message)
	rows, ok := env.Data.([]map[string]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "acme", rows[0]["name"])
	require.NoError(t, mock.ExpectationsWereMet())
}

// Backend failures surface as the SQL error class with the vendor
// number in the code, never as a raw error.
func TestEngineSearchBackendError(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectQuery("SELECT * FROM order").
		WillReturnError(&mysql.MySQLError{Number: 1205, Message: "lock wait timeout"})

	env := e.Search(context.Background(), query.SearchSpec{Datasheet: "order"})
	assert.False(t, env.Success)
	assert.Equal(t, "400-500-1205", env.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEngineNextNumber(t *testing.T) {
	e, mock := newEngine(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT currentNumber FROM sequence WHERE tableName = ? AND groupKey = ? FOR UPDATE").
		WithArgs("order", "2025-01-02").
		WillReturnRows(sqlmock.NewRows([]string{"currentNumber"}))
	mock.ExpectExec("INSERT INTO sequence (tableName, groupKey, currentNumber, numberFormat, createdOn, modifiedOn) VALUES (?, ?, ?, ?, ?, ?)").
		WithArgs("order", "2025-01-02", 1, "0000", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	env := e.NextNumber(context.Background(), "order", "2025-01-02", "0000")
	require.True(t, env.Success, env.Message)
	assert.Equal(t, "0001", env.Data)
	require.NoError(t, mock.ExpectationsWereMet())
}
