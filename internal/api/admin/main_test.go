package admin

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Shared test fixtures
// ---------------------------------------------------------------------------

// Fixed IDs used across handler tests. Handlers reject non-UUID path and body
// parameters before touching the database.
const (
	testKeyID     = "11111111-1111-1111-1111-111111111111"
	testAccountID = "22222222-2222-2222-2222-222222222222"
)

// keySQLCols are the columns returned by access key SELECT queries.
var keySQLCols = []string{"id", "code", "key_type", "account_capacity", "status", "created_at"}

// accountSQLCols are the columns returned by access account SELECT queries.
var accountSQLCols = []string{"id", "username", "credential_encrypted", "expires_at", "active", "created_at"}

// assignmentSQLCols are the columns returned by the joined assignment listings.
var assignmentSQLCols = []string{
	"id", "account_id", "key_id", "assigned_at", "active",
	"key_type", "code", "username",
}

// auditSQLCols are the columns returned by audit event SELECT queries.
var auditSQLCols = []string{
	"id", "key_id", "from_account_id", "to_account_id",
	"action", "actor", "metadata", "created_at",
}

func sampleKeyRow() *sqlmock.Rows {
	return sqlmock.NewRows(keySQLCols).
		AddRow(testKeyID, "KP-AAAA-BBBB", "two_slot", 2, "waiting", time.Now())
}

func emptyKeyRows() *sqlmock.Rows {
	return sqlmock.NewRows(keySQLCols)
}

func sampleAccountRow(credential string) *sqlmock.Rows {
	return sqlmock.NewRows(accountSQLCols).
		AddRow(testAccountID, "shared-01", credential, time.Now().Add(72*time.Hour), true, time.Now())
}

func emptyAccountRows() *sqlmock.Rows {
	return sqlmock.NewRows(accountSQLCols)
}

func sampleAssignmentRow() *sqlmock.Rows {
	return sqlmock.NewRows(assignmentSQLCols).
		AddRow("33333333-3333-3333-3333-333333333333", testAccountID, testKeyID,
			time.Now(), true, "two_slot", "KP-AAAA-BBBB", "shared-01")
}

func emptyAssignmentRows() *sqlmock.Rows {
	return sqlmock.NewRows(assignmentSQLCols)
}

func sampleTime() time.Time {
	return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
}

func jsonBody(v interface{}) *bytes.Buffer {
	b, _ := json.Marshal(v)
	return bytes.NewBuffer(b)
}

func getJSON(resp *httptest.ResponseRecorder) map[string]interface{} {
	var m map[string]interface{}
	json.Unmarshal(resp.Body.Bytes(), &m)
	return m
}

// errDB is a sentinel error for DB failures in tests.
var errDB = &dbError{"database error"}

type dbError struct{ msg string }

func (e *dbError) Error() string { return e.msg }
