package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/keypanel/keypanel/internal/services"
)

// ---------------------------------------------------------------------------
// Router helper
// ---------------------------------------------------------------------------

func newAssignmentRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewAssignmentHandlers(services.NewLedger(db))

	r := gin.New()
	r.POST("/assignments", h.CreateAssignment)
	r.DELETE("/assignments/:account_id/:key_id", h.RemoveAssignment)
	return mock, r
}

func occupancyRows(count int, dominant string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count", "dominant"}).AddRow(count, dominant)
}

func countRows(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func assignBody() map[string]string {
	return map[string]string{"accountId": testAccountID, "keyId": testKeyID}
}

// ---------------------------------------------------------------------------
// CreateAssignment
// ---------------------------------------------------------------------------

func TestCreateAssignment_Success(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM access_keys (.+) FOR UPDATE").WithArgs(testKeyID).
		WillReturnRows(sampleKeyRow())
	mock.ExpectQuery("SELECT (.+) FROM access_accounts (.+) FOR UPDATE").WithArgs(testAccountID).
		WillReturnRows(sampleAccountRow("sealed"))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testAccountID, testKeyID).
		WillReturnRows(existsRows(false))
	mock.ExpectQuery("SELECT COUNT").WithArgs(testAccountID).
		WillReturnRows(occupancyRows(0, ""))
	mock.ExpectQuery("SELECT COUNT").WithArgs(testKeyID).
		WillReturnRows(countRows(0))
	mock.ExpectExec("INSERT INTO assignments").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE access_keys").WithArgs(testKeyID, "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments", jsonBody(assignBody())))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["accountId"] != testAccountID {
		t.Errorf("accountId = %v, want %s", resp["accountId"], testAccountID)
	}
	if resp["keyId"] != testKeyID {
		t.Errorf("keyId = %v, want %s", resp["keyId"], testKeyID)
	}
	if resp["active"] != true {
		t.Errorf("active = %v, want true", resp["active"])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreateAssignment_KeyNotFound(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM access_keys (.+) FOR UPDATE").WithArgs(testKeyID).
		WillReturnRows(emptyKeyRows())
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments", jsonBody(assignBody())))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCreateAssignment_ExpiredKey(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM access_keys (.+) FOR UPDATE").WithArgs(testKeyID).
		WillReturnRows(sqlmock.NewRows(keySQLCols).
			AddRow(testKeyID, "KP-AAAA-BBBB", "two_slot", 2, "expired", sampleTime()))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments", jsonBody(assignBody())))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCreateAssignment_SlotFull(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM access_keys (.+) FOR UPDATE").WithArgs(testKeyID).
		WillReturnRows(sampleKeyRow())
	mock.ExpectQuery("SELECT (.+) FROM access_accounts (.+) FOR UPDATE").WithArgs(testAccountID).
		WillReturnRows(sampleAccountRow("sealed"))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testAccountID, testKeyID).
		WillReturnRows(existsRows(false))
	mock.ExpectQuery("SELECT COUNT").WithArgs(testAccountID).
		WillReturnRows(occupancyRows(2, "two_slot"))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments", jsonBody(assignBody())))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCreateAssignment_TypeMismatch(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM access_keys (.+) FOR UPDATE").WithArgs(testKeyID).
		WillReturnRows(sampleKeyRow())
	mock.ExpectQuery("SELECT (.+) FROM access_accounts (.+) FOR UPDATE").WithArgs(testAccountID).
		WillReturnRows(sampleAccountRow("sealed"))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testAccountID, testKeyID).
		WillReturnRows(existsRows(false))
	mock.ExpectQuery("SELECT COUNT").WithArgs(testAccountID).
		WillReturnRows(occupancyRows(1, "one_slot"))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments", jsonBody(assignBody())))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCreateAssignment_AlreadyAssigned(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM access_keys (.+) FOR UPDATE").WithArgs(testKeyID).
		WillReturnRows(sampleKeyRow())
	mock.ExpectQuery("SELECT (.+) FROM access_accounts (.+) FOR UPDATE").WithArgs(testAccountID).
		WillReturnRows(sampleAccountRow("sealed"))
	mock.ExpectQuery("SELECT EXISTS").WithArgs(testAccountID, testKeyID).
		WillReturnRows(existsRows(true))
	mock.ExpectRollback()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments", jsonBody(assignBody())))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCreateAssignment_InvalidIDs(t *testing.T) {
	_, r := newAssignmentRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments",
		jsonBody(map[string]string{"accountId": "nope", "keyId": testKeyID})))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestCreateAssignment_MissingBody(t *testing.T) {
	_, r := newAssignmentRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/assignments",
		jsonBody(map[string]string{"keyId": testKeyID})))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// ---------------------------------------------------------------------------
// RemoveAssignment
// ---------------------------------------------------------------------------

func TestRemoveAssignment_Success(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE assignments").WithArgs(testAccountID, testKeyID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COUNT").WithArgs(testKeyID).
		WillReturnRows(countRows(0))
	mock.ExpectExec("UPDATE access_keys").WithArgs(testKeyID, "waiting", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/assignments/"+testAccountID+"/"+testKeyID, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["removed"] != true {
		t.Errorf("removed = %v, want true", resp["removed"])
	}
}

func TestRemoveAssignment_AbsentPairIsIdempotent(t *testing.T) {
	mock, r := newAssignmentRouter(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE assignments").WithArgs(testAccountID, testKeyID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/assignments/"+testAccountID+"/"+testKeyID, nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: body=%s", w.Code, w.Body.String())
	}
	resp := getJSON(w)
	if resp["removed"] != false {
		t.Errorf("removed = %v, want false", resp["removed"])
	}
}

func TestRemoveAssignment_InvalidID(t *testing.T) {
	_, r := newAssignmentRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("DELETE", "/assignments/nope/"+testKeyID, nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
