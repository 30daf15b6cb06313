package importer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/mychart-explorer/importer/pkg/cda"
)

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	db := newTestDB(t)
	svc := NewService(db, cda.DefaultRegistry())
	router := mux.NewRouter()
	NewHTTPHandler(svc, 1<<20).Register(router)
	return router
}

func TestHandleImport(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(fullDoc))
	req.Header.Set("X-Source-Filename", "upload-test.xml")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var summary Summary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Source != "upload-test.xml" {
		t.Errorf("source = %q", summary.Source)
	}
	if summary.NewRows != 12 {
		t.Errorf("new rows = %d, want 12", summary.NewRows)
	}
}

func TestHandleImportMalformed(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader("<bad"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleImportNoPatient(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(noPatientDoc))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}
