package anonymization

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/deid/deid/internal/platform/deid"
)

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()
	cfg := deid.DefaultConfig()
	cfg.Salt = "test-salt"
	cfg.KAnonymityThreshold = 0
	engine, err := deid.NewEngine(cfg, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	h := NewHandler(NewService(engine, zerolog.Nop()))
	return h, echo.New()
}

func TestHandler_DeidentifyTabular(t *testing.T) {
	h, e := newTestHandler(t)

	body := `{
		"dataset": {
			"columns": ["patient_id", "patient_name", "age", "admission_date"],
			"rows": [["P1", "Jane Doe", 42, "2023-01-15"]]
		},
		"subject_id_column": "patient_id"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deidentify/tabular", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.DeidentifyTabular(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp TabularResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" {
		t.Error("expected run_id to be set")
	}
	if resp.Rows != 1 || resp.Columns != 4 {
		t.Errorf("expected 1 row and 4 columns, got %d and %d", resp.Rows, resp.Columns)
	}

	row := resp.Dataset.Rows[0]
	id, ok := row[0].(string)
	if !ok || len(id) != 64 {
		t.Errorf("expected hashed subject id, got %v", row[0])
	}
	if row[1] != deid.RedactionMarker {
		t.Errorf("expected redacted name, got %v", row[1])
	}

	// A reference engine with the same salt and seed must agree on the
	// shifted date.
	cfg := deid.DefaultConfig()
	cfg.Salt = "test-salt"
	cfg.KAnonymityThreshold = 0
	ref, err := deid.NewEngine(cfg, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	ds, err := deid.NewDataset(
		[]string{"patient_id", "patient_name", "age", "admission_date"},
		[][]any{{"P1", "Jane Doe", 42, "2023-01-15"}},
	)
	if err != nil {
		t.Fatalf("NewDataset: %v", err)
	}
	want, err := ref.DeidentifyTabular(ds, "patient_id", nil)
	if err != nil {
		t.Fatalf("reference DeidentifyTabular: %v", err)
	}
	if row[3] != want.Rows[0][3] {
		t.Errorf("expected admission date %v, got %v", want.Rows[0][3], row[3])
	}
}

func TestHandler_DeidentifyTabular_EmptyDataset(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deidentify/tabular",
		strings.NewReader(`{"dataset":{"columns":[],"rows":[]}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.DeidentifyTabular(c)
	if err == nil {
		t.Fatal("expected error for empty columns")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_DeidentifyTabular_RaggedRows(t *testing.T) {
	h, e := newTestHandler(t)

	body := `{"dataset":{"columns":["a","b"],"rows":[["1"]]}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deidentify/tabular", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.DeidentifyTabular(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for ragged rows, got %v", err)
	}
}

func TestHandler_DeidentifyTabular_UnknownSubjectColumn(t *testing.T) {
	h, e := newTestHandler(t)

	body := `{"dataset":{"columns":["a"],"rows":[["1"]]},"subject_id_column":"missing"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deidentify/tabular", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.DeidentifyTabular(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown subject column, got %v", err)
	}
}

func TestHandler_DeidentifyBundle(t *testing.T) {
	h, e := newTestHandler(t)

	body := `{
		"resourceType": "Bundle",
		"type": "collection",
		"entry": [
			{"resource": {"resourceType": "Patient", "id": "pat-1",
				"name": [{"family": "Doe", "given": ["Jane"]}],
				"birthDate": "1980-06-15"}}
		]
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deidentify/bundle", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.DeidentifyBundle(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		RunID   string `json:"run_id"`
		Entries int    `json:"entries"`
		Bundle  struct {
			Entry []struct {
				Resource json.RawMessage `json:"resource"`
			} `json:"entry"`
		} `json:"bundle"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Entries != 1 {
		t.Fatalf("expected 1 entry, got %d", resp.Entries)
	}
	if strings.Contains(string(resp.Bundle.Entry[0].Resource), "Doe") {
		t.Error("patient name leaked through de-identification")
	}
}

func TestHandler_DeidentifyBundle_NotABundle(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/deidentify/bundle",
		strings.NewReader(`{"resourceType":"Patient","id":"p1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.DeidentifyBundle(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-bundle payload, got %v", err)
	}
}

func TestHandler_Scan(t *testing.T) {
	h, e := newTestHandler(t)

	body := `{
		"dataset": {
			"columns": ["ssn", "note"],
			"rows": [["123-45-6789", "follow up in two weeks"]]
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/phi/scan", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Scan(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp ScanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Report == nil || len(resp.Report.Columns) == 0 {
		t.Fatal("expected at least one flagged column")
	}
	found := false
	for _, col := range resp.Report.Columns {
		if col.Column == "ssn" {
			found = true
		}
	}
	if !found {
		t.Error("expected ssn column in report")
	}
}
