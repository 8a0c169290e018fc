package conversion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/nhcx/fhir-converter/internal/mapping"
)

func setupAPI(profile *mapping.Profile) (*echo.Echo, *Service) {
	e := echo.New()
	svc, _ := newTestService()
	NewHandler(svc, profile).RegisterRoutes(e.Group("/api"))
	return e, svc
}

func postMessage(e *echo.Echo, msg string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/convert/coverage", strings.NewReader(msg))
	req.Header.Set(echo.HeaderContentType, echo.MIMETextPlain)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type outcomeBody struct {
	ResourceType string `json:"resourceType"`
	Issue        []struct {
		Severity    string `json:"severity"`
		Code        string `json:"code"`
		Diagnostics string `json:"diagnostics"`
	} `json:"issue"`
}

func decodeOutcome(t *testing.T, body string) outcomeBody {
	t.Helper()
	var out outcomeBody
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if out.ResourceType != "OperationOutcome" {
		t.Fatalf("expected OperationOutcome, got %q", out.ResourceType)
	}
	if len(out.Issue) == 0 {
		t.Fatal("expected at least one issue")
	}
	return out
}

func TestConvertEndpoint_OK(t *testing.T) {
	e, _ := setupAPI(nil)

	rec := postMessage(e, msgFull)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	bundle := decodeBundle(t, rec.Body.String())
	if bundle["resourceType"] != "Bundle" {
		t.Errorf("expected a Bundle, got %v", bundle["resourceType"])
	}
	entries, ok := bundle["entry"].([]interface{})
	if !ok || len(entries) != 3 {
		t.Errorf("expected 3 entries, got %v", bundle["entry"])
	}
}

func TestConvertEndpoint_NoPID(t *testing.T) {
	e, _ := setupAPI(nil)

	rec := postMessage(e, msgNoPID)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	out := decodeOutcome(t, rec.Body.String())
	if out.Issue[0].Severity != "error" {
		t.Errorf("expected severity error, got %q", out.Issue[0].Severity)
	}
	if out.Issue[0].Code != "invalid" {
		t.Errorf("expected code invalid, got %q", out.Issue[0].Code)
	}
	if !strings.Contains(out.Issue[0].Diagnostics, "PID") {
		t.Errorf("expected diagnostics naming the PID segment, got %q", out.Issue[0].Diagnostics)
	}
}

func TestConvertEndpoint_DuplicateReturnsSameBody(t *testing.T) {
	e, _ := setupAPI(nil)

	first := postMessage(e, msgFull)
	second := postMessage(e, msgFull)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200, got %d/%d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Error("expected duplicate submission to return the identical document")
	}
}

func TestHistoryEndpoint_Envelope(t *testing.T) {
	e, _ := setupAPI(nil)
	postMessage(e, msgFull)

	req := httptest.NewRequest(http.MethodGet, "/api/convert/history", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data    []json.RawMessage `json:"data"`
		Total   int               `json:"total"`
		Limit   int               `json:"limit"`
		Offset  int               `json:"offset"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}

	if envelope.Total != 1 {
		t.Errorf("expected total 1, got %d", envelope.Total)
	}
	if len(envelope.Data) != 1 {
		t.Errorf("expected 1 item, got %d", len(envelope.Data))
	}
	if envelope.Limit != 20 {
		t.Errorf("expected default limit 20, got %d", envelope.Limit)
	}
	if envelope.Offset != 0 {
		t.Errorf("expected offset 0, got %d", envelope.Offset)
	}
	if envelope.HasMore {
		t.Error("expected has_more false with a single record")
	}
}

func TestHistoryEndpoint_Limit(t *testing.T) {
	e, _ := setupAPI(nil)
	postMessage(e, msgFull)
	postMessage(e, msgSparse)

	req := httptest.NewRequest(http.MethodGet, "/api/convert/history?limit=1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var envelope struct {
		Data    []json.RawMessage `json:"data"`
		Total   int               `json:"total"`
		HasMore bool              `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}

	if envelope.Total != 2 {
		t.Errorf("expected total 2, got %d", envelope.Total)
	}
	if len(envelope.Data) != 1 {
		t.Errorf("expected 1 item, got %d", len(envelope.Data))
	}
	if !envelope.HasMore {
		t.Error("expected has_more true")
	}
}

func TestRecordEndpoint(t *testing.T) {
	e, _ := setupAPI(nil)
	postMessage(e, msgFull)

	req := httptest.NewRequest(http.MethodGet, "/api/convert/records/"+ContentHash(msgFull), nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var stored struct {
		HL7Hash string `json:"hl7_hash"`
		RawHL7  string `json:"raw_hl7"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stored); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if stored.HL7Hash != ContentHash(msgFull) {
		t.Errorf("expected hash %s, got %s", ContentHash(msgFull), stored.HL7Hash)
	}
	if stored.Status != StatusSuccess {
		t.Errorf("expected status SUCCESS, got %q", stored.Status)
	}
	if stored.RawHL7 != msgFull {
		t.Error("expected the raw message in the record")
	}
}

func TestRecordEndpoint_NotFound(t *testing.T) {
	e, _ := setupAPI(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/convert/records/deadbeef", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	out := decodeOutcome(t, rec.Body.String())
	if out.Issue[0].Code != "not-found" {
		t.Errorf("expected code not-found, got %q", out.Issue[0].Code)
	}
}

func TestProfileEndpoint(t *testing.T) {
	profile := &mapping.Profile{
		Profile:      "hl7_adt_v2_to_coverage",
		Version:      "1.0",
		SourceFormat: "HL7v2_ADT",
		TargetFormat: "FHIR_R4",
	}
	e, _ := setupAPI(profile)

	req := httptest.NewRequest(http.MethodGet, "/api/convert/profile", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "hl7_adt_v2_to_coverage") {
		t.Errorf("expected profile name in response, got %s", rec.Body.String())
	}
}

func TestProfileEndpoint_NotLoaded(t *testing.T) {
	e, _ := setupAPI(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/convert/profile", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
