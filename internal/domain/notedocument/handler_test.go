package notedocument

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/clinicaldocs/internal/domain/visitnote"
	"github.com/ehr/clinicaldocs/internal/platform/noterender"
)

func serveDocument(t *testing.T, h *Handler, visitID, query string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	target := "/api/v1/visit-notes/" + visitID + "/document"
	if query != "" {
		target += "?" + query
	}
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("visit_id")
	c.SetParamValues(visitID)
	return rec, h.Document(c)
}

func TestHandler_DocumentJSON(t *testing.T) {
	h := NewHandler(newTestService(sampleNotes(t), nil, ""), noterender.NewRegistry())

	rec, err := serveDocument(t, h, "42", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var doc noterender.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.VisitID != "42" || len(doc.Sections) != 3 {
		t.Errorf("unexpected document %+v", doc)
	}
}

func TestHandler_DocumentHTMLAndPDF(t *testing.T) {
	h := NewHandler(newTestService(sampleNotes(t), nil, ""), noterender.NewRegistry())

	rec, err := serveDocument(t, h, "42", "format=html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "<h2>Cognitive Status</h2>") {
		t.Error("expected rendered section in HTML")
	}

	rec, err = serveDocument(t, h, "42", "format=pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("expected PDF body")
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "visit-note-42.pdf") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestHandler_UnknownFormat(t *testing.T) {
	h := NewHandler(newTestService(sampleNotes(t), nil, ""), noterender.NewRegistry())

	_, err := serveDocument(t, h, "42", "format=docx")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ErrorStateJSON(t *testing.T) {
	notes := sampleNotes(t)
	h := NewHandler(newTestService(notes, nil, ""), noterender.NewRegistry())

	rec, err := serveDocument(t, h, "missing", "format=json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Status != "error" || body.Reason != ReasonNotFound || body.Retryable {
		t.Errorf("unexpected body %+v", body)
	}

	notes.noteErr = errors.New("timeout")
	rec, err = serveDocument(t, h, "42", "format=json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	body = ErrorBody{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Reason != ReasonUnavailable || !body.Retryable || body.RetryURL != "/api/v1/visit-notes/42/document?format=json" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandler_MalformedNote(t *testing.T) {
	_, decodeErr := visitnote.DecodeSections([]byte(`{bad`))
	notes := sampleNotes(t)
	notes.noteErr = decodeErr
	h := NewHandler(newTestService(notes, nil, ""), noterender.NewRegistry())

	rec, err := serveDocument(t, h, "42", "format=json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.Reason != ReasonInvalid || body.Retryable {
		t.Errorf("unexpected body %+v", body)
	}

	rec, err = serveDocument(t, h, "42", "format=html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "Note unreadable") || strings.Contains(out, "Try again") {
		t.Errorf("expected error page without retry link, got:\n%s", out)
	}
}

func TestHandler_ErrorStateHTML(t *testing.T) {
	notes := sampleNotes(t)
	notes.noteErr = errors.New("timeout")
	h := NewHandler(newTestService(notes, nil, ""), noterender.NewRegistry())

	rec, err := serveDocument(t, h, "42", "format=html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	out := rec.Body.String()
	if !strings.Contains(out, "Note unavailable") || !strings.Contains(out, "Try again") {
		t.Errorf("expected retry page, got:\n%s", out)
	}
}

func TestHandler_ErrorStatePDFFallsBackToJSON(t *testing.T) {
	h := NewHandler(newTestService(sampleNotes(t), nil, ""), noterender.NewRegistry())

	rec, err := serveDocument(t, h, "missing", "format=pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("content type = %q", ct)
	}
}
