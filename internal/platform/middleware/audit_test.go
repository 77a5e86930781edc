package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicaldocs/internal/platform/auth"
)

// mockRecorder collects audit entries for assertions.
type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func newAuditContext(method, path, userID string, roles ...string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		req = req.WithContext(auth.WithUser(req.Context(), userID, roles))
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestAudit_SectionCreate(t *testing.T) {
	rec := &mockRecorder{}
	c := newAuditContext(http.MethodPost, "/api/v1/note-sections", "admin-1", auth.RoleAdmin)
	c.Set("request_id", "req-abc")
	c.Set("tenant_id", "clinic_1")

	if err := Audit(zerolog.New(os.Stderr), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 audit entry, got %d", rec.count())
	}
	entry := rec.last()
	if entry.UserID != "admin-1" {
		t.Errorf("expected user_id 'admin-1', got %q", entry.UserID)
	}
	if entry.Resource != "note-sections" || entry.ResourceID != "" {
		t.Errorf("unexpected resource %q / %q", entry.Resource, entry.ResourceID)
	}
	if entry.Action != "create" {
		t.Errorf("expected action 'create', got %q", entry.Action)
	}
	if entry.RequestID != "req-abc" || entry.TenantID != "clinic_1" {
		t.Errorf("expected request and tenant ids, got %q / %q", entry.RequestID, entry.TenantID)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
}

func TestAudit_TemplatePatchWithError(t *testing.T) {
	rec := &mockRecorder{}
	c := newAuditContext(http.MethodPatch, "/api/v1/note-templates/7f1c", "admin-2", auth.RoleAdmin)

	failing := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "modified concurrently")
	}
	err := Audit(zerolog.New(os.Stderr), rec)(failing)(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	entry := rec.last()
	if entry.Action != "update" || entry.ResourceID != "7f1c" {
		t.Errorf("unexpected entry %+v", entry)
	}
	if entry.StatusCode != http.StatusConflict {
		t.Errorf("expected status 409, got %d", entry.StatusCode)
	}
}

func TestAudit_DocumentRead(t *testing.T) {
	rec := &mockRecorder{}
	c := newAuditContext(http.MethodGet, "/api/v1/visit-notes/42/document", "clin-1", auth.RoleClinician)

	if err := Audit(zerolog.New(os.Stderr), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := rec.last()
	if entry.Resource != "visit-notes" || entry.ResourceID != "42" || entry.Action != "read" {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestAudit_SkipsReadsOfDefinitionsAndOtherPaths(t *testing.T) {
	rec := &mockRecorder{}
	cases := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/note-sections"},
		{http.MethodGet, "/api/v1/note-templates/PT/Standard"},
		{http.MethodGet, "/health"},
		{http.MethodPost, "/other/path"},
		{http.MethodGet, "/api/v1/notifications"},
	}
	for _, tc := range cases {
		c := newAuditContext(tc.method, tc.path, "u")
		if err := Audit(zerolog.New(os.Stderr), rec)(okHandler)(c); err != nil {
			t.Fatalf("%s %s: unexpected error: %v", tc.method, tc.path, err)
		}
	}
	if rec.count() != 0 {
		t.Errorf("expected no audit entries, got %d", rec.count())
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	c := newAuditContext(http.MethodDelete, "/api/v1/note-sections/abc", "admin-1", auth.RoleAdmin)

	if err := Audit(zerolog.New(os.Stderr), rec)(okHandler)(c); err != nil {
		t.Fatalf("expected request to succeed, got %v", err)
	}
	if rec.last().Action != "delete" {
		t.Errorf("expected delete action, got %q", rec.last().Action)
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	c := newAuditContext(http.MethodPut, "/api/v1/note-sections/s1", "admin-1", auth.RoleAdmin)
	if err := Audit(zerolog.New(os.Stderr), f)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ResourceID != "s1" {
		t.Errorf("expected resource id s1, got %q", got.ResourceID)
	}
}

func TestSplitAPIPath(t *testing.T) {
	tests := []struct {
		path, resource, id string
	}{
		{"/api/v1/note-sections", "note-sections", ""},
		{"/api/v1/note-sections/", "note-sections", ""},
		{"/api/v1/note-templates/PT/Standard", "note-templates", "PT"},
		{"/api/v1/visit-notes/42/document", "visit-notes", "42"},
		{"/health", "", ""},
	}
	for _, tt := range tests {
		r, id := splitAPIPath(tt.path)
		if r != tt.resource || id != tt.id {
			t.Errorf("splitAPIPath(%q) = %q, %q; want %q, %q", tt.path, r, id, tt.resource, tt.id)
		}
	}
}
