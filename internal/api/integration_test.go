package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dshills/respdiff/internal/domain"
	"github.com/dshills/respdiff/internal/export"
	"github.com/dshills/respdiff/internal/repository/mock"
	"github.com/dshills/respdiff/internal/results"
	docvalidator "github.com/dshills/respdiff/internal/validator"
)

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// TestIntegration_ReviewExportImport reviews a comparison, snapshots it,
// exports everything and imports it into a fresh store.
func TestIntegration_ReviewExportImport(t *testing.T) {
	handler, _ := setupHandler(t)
	routes := handler.Routes(CORSConfig{AllowedOrigins: []string{"*"}})

	// Step 1: review the comparison
	rec := do(t, routes, "GET", "/api/file/invoice_a", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GetFile status = %d, body = %s", rec.Code, rec.Body.String())
	}

	body := `{"file_key": "invoice_a", "flag": "needs-fix", "comment": "total | off by two", "resolved_diffs": {"total": false}}`
	rec = do(t, routes, "POST", "/api/progress/save", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("SaveProgress status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Step 2: snapshot
	rec = do(t, routes, "POST", "/api/session/save", `{"session_name": "first pass"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("SaveSession status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Step 3: export
	rec = do(t, routes, "GET", "/api/export", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Export Content-Type = %q", ct)
	}
	disposition := rec.Header().Get("Content-Disposition")
	if !strings.HasPrefix(disposition, `attachment; filename="api_diff_export_`) || !strings.HasSuffix(disposition, `.json"`) {
		t.Errorf("Export Content-Disposition = %q", disposition)
	}
	exported := rec.Body.Bytes()

	var doc domain.ExportDocument
	if err := json.Unmarshal(exported, &doc); err != nil {
		t.Fatalf("Failed to decode export: %v", err)
	}
	if len(doc.Progress) != 1 || len(doc.Sessions) != 1 {
		t.Fatalf("Export content mismatch: %d progress, %d sessions", len(doc.Progress), len(doc.Sessions))
	}
	if doc.Sessions["first pass"].Stats == nil {
		t.Error("Exported session lost its stats")
	}

	// Step 4: import into a fresh handler
	docs, err := docvalidator.New()
	if err != nil {
		t.Fatalf("validator.New: %v", err)
	}
	freshRepo := mock.New()
	fresh := NewHandler(freshRepo, results.NewScanner(t.TempDir(), nil, 1, nil), docs,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	rec = do(t, fresh.Routes(CORSConfig{}), "POST", "/api/import", string(exported))
	if rec.Code != http.StatusOK {
		t.Fatalf("Import status = %d, body = %s", rec.Code, rec.Body.String())
	}
	ok, data, _ := decodeEnvelope(t, rec.Body)
	var summary export.ImportSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if !ok || summary.Progress != 1 || summary.Sessions != 1 {
		t.Errorf("Import summary = %+v", summary)
	}

	p, _ := freshRepo.GetProgress(context.Background(), "invoice_a")
	if p.Flag == nil || *p.Flag != "needs-fix" || p.Comment != "total | off by two" {
		t.Errorf("Imported progress mismatch: %+v", p)
	}
	session, err := freshRepo.GetSession(context.Background(), "first pass")
	if err != nil {
		t.Fatalf("Imported session missing: %v", err)
	}
	if !session.CreatedAt.Equal(doc.Sessions["first pass"].CreatedAt) {
		t.Errorf("Session created_at = %v, want %v", session.CreatedAt, doc.Sessions["first pass"].CreatedAt)
	}
}

func TestIntegration_ExportZip(t *testing.T) {
	handler, repo := setupHandler(t)
	flag := "bug"
	repo.SaveProgress(context.Background(), "invoice_a", domain.ProgressUpdate{Flag: &flag})

	rec := do(t, handler.Routes(CORSConfig{}), "GET", "/api/export?format=zip", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Export status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if d := rec.Header().Get("Content-Disposition"); !strings.HasSuffix(d, `.zip"`) {
		t.Errorf("Content-Disposition = %q", d)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("Failed to open zip: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["REVIEW.md"] || len(names) != 2 {
		t.Errorf("Zip entries = %v", names)
	}
}

func TestIntegration_ImportInvalid(t *testing.T) {
	handler, repo := setupHandler(t)
	routes := handler.Routes(CORSConfig{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"progress": `},
		{"bad id", `{"id": "not-a-uuid", "progress": {}}`},
		{"bad resolved", `{"progress": {"invoice_a": {"resolved": "yes"}}}`},
		{"progress not object", `{"id": "6f1c1f5e-8f6a-4c1e-9a43-2b8f8e9f6d11", "progress": [], "sessions": {}, "exported_at": "2024-01-01T00:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, routes, "POST", "/api/import", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Import status = %d, want %d, body = %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
			ok, _, errMsg := decodeEnvelope(t, rec.Body)
			if ok || errMsg == "" {
				t.Errorf("Expected failure envelope, got success=%v error=%q", ok, errMsg)
			}
		})
	}

	all, _ := repo.ListProgress(context.Background())
	if len(all) != 0 {
		t.Errorf("Rejected imports wrote %d progress entries", len(all))
	}
}

func TestIntegration_Middleware(t *testing.T) {
	handler, _ := setupHandler(t)

	t.Run("preflight", func(t *testing.T) {
		routes := handler.Routes(CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}})
		req := httptest.NewRequest(http.MethodOptions, "/api/progress/save", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusNoContent)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
			t.Errorf("Allow-Origin = %q", got)
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		routes := handler.Routes(CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.example")
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("request id", func(t *testing.T) {
		routes := handler.Routes(CORSConfig{})

		rec := do(t, routes, "GET", "/health", "")
		if rec.Header().Get(RequestIDHeader) == "" {
			t.Error("Expected a generated request id")
		}

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		rec = httptest.NewRecorder()
		routes.ServeHTTP(rec, req)
		if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
			t.Errorf("Request id = %q, want abc-123", got)
		}
	})
}
