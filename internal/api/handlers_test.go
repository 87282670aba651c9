package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/respdiff/internal/diff"
	"github.com/dshills/respdiff/internal/domain"
	"github.com/dshills/respdiff/internal/repository/mock"
	"github.com/dshills/respdiff/internal/results"
	docvalidator "github.com/dshills/respdiff/internal/validator"
)

func writeResponse(t *testing.T, root, folder, api, content string) {
	t.Helper()
	dir := filepath.Join(root, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	name := folder + "_" + api + "_response.json"
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func setupHandler(t *testing.T) (*Handler, *mock.Repository) {
	t.Helper()
	root := t.TempDir()

	writeResponse(t, root, "invoice_a", "local",
		`{"success": true, "response_data": {"total": 10, "items": [1, 2]}, "processing_time_seconds": 1.5}`)
	writeResponse(t, root, "invoice_a", "remote",
		`{"success": true, "response_data": {"total": 12, "items": [1, 2]}, "processing_time_seconds": 2.5}`)
	writeResponse(t, root, "invoice_same", "local", `{"response_data": {"ok": true}}`)
	writeResponse(t, root, "invoice_same", "remote", `{"response_data": {"ok": true}}`)
	writeResponse(t, root, "receipt_one", "local", `{"response_data": {}}`)
	writeResponse(t, root, "receipt_bad", "local", `{"response_data": `)
	writeResponse(t, root, "receipt_bad", "remote", `{"response_data": {}}`)

	differ, err := diff.NewDiffer()
	if err != nil {
		t.Fatalf("NewDiffer: %v", err)
	}
	docs, err := docvalidator.New()
	if err != nil {
		t.Fatalf("validator.New: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := mock.New()
	scanner := results.NewScanner(root, differ, 2, logger)
	return NewHandler(repo, scanner, docs, logger), repo
}

// decodeEnvelope decodes a response body, with data left raw.
func decodeEnvelope(t *testing.T, body *bytes.Buffer) (bool, json.RawMessage, string) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp.Success, resp.Data, resp.Error
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	handler, _ := setupHandler(t)

	w := serve(handler, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Health() status = %d", w.Code)
	}
	ok, data, _ := decodeEnvelope(t, w.Body)
	if !ok || string(data) != `{"status":"ok"}` {
		t.Errorf("Health() = %v %s", ok, data)
	}
}

func TestIndex(t *testing.T) {
	handler, repo := setupHandler(t)
	comment := "checked"
	repo.SaveProgress(context.Background(), "invoice_a", domain.ProgressUpdate{Comment: &comment})

	w := serve(handler, "GET", "/api/index", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Index() status = %d, body = %s", w.Code, w.Body.String())
	}

	_, data, _ := decodeEnvelope(t, w.Body)
	var resp indexResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("Failed to decode index: %v", err)
	}

	if len(resp.FolderGroups["invoice"]) != 2 || len(resp.FolderGroups["receipt"]) != 2 {
		t.Errorf("FolderGroups mismatch: %+v", resp.FolderGroups)
	}
	if resp.Stats.TotalFiles != 4 || resp.Stats.ReadyFiles != 2 || resp.Stats.ErrorFiles != 1 {
		t.Errorf("Stats mismatch: %+v", resp.Stats)
	}
	if p := resp.Progress["invoice_a"]; p == nil || p.Comment != "checked" {
		t.Errorf("Progress mismatch: %+v", resp.Progress)
	}
}

func TestIndex_StoreUnavailable(t *testing.T) {
	handler, repo := setupHandler(t)
	repo.Close()

	w := serve(handler, "GET", "/api/index", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Index() status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	ok, _, errMsg := decodeEnvelope(t, w.Body)
	if ok || errMsg != "Failed to load progress" {
		t.Errorf("Index() = success %v, error %q", ok, errMsg)
	}
}

func TestGetFile(t *testing.T) {
	handler, _ := setupHandler(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"differences", "invoice_a", http.StatusOK},
		{"identical", "invoice_same", http.StatusOK},
		{"missing folder", "invoice_zzz", http.StatusNotFound},
		{"single response", "receipt_one", http.StatusUnprocessableEntity},
		{"malformed response", "receipt_bad", http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler, "GET", "/api/file/"+tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("GetFile() status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}

			ok, data, errMsg := decodeEnvelope(t, w.Body)
			if tt.wantStatus != http.StatusOK {
				if ok || errMsg == "" {
					t.Errorf("Expected failure envelope, got success=%v error=%q", ok, errMsg)
				}
				return
			}

			var resp struct {
				LeftAPI         string              `json:"left_api"`
				RightAPI        string              `json:"right_api"`
				LeftContent     []string            `json:"left_content"`
				Differences     []diff.Record       `json:"differences"`
				HasDifferences  bool                `json:"has_differences"`
				DifferenceCount int                 `json:"difference_count"`
				ProcessingTimes map[string]*float64 `json:"processing_times"`
				Progress        *domain.Progress    `json:"progress"`
			}
			if err := json.Unmarshal(data, &resp); err != nil {
				t.Fatalf("Failed to decode file: %v", err)
			}
			if resp.LeftAPI != "local" || resp.RightAPI != "remote" {
				t.Errorf("API names mismatch: %q %q", resp.LeftAPI, resp.RightAPI)
			}
			if resp.DifferenceCount != len(resp.Differences) {
				t.Errorf("DifferenceCount %d != len %d", resp.DifferenceCount, len(resp.Differences))
			}
			if resp.Progress == nil || string(resp.Progress.ResolvedDiffs) != "{}" {
				t.Errorf("Expected default progress, got %+v", resp.Progress)
			}
			if len(resp.LeftContent) == 0 {
				t.Error("Expected canonical left content")
			}

			if tt.path == "invoice_a" {
				if !resp.HasDifferences || resp.Differences[0].Path != "total" {
					t.Errorf("Expected total difference first, got %+v", resp.Differences)
				}
				if lt := resp.ProcessingTimes["local"]; lt == nil || *lt != 1.5 {
					t.Errorf("Processing time mismatch: %v", resp.ProcessingTimes)
				}
			} else if resp.HasDifferences {
				t.Errorf("Expected no differences, got %+v", resp.Differences)
			}
		})
	}
}

func TestGetFile_OutsideResults(t *testing.T) {
	handler, _ := setupHandler(t)

	// the mux redirects unclean paths, so set the wildcard directly
	req := httptest.NewRequest("GET", "/api/file/x", nil)
	req.SetPathValue("path", "../secret")
	w := httptest.NewRecorder()
	handler.GetFile(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("GetFile() status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSaveProgress(t *testing.T) {
	handler, repo := setupHandler(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"flag only", `{"file_key": "invoice_a", "flag": "bug"}`, http.StatusOK},
		{"resolve with diffs", `{"file_key": "invoice_a", "resolved": true, "resolved_diffs": {"total": true}}`, http.StatusOK},
		{"null diffs", `{"file_key": "invoice_a", "resolved_diffs": null}`, http.StatusOK},
		{"missing key", `{"flag": "bug"}`, http.StatusBadRequest},
		{"empty key", `{"file_key": ""}`, http.StatusBadRequest},
		{"diffs not object", `{"file_key": "invoice_a", "resolved_diffs": [1]}`, http.StatusBadRequest},
		{"invalid json", `{invalid}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler, "POST", "/api/progress/save", tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("SaveProgress() status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}

	p, _ := repo.GetProgress(context.Background(), "invoice_a")
	if p.Flag == nil || *p.Flag != "bug" || !p.Resolved || string(p.ResolvedDiffs) != `{"total": true}` {
		t.Errorf("Stored progress mismatch: %+v (diffs %s)", p, p.ResolvedDiffs)
	}
}

func TestLoadProgress(t *testing.T) {
	handler, repo := setupHandler(t)
	resolved := true
	repo.SaveProgress(context.Background(), "group/nested_key", domain.ProgressUpdate{Resolved: &resolved})

	w := serve(handler, "GET", "/api/progress/load/group/nested_key", "")
	if w.Code != http.StatusOK {
		t.Fatalf("LoadProgress() status = %d", w.Code)
	}
	_, data, _ := decodeEnvelope(t, w.Body)
	var p domain.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.Resolved {
		t.Errorf("Expected resolved progress, got %+v", p)
	}

	// unknown keys return the empty default
	w = serve(handler, "GET", "/api/progress/load/unknown", "")
	_, data, _ = decodeEnvelope(t, w.Body)
	if !strings.Contains(string(data), `"resolved_diffs":{}`) || !strings.Contains(string(data), `"comment":""`) {
		t.Errorf("Unexpected default progress: %s", data)
	}

	w = serve(handler, "GET", "/api/progress/all", "")
	_, data, _ = decodeEnvelope(t, w.Body)
	var all map[string]domain.Progress
	if err := json.Unmarshal(data, &all); err != nil {
		t.Fatalf("decode all: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 progress entry, got %d", len(all))
	}
}

func TestSessions(t *testing.T) {
	handler, repo := setupHandler(t)
	ctx := context.Background()
	flag := "bug"
	repo.SaveProgress(ctx, "invoice_a", domain.ProgressUpdate{Flag: &flag})

	// save
	w := serve(handler, "POST", "/api/session/save", `{"session_name": "monday"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("SaveSession() status = %d, body = %s", w.Code, w.Body.String())
	}
	w = serve(handler, "POST", "/api/session/save", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("SaveSession() without name status = %d", w.Code)
	}

	stored, err := repo.GetSession(ctx, "monday")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.Stats == nil || stored.Stats.TotalFiles != 4 {
		t.Errorf("Session stats mismatch: %+v", stored.Stats)
	}

	// change the live state, then load the session back
	other := "ok"
	repo.SaveProgress(ctx, "invoice_a", domain.ProgressUpdate{Flag: &other})

	w = serve(handler, "GET", "/api/session/load/monday", "")
	if w.Code != http.StatusOK {
		t.Fatalf("LoadSession() status = %d, body = %s", w.Code, w.Body.String())
	}
	p, _ := repo.GetProgress(ctx, "invoice_a")
	if p.Flag == nil || *p.Flag != "bug" {
		t.Errorf("Session progress not applied: %+v", p)
	}

	w = serve(handler, "GET", "/api/session/load/nope", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("LoadSession() missing status = %d", w.Code)
	}

	// list
	w = serve(handler, "GET", "/api/session/list", "")
	_, data, _ := decodeEnvelope(t, w.Body)
	var list []domain.SessionSummary
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].Name != "monday" {
		t.Errorf("ListSessions() = %+v", list)
	}

	// delete
	w = serve(handler, "DELETE", "/api/session/delete/monday", "")
	if w.Code != http.StatusOK {
		t.Errorf("DeleteSession() status = %d", w.Code)
	}
	w = serve(handler, "DELETE", "/api/session/delete/monday", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("DeleteSession() second status = %d", w.Code)
	}

	w = serve(handler, "GET", "/api/session/list", "")
	_, data, _ = decodeEnvelope(t, w.Body)
	if string(data) != "[]" {
		t.Errorf("Expected empty session list, got %s", data)
	}
}

func TestTimings(t *testing.T) {
	handler, _ := setupHandler(t)

	w := serve(handler, "GET", "/api/stats/timings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Timings() status = %d", w.Code)
	}
	_, data, _ := decodeEnvelope(t, w.Body)
	var timings domain.Timings
	if err := json.Unmarshal(data, &timings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// invoice_same has no processing times, so only invoice_a counts
	if timings.AvgLocal == nil || *timings.AvgLocal != 1.5 || timings.AvgRemote == nil || *timings.AvgRemote != 2.5 {
		t.Errorf("Timings mismatch: %+v", timings)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{domain.ErrValidationFailed, http.StatusBadRequest},
		{domain.ErrIncompleteComparison, http.StatusUnprocessableEntity},
		{domain.ErrMalformedInput, http.StatusUnprocessableEntity},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
