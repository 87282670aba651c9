package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dshills/respdiff/internal/domain"
	"github.com/dshills/respdiff/internal/export"
	"github.com/dshills/respdiff/internal/repository"
	"github.com/dshills/respdiff/internal/results"
	docvalidator "github.com/dshills/respdiff/internal/validator"
	"github.com/go-playground/validator/v10"
)

// maxImportSize bounds the body of an import request.
const maxImportSize = 32 << 20

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	repo     repository.Repository
	scanner  *results.Scanner
	docs     *docvalidator.Validator
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(repo repository.Repository, scanner *results.Scanner, docs *docvalidator.Validator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		repo:     repo,
		scanner:  scanner,
		docs:     docs,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	// Results
	mux.HandleFunc("GET /api/index", h.Index)
	mux.HandleFunc("GET /api/file/{path...}", h.GetFile)
	mux.HandleFunc("GET /api/stats/timings", h.Timings)

	// Progress
	mux.HandleFunc("POST /api/progress/save", h.SaveProgress)
	mux.HandleFunc("GET /api/progress/load/{key...}", h.LoadProgress)
	mux.HandleFunc("GET /api/progress/all", h.AllProgress)

	// Sessions
	mux.HandleFunc("POST /api/session/save", h.SaveSession)
	mux.HandleFunc("GET /api/session/load/{name}", h.LoadSession)
	mux.HandleFunc("GET /api/session/list", h.ListSessions)
	mux.HandleFunc("DELETE /api/session/delete/{name}", h.DeleteSession)

	// Export / import
	mux.HandleFunc("GET /api/export", h.Export)
	mux.HandleFunc("POST /api/import", h.Import)
}

// Routes returns the API mux wrapped in the standard middleware chain.
func (h *Handler) Routes(cors CORSConfig) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = Logger(h.logger)(handler)
	handler = RequestID(handler)
	handler = CORS(cors)(handler)
	return handler
}

// Response helpers

// envelope is the body of every JSON response.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(data)
}

func writeData(w http.ResponseWriter, data interface{}, message string) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, message string, details interface{}) {
	writeJSON(w, status, envelope{Success: false, Error: message, Details: details})
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIncompleteComparison), errors.Is(err, domain.ErrMalformedInput):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an error response. Internal errors are logged and
// reported with the generic action message only.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, action string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), action,
			"error", err,
			"request_id", RequestIDFrom(r.Context()))
		writeError(w, status, action, nil)
		return
	}
	writeError(w, status, err.Error(), nil)
}

// decodeBody decodes and validates a JSON request body.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]docvalidator.ValidationError, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, docvalidator.ValidationError{
					Path:    fe.Field(),
					Message: fmt.Sprintf("failed on '%s'", fe.Tag()),
				})
			}
			writeError(w, http.StatusBadRequest, "Invalid request", details)
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return false
	}
	return true
}

// Health

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]string{"status": "ok"}, "")
}

// Results

type indexResponse struct {
	FolderGroups map[string][]domain.FileEntry `json:"folder_groups"`
	Stats        domain.Stats                  `json:"stats"`
	Progress     map[string]*domain.Progress   `json:"progress"`
}

// Index returns everything a client needs on first load.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	structure, err := h.scanner.Structure(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to scan results")
		return
	}
	progress, err := h.repo.ListProgress(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load progress")
		return
	}

	writeData(w, indexResponse{
		FolderGroups: structure,
		Stats:        results.Summarize(structure),
		Progress:     progress,
	}, "")
}

type fileResponse struct {
	*results.Comparison
	Progress *domain.Progress `json:"progress"`
}

func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")

	cmp, err := h.scanner.Compare(path)
	if err != nil {
		h.fail(w, r, err, "Failed to compare responses")
		return
	}

	progress, err := h.repo.GetProgress(r.Context(), path)
	if err != nil {
		h.fail(w, r, err, "Failed to load progress")
		return
	}

	writeData(w, fileResponse{Comparison: cmp, Progress: progress}, "")
}

func (h *Handler) Timings(w http.ResponseWriter, r *http.Request) {
	timings, err := h.scanner.AverageTimes(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to compute timings")
		return
	}
	writeData(w, timings, "")
}

// Progress

type saveProgressRequest struct {
	FileKey       string          `json:"file_key" validate:"required"`
	Flag          *string         `json:"flag"`
	Comment       *string         `json:"comment"`
	Resolved      *bool           `json:"resolved"`
	ResolvedDiffs json.RawMessage `json:"resolved_diffs"`
}

func (h *Handler) SaveProgress(w http.ResponseWriter, r *http.Request) {
	var req saveProgressRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	diffs := bytes.TrimSpace(req.ResolvedDiffs)
	if bytes.Equal(diffs, []byte("null")) {
		diffs = nil
	}
	if len(diffs) > 0 && diffs[0] != '{' {
		writeError(w, http.StatusBadRequest, "resolved_diffs must be an object", nil)
		return
	}

	update := domain.ProgressUpdate{
		Flag:          req.Flag,
		Comment:       req.Comment,
		Resolved:      req.Resolved,
		ResolvedDiffs: diffs,
	}
	if err := h.repo.SaveProgress(r.Context(), req.FileKey, update); err != nil {
		h.fail(w, r, err, "Failed to save progress")
		return
	}

	h.logger.DebugContext(r.Context(), "progress saved", "file_key", req.FileKey)
	writeData(w, nil, "Progress saved successfully")
}

func (h *Handler) LoadProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.repo.GetProgress(r.Context(), r.PathValue("key"))
	if err != nil {
		h.fail(w, r, err, "Failed to load progress")
		return
	}
	writeData(w, progress, "")
}

func (h *Handler) AllProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.repo.ListProgress(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load progress")
		return
	}
	writeData(w, progress, "")
}

// Sessions

type saveSessionRequest struct {
	SessionName string `json:"session_name" validate:"required,max=200"`
}

// SaveSession snapshots all current progress and stats under a name.
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	var req saveSessionRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	progress, err := h.repo.ListProgress(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to load progress")
		return
	}
	stats, err := h.scanner.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to compute stats")
		return
	}

	session := &domain.Session{
		Name:         req.SessionName,
		ProgressData: progress,
		Stats:        &stats,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.repo.SaveSession(r.Context(), session); err != nil {
		h.fail(w, r, err, "Failed to save session")
		return
	}

	writeData(w, session, fmt.Sprintf("Session %q saved successfully", session.Name))
}

// LoadSession writes the session's progress back as the current progress.
func (h *Handler) LoadSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	session, err := h.repo.GetSession(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		h.fail(w, r, err, "Failed to load session")
		return
	}

	err = h.repo.WithTx(r.Context(), func(tx repository.Repository) error {
		for key, p := range session.ProgressData {
			if p == nil {
				continue
			}
			if err := tx.SaveProgress(r.Context(), key, repository.UpdateFromProgress(p)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.fail(w, r, err, "Failed to apply session")
		return
	}

	writeData(w, session, fmt.Sprintf("Session %q loaded successfully", name))
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.repo.ListSessions(r.Context())
	if err != nil {
		h.fail(w, r, err, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	writeData(w, sessions, "")
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.repo.DeleteSession(r.Context(), name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found", nil)
			return
		}
		h.fail(w, r, err, "Failed to delete session")
		return
	}
	writeData(w, nil, fmt.Sprintf("Session %q deleted successfully", name))
}

// Export / import

// Export downloads the review state as JSON, or as a zip with a markdown
// report when format=zip.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	doc, err := export.Build(r.Context(), h.repo)
	if err != nil {
		h.fail(w, r, err, "Export failed")
		return
	}

	var buf bytes.Buffer
	filename := export.Filename(doc.ExportedAt)
	contentType := "application/json"
	if r.URL.Query().Get("format") == "zip" {
		if err := export.WriteZip(doc, &buf); err != nil {
			h.fail(w, r, err, "Export failed")
			return
		}
		filename = filename[:len(filename)-len(".json")] + ".zip"
		contentType = "application/zip"
	} else if err := export.Write(doc, &buf); err != nil {
		h.fail(w, r, err, "Export failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Write(buf.Bytes())
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read import body", nil)
		return
	}

	summary, err := export.Import(r.Context(), h.repo, h.docs, data)
	if err != nil {
		var verr *export.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, "Import document is invalid", verr.Result.Errors)
			return
		}
		h.fail(w, r, err, "Import failed")
		return
	}

	h.logger.InfoContext(r.Context(), "review state imported",
		"progress", summary.Progress,
		"sessions", summary.Sessions)
	writeData(w, summary, "Import completed successfully")
}
