package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FileStatus is the readiness of a results folder for comparison.
type FileStatus string

const (
	FileStatusReady      FileStatus = "ready"
	FileStatusIncomplete FileStatus = "incomplete"
	FileStatusError      FileStatus = "error"
)

// FileEntry describes one results folder in the sidebar structure.
type FileEntry struct {
	FolderName    string     `json:"folder_name"`
	SubFilename   string     `json:"sub_filename"`
	FilePath      string     `json:"file_path"` // also the progress file key
	ResponseCount int        `json:"response_count"`
	HasComparison bool       `json:"has_comparison"`
	Status        FileStatus `json:"status"`
}

// Stats summarizes the results directory.
type Stats struct {
	TotalFolders int     `json:"total_folders"`
	TotalFiles   int     `json:"total_files"`
	ReadyFiles   int     `json:"ready_files"`
	ErrorFiles   int     `json:"error_files"`
	SuccessRate  float64 `json:"success_rate"`
}

// Timings holds average processing times in seconds; nil when unknown.
type Timings struct {
	AvgLocal  *float64 `json:"avg_local"`
	AvgRemote *float64 `json:"avg_remote"`
}

// Response is one decoded *_response.json envelope.
type Response struct {
	API            string
	FileName       string
	Data           json.RawMessage
	ProcessingTime *float64
}

// ResponsePair is the two responses of a results folder being compared.
type ResponsePair struct {
	Folder string
	Left   Response
	Right  Response
}

// Progress is the review state of a single comparison.
type Progress struct {
	Flag          *string         `json:"flag"`
	Comment       string          `json:"comment"`
	Resolved      bool            `json:"resolved"`
	ResolvedDiffs json.RawMessage `json:"resolved_diffs"`
	LastUpdated   *time.Time      `json:"last_updated"`
}

// EmptyProgress returns the review state reported for unknown file keys.
func EmptyProgress() *Progress {
	return &Progress{ResolvedDiffs: json.RawMessage(`{}`)}
}

// ProgressUpdate carries a partial progress change. Nil fields are left
// untouched on existing records.
type ProgressUpdate struct {
	Flag          *string         `json:"flag"`
	Comment       *string         `json:"comment"`
	Resolved      *bool           `json:"resolved"`
	ResolvedDiffs json.RawMessage `json:"resolved_diffs"`
}

// Session is a named snapshot of all review progress.
type Session struct {
	ID           uuid.UUID            `json:"id"`
	Name         string               `json:"session_name"`
	ProgressData map[string]*Progress `json:"progress_data"`
	Stats        *Stats               `json:"stats"`
	CreatedAt    time.Time            `json:"created_at"`
}

// SessionSummary is a session listing entry.
type SessionSummary struct {
	Name      string    `json:"session_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ExportedSession is a session inside an export document.
type ExportedSession struct {
	ProgressData map[string]*Progress `json:"progress_data"`
	Stats        *Stats               `json:"stats"`
	CreatedAt    time.Time            `json:"created_at"`
}

// ExportDocument is the full review state written by export and read by import.
type ExportDocument struct {
	ID         uuid.UUID                  `json:"id"`
	Progress   map[string]*Progress       `json:"progress"`
	Sessions   map[string]ExportedSession `json:"sessions"`
	ExportedAt time.Time                  `json:"exported_at"`
}

// FileComparison is the comparison of a results folder as served to clients.
// The diff result fields are embedded by the caller.
type FileComparison struct {
	LeftAPI         string              `json:"left_api"`
	RightAPI        string              `json:"right_api"`
	ProcessingTimes map[string]*float64 `json:"processing_times"`
}
