// Package results reads the results directory: one folder per request, each
// holding the *_response.json envelopes produced by the APIs under test.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/respdiff/internal/diff"
	"github.com/dshills/respdiff/internal/domain"
	"golang.org/x/sync/errgroup"
)

const responseSuffix = "_response.json"

// DefaultWorkers bounds concurrent folder analysis when no limit is given.
const DefaultWorkers = 8

// envelope is the on-disk shape of a response file.
type envelope struct {
	Success        *bool           `json:"success"`
	ResponseData   json.RawMessage `json:"response_data"`
	ProcessingTime *float64        `json:"processing_time_seconds"`
}

func (e envelope) succeeded() bool {
	return e.Success == nil || *e.Success
}

// Comparison is a compared results folder.
type Comparison struct {
	domain.FileComparison
	*diff.Result
}

// Scanner reads and compares results folders under a root directory.
type Scanner struct {
	root    string
	differ  *diff.Differ
	workers int
	logger  *slog.Logger
}

// NewScanner creates a Scanner rooted at root.
func NewScanner(root string, differ *diff.Differ, workers int, logger *slog.Logger) *Scanner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{root: root, differ: differ, workers: workers, logger: logger}
}

// Root returns the results directory.
func (s *Scanner) Root() string {
	return s.root
}

// Structure groups every folder holding at least one response file by the
// folder name prefix before the first underscore. Entries in a group are
// sorted by sub name. A missing results directory yields an empty structure.
func (s *Scanner) Structure(ctx context.Context) (map[string][]domain.FileEntry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string][]domain.FileEntry{}, nil
		}
		return nil, fmt.Errorf("read results dir: %w", err)
	}

	var folders []string
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, e.Name())
		}
	}

	analyzed := make([]*domain.FileEntry, len(folders))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, name := range folders {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := s.analyze(name)
			if err != nil {
				s.logger.Debug("skipping results folder", "folder", name, "error", err)
				return nil
			}
			analyzed[i] = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	structure := make(map[string][]domain.FileEntry)
	for _, entry := range analyzed {
		if entry == nil {
			continue
		}
		group, _ := splitFolder(entry.FolderName)
		structure[group] = append(structure[group], *entry)
	}
	for _, group := range structure {
		sort.Slice(group, func(i, j int) bool {
			return group[i].SubFilename < group[j].SubFilename
		})
	}

	return structure, nil
}

// Stats summarizes the folder structure.
func (s *Scanner) Stats(ctx context.Context) (domain.Stats, error) {
	structure, err := s.Structure(ctx)
	if err != nil {
		return domain.Stats{}, err
	}
	return Summarize(structure), nil
}

// Summarize computes stats from an already scanned structure.
func Summarize(structure map[string][]domain.FileEntry) domain.Stats {
	stats := domain.Stats{TotalFolders: len(structure)}
	for _, group := range structure {
		for _, entry := range group {
			stats.TotalFiles++
			switch entry.Status {
			case domain.FileStatusReady:
				stats.ReadyFiles++
			case domain.FileStatusError:
				stats.ErrorFiles++
			}
		}
	}
	if stats.TotalFiles > 0 {
		stats.SuccessRate = round2(float64(stats.ReadyFiles) / float64(stats.TotalFiles) * 100)
	}
	return stats
}

// AverageTimes averages the processing times of local and remote responses,
// counting only folders where both succeeded and both report a time.
func (s *Scanner) AverageTimes(ctx context.Context) (domain.Timings, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Timings{}, nil
		}
		return domain.Timings{}, fmt.Errorf("read results dir: %w", err)
	}

	var local, remote []float64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return domain.Timings{}, err
		}
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, e.Name())
		files, err := responseFiles(dir)
		if err != nil {
			continue
		}
		localFile, remoteFile := pick(files, "local"), pick(files, "remote")
		if localFile == "" || remoteFile == "" {
			continue
		}

		l, err := readEnvelope(filepath.Join(dir, localFile))
		if err != nil {
			continue
		}
		r, err := readEnvelope(filepath.Join(dir, remoteFile))
		if err != nil {
			continue
		}
		if !l.succeeded() || !r.succeeded() || l.ProcessingTime == nil || r.ProcessingTime == nil {
			continue
		}
		local = append(local, *l.ProcessingTime)
		remote = append(remote, *r.ProcessingTime)
	}

	return domain.Timings{AvgLocal: mean(local), AvgRemote: mean(remote)}, nil
}

// Load reads the first two response files of folder, in name order.
func (s *Scanner) Load(folder string) (*domain.ResponsePair, error) {
	dir, err := s.folderPath(folder)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("folder %s: %w", folder, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("stat folder %s: %w", folder, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("folder %s: %w", folder, domain.ErrNotFound)
	}

	files, err := responseFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folder, err)
	}
	if len(files) < 2 {
		return nil, fmt.Errorf("folder %s has %d response files: %w", folder, len(files), domain.ErrIncompleteComparison)
	}

	pair := &domain.ResponsePair{Folder: folder}
	for i, name := range files[:2] {
		env, err := readEnvelope(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", name, err)
		}
		data := env.ResponseData
		if len(data) == 0 {
			data = json.RawMessage(`{}`)
		}
		resp := domain.Response{
			API:            apiName(folder, name),
			FileName:       name,
			Data:           data,
			ProcessingTime: env.ProcessingTime,
		}
		if i == 0 {
			pair.Left = resp
		} else {
			pair.Right = resp
		}
	}
	return pair, nil
}

// Compare loads folder and diffs the response data of its two responses.
func (s *Scanner) Compare(folder string) (*Comparison, error) {
	pair, err := s.Load(folder)
	if err != nil {
		return nil, err
	}

	result, err := s.differ.BuildJSON(pair.Left.Data, pair.Right.Data)
	if err != nil {
		return nil, fmt.Errorf("compare %s: %w", folder, err)
	}

	return &Comparison{
		FileComparison: domain.FileComparison{
			LeftAPI:  pair.Left.API,
			RightAPI: pair.Right.API,
			ProcessingTimes: map[string]*float64{
				pair.Left.API:  pair.Left.ProcessingTime,
				pair.Right.API: pair.Right.ProcessingTime,
			},
		},
		Result: result,
	}, nil
}

func (s *Scanner) analyze(folder string) (*domain.FileEntry, error) {
	dir := filepath.Join(s.root, folder)
	files, err := responseFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fs.ErrNotExist
	}

	_, sub := splitFolder(folder)
	return &domain.FileEntry{
		FolderName:    folder,
		SubFilename:   sub,
		FilePath:      folder,
		ResponseCount: len(files),
		HasComparison: len(files) >= 2,
		Status:        status(dir, files),
	}, nil
}

func (s *Scanner) folderPath(folder string) (string, error) {
	if folder == "" || !filepath.IsLocal(folder) {
		return "", fmt.Errorf("folder %q: %w", folder, domain.ErrInvalidInput)
	}
	return filepath.Join(s.root, folder), nil
}

// status is incomplete below two responses, error when any response is
// unreadable or reports failure, ready otherwise.
func status(dir string, files []string) domain.FileStatus {
	if len(files) < 2 {
		return domain.FileStatusIncomplete
	}
	for _, name := range files {
		env, err := readEnvelope(filepath.Join(dir, name))
		if err != nil || !env.succeeded() {
			return domain.FileStatusError
		}
	}
	return domain.FileStatusReady
}

func responseFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), responseSuffix) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func readEnvelope(path string) (envelope, error) {
	var env envelope
	data, err := os.ReadFile(path)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	return env, nil
}

// ReadResponseData reads the response_data of the envelope at path. A
// missing response_data reads as an empty object.
func ReadResponseData(path string) (json.RawMessage, error) {
	env, err := readEnvelope(path)
	if err != nil {
		return nil, err
	}
	if len(env.ResponseData) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return env.ResponseData, nil
}

// splitFolder splits "<group>_<sub>"; a name without an underscore is its
// own group and sub name.
func splitFolder(name string) (group, sub string) {
	group, sub, ok := strings.Cut(name, "_")
	if !ok {
		return name, name
	}
	return group, sub
}

// apiName derives "<api>" from "<folder>_<api>_response.json".
func apiName(folder, file string) string {
	name := strings.TrimSuffix(file, responseSuffix)
	return strings.TrimPrefix(name, folder+"_")
}

func pick(files []string, marker string) string {
	for _, f := range files {
		if strings.Contains(f, marker) {
			return f
		}
	}
	return ""
}

func mean(xs []float64) *float64 {
	if len(xs) == 0 {
		return nil
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	avg := round2(sum / float64(len(xs)))
	return &avg
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
