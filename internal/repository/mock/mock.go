package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dshills/respdiff/internal/domain"
	"github.com/dshills/respdiff/internal/repository"
	"github.com/google/uuid"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("mock repository closed")

// Repository is an in-memory mock repository for testing.
type Repository struct {
	mu       sync.RWMutex
	progress map[string]*domain.Progress
	sessions map[string]*domain.Session
	closed   bool
}

// New creates a new mock repository.
func New() *Repository {
	return &Repository{
		progress: make(map[string]*domain.Progress),
		sessions: make(map[string]*domain.Session),
	}
}

// Progress

func (r *Repository) SaveProgress(ctx context.Context, fileKey string, u domain.ProgressUpdate) error {
	if fileKey == "" {
		return fmt.Errorf("file key: %w", domain.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	p, ok := r.progress[fileKey]
	if !ok {
		p = domain.EmptyProgress()
		r.progress[fileKey] = p
	}
	if u.Flag != nil {
		flag := *u.Flag
		p.Flag = &flag
	}
	if u.Comment != nil {
		p.Comment = *u.Comment
	}
	if u.Resolved != nil {
		p.Resolved = *u.Resolved
	}
	if len(u.ResolvedDiffs) > 0 {
		p.ResolvedDiffs = append(json.RawMessage(nil), u.ResolvedDiffs...)
	}
	now := time.Now().UTC()
	p.LastUpdated = &now
	return nil
}

func (r *Repository) GetProgress(ctx context.Context, fileKey string) (*domain.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	p, ok := r.progress[fileKey]
	if !ok {
		return domain.EmptyProgress(), nil
	}
	cp := *p
	return &cp, nil
}

func (r *Repository) ListProgress(ctx context.Context) (map[string]*domain.Progress, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	result := make(map[string]*domain.Progress, len(r.progress))
	for k, p := range r.progress {
		cp := *p
		result[k] = &cp
	}
	return result, nil
}

// Sessions

func (r *Repository) SaveSession(ctx context.Context, session *domain.Session) error {
	if session.Name == "" {
		return fmt.Errorf("session name: %w", domain.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	cp := *session
	if cp.ProgressData == nil {
		cp.ProgressData = map[string]*domain.Progress{}
	}
	r.sessions[session.Name] = &cp
	return nil
}

func (r *Repository) GetSession(ctx context.Context, name string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	s, ok := r.sessions[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *Repository) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	sessions, err := r.ListSessionsFull(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]domain.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, domain.SessionSummary{Name: s.Name, CreatedAt: s.CreatedAt})
	}
	return result, nil
}

func (r *Repository) ListSessionsFull(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}
	result := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		cp := *s
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (r *Repository) DeleteSession(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.sessions[name]; !ok {
		return domain.ErrNotFound
	}
	delete(r.sessions, name)
	return nil
}

// Transaction support (no-op for mock)

func (r *Repository) WithTx(ctx context.Context, fn func(repository.Repository) error) error {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return fn(r)
}

// Lifecycle

func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Ensure Repository implements repository.Repository
var _ repository.Repository = (*Repository)(nil)
