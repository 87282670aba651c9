package repository

import (
	"context"

	"github.com/dshills/respdiff/internal/domain"
)

// Repository defines the interface for persistent review state.
type Repository interface {
	// Progress
	SaveProgress(ctx context.Context, fileKey string, update domain.ProgressUpdate) error
	GetProgress(ctx context.Context, fileKey string) (*domain.Progress, error)
	ListProgress(ctx context.Context) (map[string]*domain.Progress, error)

	// Sessions
	SaveSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, name string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.SessionSummary, error)
	ListSessionsFull(ctx context.Context) ([]*domain.Session, error)
	DeleteSession(ctx context.Context, name string) error

	// Transaction support
	WithTx(ctx context.Context, fn func(Repository) error) error

	// Lifecycle
	Close() error
}

// UpdateFromProgress converts a full progress record into an update that
// overwrites every field.
func UpdateFromProgress(p *domain.Progress) domain.ProgressUpdate {
	comment := p.Comment
	resolved := p.Resolved
	return domain.ProgressUpdate{
		Flag:          p.Flag,
		Comment:       &comment,
		Resolved:      &resolved,
		ResolvedDiffs: p.ResolvedDiffs,
	}
}
