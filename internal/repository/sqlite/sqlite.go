package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/respdiff/internal/domain"
	"github.com/dshills/respdiff/internal/repository"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sqlx.DB
	store
}

// New opens the database at dbPath and applies pending migrations.
func New(dbPath string) (*SQLiteRepository, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	return &SQLiteRepository{db: db, store: store{q: db}}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	// The migrator is not closed: closing it would close db.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// WithTx executes fn within a transaction.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(repository.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &txRepository{tx: tx, store: store{q: tx}}
	if err := fn(txRepo); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// txRepository wraps a transaction for Repository operations.
type txRepository struct {
	tx *sqlx.Tx
	store
}

func (t *txRepository) WithTx(ctx context.Context, fn func(repository.Repository) error) error {
	// Already in a transaction, just execute
	return fn(t)
}

func (t *txRepository) Close() error {
	return nil // No-op for transaction wrapper
}

// store holds the queries shared by the database and transaction repositories.
type store struct {
	q sqlx.ExtContext
}

type progressRow struct {
	FileKey       string         `db:"file_key"`
	Flag          sql.NullString `db:"flag"`
	Comment       sql.NullString `db:"comment"`
	Resolved      bool           `db:"resolved"`
	ResolvedDiffs sql.NullString `db:"resolved_diffs"`
	LastUpdated   sql.NullString `db:"last_updated"`
}

func (row progressRow) toDomain() *domain.Progress {
	p := domain.EmptyProgress()
	if row.Flag.Valid {
		flag := row.Flag.String
		p.Flag = &flag
	}
	p.Comment = row.Comment.String
	p.Resolved = row.Resolved
	if row.ResolvedDiffs.Valid && json.Valid([]byte(row.ResolvedDiffs.String)) {
		p.ResolvedDiffs = json.RawMessage(row.ResolvedDiffs.String)
	}
	if row.LastUpdated.Valid {
		if t, err := time.Parse(timeLayout, row.LastUpdated.String); err == nil {
			p.LastUpdated = &t
		}
	}
	return p
}

type sessionRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"session_name"`
	ProgressData string         `db:"progress_data"`
	StatsData    sql.NullString `db:"stats_data"`
	CreatedAt    string         `db:"created_at"`
}

func (row sessionRow) toDomain() (*domain.Session, error) {
	s := &domain.Session{Name: row.Name}
	var err error
	if s.ID, err = uuid.Parse(row.ID); err != nil {
		return nil, fmt.Errorf("session %s id: %w", row.Name, err)
	}
	if err := json.Unmarshal([]byte(row.ProgressData), &s.ProgressData); err != nil {
		return nil, fmt.Errorf("session %s progress: %w", row.Name, err)
	}
	if s.ProgressData == nil {
		s.ProgressData = map[string]*domain.Progress{}
	}
	if row.StatsData.Valid {
		if err := json.Unmarshal([]byte(row.StatsData.String), &s.Stats); err != nil {
			return nil, fmt.Errorf("session %s stats: %w", row.Name, err)
		}
	}
	if s.CreatedAt, err = time.Parse(timeLayout, row.CreatedAt); err != nil {
		return nil, fmt.Errorf("session %s created_at: %w", row.Name, err)
	}
	return s, nil
}

// Progress

// SaveProgress applies a partial update; fields left nil keep their stored
// value. A new record defaults to unresolved.
func (s store) SaveProgress(ctx context.Context, fileKey string, u domain.ProgressUpdate) error {
	if fileKey == "" {
		return fmt.Errorf("file key: %w", domain.ErrInvalidInput)
	}

	var resolved any
	insertResolved := false
	if u.Resolved != nil {
		resolved = *u.Resolved
		insertResolved = *u.Resolved
	}
	var diffs any
	if len(u.ResolvedDiffs) > 0 {
		diffs = string(u.ResolvedDiffs)
	}
	now := time.Now().UTC().Format(timeLayout)

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO file_progress (file_key, flag, comment, resolved, resolved_diffs, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_key) DO UPDATE SET
			flag = COALESCE(?, file_progress.flag),
			comment = COALESCE(?, file_progress.comment),
			resolved = COALESCE(?, file_progress.resolved),
			resolved_diffs = COALESCE(?, file_progress.resolved_diffs),
			last_updated = excluded.last_updated`,
		fileKey, u.Flag, u.Comment, insertResolved, diffs, now,
		u.Flag, u.Comment, resolved, diffs)
	if err != nil {
		return fmt.Errorf("save progress %s: %w", fileKey, err)
	}
	return nil
}

func (s store) GetProgress(ctx context.Context, fileKey string) (*domain.Progress, error) {
	var row progressRow
	err := sqlx.GetContext(ctx, s.q, &row, `SELECT * FROM file_progress WHERE file_key = ?`, fileKey)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EmptyProgress(), nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s store) ListProgress(ctx context.Context) (map[string]*domain.Progress, error) {
	var rows []progressRow
	if err := sqlx.SelectContext(ctx, s.q, &rows, `SELECT * FROM file_progress ORDER BY file_key`); err != nil {
		return nil, err
	}
	all := make(map[string]*domain.Progress, len(rows))
	for _, row := range rows {
		all[row.FileKey] = row.toDomain()
	}
	return all, nil
}

// Sessions

// SaveSession stores the session, replacing any session with the same name.
// A zero ID or creation time is filled in.
func (s store) SaveSession(ctx context.Context, session *domain.Session) error {
	if session.Name == "" {
		return fmt.Errorf("session name: %w", domain.ErrInvalidInput)
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	progress := session.ProgressData
	if progress == nil {
		progress = map[string]*domain.Progress{}
	}
	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	var statsJSON any
	if session.Stats != nil {
		b, err := json.Marshal(session.Stats)
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		statsJSON = string(b)
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (session_name, id, progress_data, stats_data, created_at) VALUES (?, ?, ?, ?, ?)`,
		session.Name, session.ID.String(), string(progressJSON), statsJSON, session.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.Name, err)
	}
	return nil
}

func (s store) GetSession(ctx context.Context, name string) (*domain.Session, error) {
	var row sessionRow
	err := sqlx.GetContext(ctx, s.q, &row,
		`SELECT id, session_name, progress_data, stats_data, created_at FROM sessions WHERE session_name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (s store) ListSessions(ctx context.Context) ([]domain.SessionSummary, error) {
	var rows []struct {
		Name      string `db:"session_name"`
		CreatedAt string `db:"created_at"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT session_name, created_at FROM sessions ORDER BY created_at DESC, session_name`)
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.SessionSummary, 0, len(rows))
	for _, row := range rows {
		created, err := time.Parse(timeLayout, row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("session %s created_at: %w", row.Name, err)
		}
		summaries = append(summaries, domain.SessionSummary{Name: row.Name, CreatedAt: created})
	}
	return summaries, nil
}

func (s store) ListSessionsFull(ctx context.Context) ([]*domain.Session, error) {
	var rows []sessionRow
	err := sqlx.SelectContext(ctx, s.q, &rows,
		`SELECT id, session_name, progress_data, stats_data, created_at FROM sessions ORDER BY created_at DESC, session_name`)
	if err != nil {
		return nil, err
	}

	sessions := make([]*domain.Session, 0, len(rows))
	for _, row := range rows {
		session, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s store) DeleteSession(ctx context.Context, name string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE session_name = ?`, name)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ensure implementations satisfy the interface
var _ repository.Repository = (*SQLiteRepository)(nil)
var _ repository.Repository = (*txRepository)(nil)
