// Package sqlite persists the archive in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/realtime-booklist/internal/archive"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Store is a SQLite-backed studio.ArchiveStore scoped to one app and user.
type Store struct {
	db    *sql.DB
	scope archive.Scope
	ids   studio.IDGenerator
	now   func() time.Time
}

// Open opens (or creates) the database at path and migrates it.
func Open(path string, scope archive.Scope, ids studio.IDGenerator) (*Store, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; callers queue in database/sql instead of
	// hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db, scope: scope, ids: ids, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS archived_projects (
			id         TEXT PRIMARY KEY,
			app_id     TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			book_name  TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_archived_projects_scope
			ON archived_projects(app_id, user_id, created_at);
	`)
	return err
}

// List returns the scope's projects newest first.
func (s *Store) List(ctx context.Context) ([]studio.ArchivedProject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_name, created_at FROM archived_projects
		WHERE app_id = ? AND user_id = ?
		ORDER BY created_at DESC, id DESC`, s.scope.AppID, s.scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []studio.ArchivedProject
	for rows.Next() {
		var (
			p     studio.ArchivedProject
			nanos int64
		)
		if err := rows.Scan(&p.ID, &p.BookName, &nanos); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		p.CreatedAt = time.Unix(0, nanos).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive: %w", err)
	}
	return out, nil
}

// Append inserts bookName with a new id and the current time.
func (s *Store) Append(ctx context.Context, bookName string) (studio.ArchivedProject, error) {
	if strings.TrimSpace(bookName) == "" {
		return studio.ArchivedProject{}, errors.New("book name is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return studio.ArchivedProject{}, fmt.Errorf("new archive id: %w", err)
	}
	p := studio.ArchivedProject{ID: id, BookName: bookName, CreatedAt: s.now().UTC()}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO archived_projects (id, app_id, user_id, book_name, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, s.scope.AppID, s.scope.UserID, p.BookName, p.CreatedAt.UnixNano())
	if err != nil {
		return studio.ArchivedProject{}, fmt.Errorf("insert archive row: %w", err)
	}
	return p, nil
}

// Delete removes one of the scope's projects.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM archived_projects WHERE id = ? AND app_id = ? AND user_id = ?`,
		id, s.scope.AppID, s.scope.UserID)
	if err != nil {
		return fmt.Errorf("delete archive row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete archive row: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("archived project %s: %w", id, studio.ErrNotFound)
	}
	return nil
}
