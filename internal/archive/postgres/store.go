// Package postgres persists the archive in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-booklist/internal/archive"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	Scope           archive.Scope
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store is a Postgres-backed studio.ArchiveStore. created_at is assigned by
// the database.
type Store struct {
	pool  pool
	table string
	scope archive.Scope
	ids   studio.IDGenerator
}

// New connects, migrates and returns a Store.
func New(ctx context.Context, cfg Config, ids studio.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("archive.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table, cfg.Scope, ids)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, scope archive.Scope, ids studio.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "archived_projects"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return &Store{pool: p, table: table, scope: scope, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the table and index when missing.
func (s *Store) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY,
	app_id     TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	book_name  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS %[1]s_scope_idx ON %[1]s (app_id, user_id, created_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// List returns the scope's projects newest first.
func (s *Store) List(ctx context.Context) ([]studio.ArchivedProject, error) {
	query := fmt.Sprintf(`
SELECT id, book_name, created_at FROM %s
WHERE app_id = $1 AND user_id = $2
ORDER BY created_at DESC, id DESC`, s.table)
	rows, err := s.pool.Query(ctx, query, s.scope.AppID, s.scope.UserID)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []studio.ArchivedProject
	for rows.Next() {
		var p studio.ArchivedProject
		if err := rows.Scan(&p.ID, &p.BookName, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		p.CreatedAt = p.CreatedAt.UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive: %w", err)
	}
	return out, nil
}

// Append inserts bookName and returns the row with its server timestamp.
func (s *Store) Append(ctx context.Context, bookName string) (studio.ArchivedProject, error) {
	if strings.TrimSpace(bookName) == "" {
		return studio.ArchivedProject{}, fmt.Errorf("book name is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return studio.ArchivedProject{}, fmt.Errorf("new archive id: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, app_id, user_id, book_name)
VALUES ($1, $2, $3, $4)
RETURNING created_at`, s.table)
	p := studio.ArchivedProject{ID: id, BookName: bookName}
	if err := s.pool.QueryRow(ctx, query, id, s.scope.AppID, s.scope.UserID, bookName).Scan(&p.CreatedAt); err != nil {
		return studio.ArchivedProject{}, fmt.Errorf("insert archive row: %w", err)
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

// Delete removes one of the scope's projects.
func (s *Store) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND app_id = $2 AND user_id = $3`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, s.scope.AppID, s.scope.UserID)
	if err != nil {
		return fmt.Errorf("delete archive row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("archived project %s: %w", id, studio.ErrNotFound)
	}
	return nil
}
