// Package memory is an in-process archive for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-booklist/internal/archive"
	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Store keeps archived projects in a slice.
type Store struct {
	mu       sync.RWMutex
	projects []studio.ArchivedProject
	now      func() time.Time
	ids      studio.IDGenerator
}

// New builds an empty store. now defaults to time.Now.
func New(ids studio.IDGenerator, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{ids: ids, now: now}
}

// List returns projects newest first.
func (s *Store) List(_ context.Context) ([]studio.ArchivedProject, error) {
	s.mu.RLock()
	out := make([]studio.ArchivedProject, len(s.projects))
	copy(out, s.projects)
	s.mu.RUnlock()
	archive.SortNewestFirst(out)
	return out, nil
}

// Append records bookName with a fresh id and timestamp.
func (s *Store) Append(_ context.Context, bookName string) (studio.ArchivedProject, error) {
	if strings.TrimSpace(bookName) == "" {
		return studio.ArchivedProject{}, fmt.Errorf("book name is required")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return studio.ArchivedProject{}, fmt.Errorf("new archive id: %w", err)
	}
	p := studio.ArchivedProject{ID: id, BookName: bookName, CreatedAt: s.now().UTC()}
	s.mu.Lock()
	s.projects = append(s.projects, p)
	s.mu.Unlock()
	return p, nil
}

// Delete removes a project by id.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.projects {
		if p.ID == id {
			s.projects = append(s.projects[:i], s.projects[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("archived project %s: %w", id, studio.ErrNotFound)
}
