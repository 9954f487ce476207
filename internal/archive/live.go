package archive

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// Live wraps an ArchiveStore and pushes the ordered list to subscribers
// whenever it changes, whether through this process or, when Poll runs,
// through another writer.
type Live struct {
	store  studio.ArchiveStore
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[int]chan []studio.ArchivedProject
	nextID int
	last   []studio.ArchivedProject
	loaded bool
}

// NewLive wraps store.
func NewLive(store studio.ArchiveStore, logger *zap.Logger) *Live {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Live{store: store, logger: logger, subs: make(map[int]chan []studio.ArchivedProject)}
}

// List implements studio.ArchiveStore and refreshes subscribers if the list
// changed since the last observation.
func (l *Live) List(ctx context.Context) ([]studio.ArchivedProject, error) {
	projects, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	l.observe(projects)
	return clone(projects), nil
}

// Append implements studio.ArchiveStore.
func (l *Live) Append(ctx context.Context, bookName string) (studio.ArchivedProject, error) {
	p, err := l.store.Append(ctx, bookName)
	if err != nil {
		return studio.ArchivedProject{}, err
	}
	l.refresh(ctx)
	return p, nil
}

// Delete implements studio.ArchiveStore.
func (l *Live) Delete(ctx context.Context, id string) error {
	if err := l.store.Delete(ctx, id); err != nil {
		return err
	}
	l.refresh(ctx)
	return nil
}

// Subscribe returns a channel that first yields the current list and then
// every later change. Slow readers only see the most recent list. The channel
// closes when ctx ends.
func (l *Live) Subscribe(ctx context.Context) <-chan []studio.ArchivedProject {
	ch := make(chan []studio.ArchivedProject, 1)

	l.mu.Lock()
	loaded := l.loaded
	l.mu.Unlock()
	if !loaded {
		l.refresh(ctx)
	}

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	if l.loaded {
		ch <- clone(l.last)
	}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		close(ch)
		l.mu.Unlock()
	}()
	return ch
}

// Poll re-reads the store every interval until ctx ends.
func (l *Live) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.refresh(ctx)
		}
	}
}

// Count is the number of projects last observed.
func (l *Live) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.last)
}

func (l *Live) refresh(ctx context.Context) {
	projects, err := l.store.List(ctx)
	if err != nil {
		l.logger.Warn("archive refresh failed", zap.Error(err))
		return
	}
	l.observe(projects)
}

func (l *Live) observe(projects []studio.ArchivedProject) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded && sameProjects(l.last, projects) {
		return
	}
	l.last = clone(projects)
	l.loaded = true
	for _, ch := range l.subs {
		sendLatest(ch, clone(projects))
	}
}

func sendLatest(ch chan []studio.ArchivedProject, v []studio.ArchivedProject) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func sameProjects(a, b []studio.ArchivedProject) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].BookName != b[i].BookName || !a[i].CreatedAt.Equal(b[i].CreatedAt) {
			return false
		}
	}
	return true
}

func clone(in []studio.ArchivedProject) []studio.ArchivedProject {
	out := make([]studio.ArchivedProject, len(in))
	copy(out, in)
	return out
}

var _ studio.ArchiveStore = (*Live)(nil)
