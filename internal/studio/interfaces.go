package studio

import (
	"context"
	"io"
	"time"
)

// ArchiveStore is the source of truth for completed subjects. List returns
// projects ordered by CreatedAt, newest first; Append assigns ID and CreatedAt.
type ArchiveStore interface {
	List(ctx context.Context) ([]ArchivedProject, error)
	Append(ctx context.Context, bookName string) (ArchivedProject, error)
	Delete(ctx context.Context, id string) error
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// BlobReader reads back previously written artifacts.
type BlobReader interface {
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher announces run outcomes to Pub/Sub (or similar) under an event name.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time and performs cancellable waits.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run and record IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// KeySource yields the generative API credential.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}
