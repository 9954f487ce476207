package render

import (
	"context"
	"fmt"
	"sync"
)

// Lease guards the single render surface. Holders are served one at a time
// and waiters queue on a channel rather than spinning.
type Lease struct {
	ch chan struct{}
}

// NewLease returns an unheld lease.
func NewLease() *Lease {
	return &Lease{ch: make(chan struct{}, 1)}
}

// Acquire blocks until the lease is free or ctx ends. The returned release
// func is idempotent.
func (l *Lease) Acquire(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("render lease wait canceled: %w", ctx.Err())
	}
	var once sync.Once
	return func() {
		once.Do(func() { <-l.ch })
	}, nil
}

// Held reports whether someone currently holds the lease.
func (l *Lease) Held() bool {
	return len(l.ch) == 1
}
