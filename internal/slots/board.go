// Package slots tracks the fixed production slots of a run and the status of
// the subject each one holds. It makes no decisions; it only records
// transitions so observers can follow progress.
package slots

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-booklist/internal/studio"
)

// CanTransition reports whether a slot may move from one status to another.
func CanTransition(from, to studio.TargetStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == studio.StatusFailed {
		return true
	}
	switch from {
	case studio.StatusWaiting:
		return to == studio.StatusLoading
	case studio.StatusLoading:
		return to == studio.StatusGenerating
	case studio.StatusGenerating:
		return to == studio.StatusRendering
	case studio.StatusRendering:
		return to == studio.StatusDone
	}
	return false
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	Slot     int
	From, To studio.TargetStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("slot %d: cannot move from %s to %s", e.Slot, e.From, e.To)
}

// Board holds studio.MaxTargets slots. It is safe for concurrent use; notify
// runs after every change with a copy of the slots, outside the lock.
type Board struct {
	mu     sync.Mutex
	slots  [studio.MaxTargets]studio.Target
	notify func([]studio.Target)
}

// NewBoard returns a board with every slot waiting.
func NewBoard(notify func([]studio.Target)) *Board {
	b := &Board{notify: notify}
	b.resetLocked()
	return b
}

// Assign places name in slot i and marks it loading.
func (b *Board) Assign(i int, name string) error {
	return b.apply(i, func(t *studio.Target) error {
		if !CanTransition(t.Status, studio.StatusLoading) {
			return &TransitionError{Slot: i, From: t.Status, To: studio.StatusLoading}
		}
		t.Name = name
		t.Status = studio.StatusLoading
		return nil
	})
}

// Advance moves slot i to status.
func (b *Board) Advance(i int, status studio.TargetStatus) error {
	return b.apply(i, func(t *studio.Target) error {
		if !CanTransition(t.Status, status) {
			return &TransitionError{Slot: i, From: t.Status, To: status}
		}
		t.Status = status
		return nil
	})
}

// FailActive marks every assigned, non-terminal slot failed.
func (b *Board) FailActive() {
	b.mu.Lock()
	changed := false
	for i := range b.slots {
		t := &b.slots[i]
		if t.Name != "" && !t.Status.Terminal() {
			t.Status = studio.StatusFailed
			changed = true
		}
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()
	if changed {
		b.emit(snap)
	}
}

// Reset returns every slot to an empty waiting state.
func (b *Board) Reset() {
	b.mu.Lock()
	b.resetLocked()
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.emit(snap)
}

// Snapshot copies the current slots.
func (b *Board) Snapshot() []studio.Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Active counts slots whose status equals status.
func (b *Board) Active(status studio.TargetStatus) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, t := range b.slots {
		if t.Status == status {
			n++
		}
	}
	return n
}

func (b *Board) apply(i int, fn func(*studio.Target) error) error {
	if i < 0 || i >= len(b.slots) {
		return fmt.Errorf("slot %d out of range [0,%d)", i, len(b.slots))
	}
	b.mu.Lock()
	if err := fn(&b.slots[i]); err != nil {
		b.mu.Unlock()
		return err
	}
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.emit(snap)
	return nil
}

func (b *Board) resetLocked() {
	for i := range b.slots {
		b.slots[i] = studio.Target{Status: studio.StatusWaiting}
	}
}

func (b *Board) snapshotLocked() []studio.Target {
	out := make([]studio.Target, len(b.slots))
	copy(out, b.slots[:])
	return out
}

func (b *Board) emit(snap []studio.Target) {
	if b.notify != nil {
		b.notify(snap)
	}
}
