package workflow

import (
	"sync"
	"time"
)

// DefaultHistoryCapacity bounds the ledger when no capacity is configured.
const DefaultHistoryCapacity = 50

// Ledger is a bounded undo/redo stack of snapshots with a single cursor.
// Pushing while the cursor sits before the end discards the redo branch;
// pushing at capacity evicts the oldest snapshot and shifts the cursor down
// to preserve relative position.
//
// A ledger is owned by exactly one session and never shared across sessions.
// Methods are synchronized because dispatch completions land off the
// session's event loop.
type Ledger struct {
	mu       sync.Mutex
	entries  []Snapshot
	cursor   int
	capacity int
}

// NewLedger builds a ledger seeded with a single empty snapshot.
func NewLedger(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &Ledger{
		entries:  []Snapshot{{Timestamp: time.Now()}},
		capacity: capacity,
	}
}

// Push appends a snapshot, truncating any redo branch and evicting the
// oldest entry when over capacity.
func (l *Ledger) Push(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries[:l.cursor+1], s)
	l.cursor = len(l.entries) - 1
	if len(l.entries) > l.capacity {
		l.entries = l.entries[1:]
		l.cursor--
	}
}

// Undo moves the cursor back one snapshot. Reports false when there is
// nothing to undo.
func (l *Ledger) Undo() (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cursor == 0 {
		return l.entries[l.cursor], false
	}
	l.cursor--
	return l.entries[l.cursor], true
}

// Redo moves the cursor forward one snapshot. Reports false when there is
// nothing to redo.
func (l *Ledger) Redo() (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cursor >= len(l.entries)-1 {
		return l.entries[l.cursor], false
	}
	l.cursor++
	return l.entries[l.cursor], true
}

// Current returns the snapshot at the cursor.
func (l *Ledger) Current() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[l.cursor]
}

// Clear resets the ledger to a single empty snapshot.
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = []Snapshot{{Timestamp: time.Now()}}
	l.cursor = 0
}

// CanUndo reports whether the cursor can move back.
func (l *Ledger) CanUndo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor > 0
}

// CanRedo reports whether the cursor can move forward.
func (l *Ledger) CanRedo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cursor < len(l.entries)-1
}

// Len returns the number of retained snapshots.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
