// Package sessions tracks the gateway's live sessions for graceful
// shutdown: close them all, then wait for their loops to finish.
package sessions

import (
	"context"
	"sync"
)

// Handle is the tracker's view of one session.
type Handle interface {
	Close(reason string) error
	Done() <-chan struct{}
}

// Tracker registers active sessions. All methods are safe for concurrent
// use; a nil tracker is a no-op.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*tracked
	wg       sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

// NewTracker builds an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*tracked)}
}

// Register adds a session and returns its unregister function. Registering
// the same id again replaces (and unregisters) the previous entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	entry := &tracked{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*tracked)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}
	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *tracked) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

// Count returns the number of registered sessions.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CloseAll closes every registered session with the given reason.
func (t *Tracker) CloseAll(reason string) (closed int) {
	if t == nil {
		return 0
	}
	var handles []Handle
	t.mu.Lock()
	for _, entry := range t.sessions {
		handles = append(handles, entry.handle)
	}
	t.mu.Unlock()

	for _, h := range handles {
		_ = h.Close(reason)
		closed++
	}
	return closed
}

// Wait blocks until every registered session has unregistered or the
// context expires. Reports whether the drain completed.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
