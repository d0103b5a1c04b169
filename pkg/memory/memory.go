// Package memory stores scoped conversational memory. Memory is partitioned
// by scope (user, team, org): a user scope maps to the raw id, team and org
// scopes prefix the id so entries never collide across scopes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ScopeKind is the partition granularity.
type ScopeKind string

const (
	ScopeUser ScopeKind = "user"
	ScopeTeam ScopeKind = "team"
	ScopeOrg  ScopeKind = "org"
)

// ParseScopeKind validates a wire scope value.
func ParseScopeKind(s string) (ScopeKind, error) {
	switch ScopeKind(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeUser:
		return ScopeUser, nil
	case ScopeTeam:
		return ScopeTeam, nil
	case ScopeOrg:
		return ScopeOrg, nil
	default:
		return "", fmt.Errorf("unknown memory scope %q", s)
	}
}

// Scope identifies one memory partition.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// Key maps the scope to its storage key: the raw id for users, "team-{id}"
// for teams, "org-{id}" for orgs.
func (s Scope) Key() string {
	switch s.Kind {
	case ScopeTeam:
		return "team-" + s.ID
	case ScopeOrg:
		return "org-" + s.ID
	default:
		return s.ID
	}
}

// Message is one side of a remembered exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entry is a stored memory record.
type Entry struct {
	ID        string            `json:"id"`
	Messages  []Message         `json:"messages"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store is the scoped memory collaborator.
type Store interface {
	Add(ctx context.Context, scope Scope, messages []Message, metadata map[string]string) error
	GetAll(ctx context.Context, scope Scope) ([]Entry, error)
	Search(ctx context.Context, scope Scope, query string) ([]Entry, error)
}

// InMemoryStore is a map-backed Store for tests and standalone runs.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
	now     func() time.Time
}

// NewInMemoryStore builds an empty in-process store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string][]Entry),
		now:     time.Now,
	}
}

// Add appends one entry to the scope's partition.
func (s *InMemoryStore) Add(_ context.Context, scope Scope, messages []Message, metadata map[string]string) error {
	if len(messages) == 0 {
		return fmt.Errorf("no messages to remember")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scope.Key()
	s.entries[key] = append(s.entries[key], Entry{
		ID:        uuid.NewString(),
		Messages:  append([]Message(nil), messages...),
		Metadata:  metadata,
		CreatedAt: s.now(),
	})
	return nil
}

// GetAll returns the scope's entries, newest first.
func (s *InMemoryStore) GetAll(_ context.Context, scope Scope) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]Entry(nil), s.entries[scope.Key()]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Search returns entries whose messages contain the query, case-insensitive.
func (s *InMemoryStore) Search(_ context.Context, scope Scope, query string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	needle := strings.ToLower(strings.TrimSpace(query))
	var out []Entry
	for _, e := range s.entries[scope.Key()] {
		for _, m := range e.Messages {
			if strings.Contains(strings.ToLower(m.Content), needle) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}
