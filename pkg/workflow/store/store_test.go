package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "workflows.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_SaveAndLoadWorkflow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	g := workflow.Graph{
		Nodes: []workflow.Node{{ID: "n1", Type: "trigger", Name: "trigger"}},
		Edges: []workflow.Edge{},
	}
	require.NoError(t, s.SaveWorkflow(ctx, "user-1", "billing", g))

	loaded, err := s.LoadWorkflow(ctx, "user-1", "billing")
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, "trigger", loaded.Nodes[0].Type)
}

func TestStore_SaveOverwrites(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWorkflow(ctx, "user-1", "billing", workflow.Graph{}))
	require.NoError(t, s.SaveWorkflow(ctx, "user-1", "billing", workflow.Graph{
		Nodes: []workflow.Node{{ID: "n1", Type: "email", Name: "email"}},
	}))

	loaded, err := s.LoadWorkflow(ctx, "user-1", "billing")
	require.NoError(t, err)
	assert.Len(t, loaded.Nodes, 1)

	names, err := s.ListWorkflows(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"billing"}, names)
}

func TestStore_LoadMissingWorkflow(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.LoadWorkflow(context.Background(), "user-1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_WorkflowsAreOwnerScoped(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveWorkflow(ctx, "user-1", "billing", workflow.Graph{}))

	_, err := s.LoadWorkflow(ctx, "user-2", "billing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_SessionAudit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	opened := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	closed := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.RecordSessionAudit(ctx, SessionAudit{
		SessionID:     "sess-1",
		RoomID:        "room-1",
		ParticipantID: "user-1",
		Reason:        "idle_timeout",
		OpenedAt:      opened,
		ClosedAt:      closed,
	}))

	audits, err := s.SessionAuditsForRoom(ctx, "room-1")
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "sess-1", audits[0].SessionID)
	assert.Equal(t, "idle_timeout", audits[0].Reason)
	assert.Equal(t, "user-1", audits[0].ParticipantID)
}
