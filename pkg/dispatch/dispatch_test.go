package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow-ai/voice-core/pkg/command"
	"github.com/optiflow-ai/voice-core/pkg/memory"
	"github.com/optiflow-ai/voice-core/pkg/protocol"
	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

type fakeExecutor struct {
	err   error
	next  workflow.Snapshot
	calls int
}

func (f *fakeExecutor) Apply(_ context.Context, _ command.Command, _ workflow.Snapshot) (workflow.Snapshot, error) {
	f.calls++
	if f.err != nil {
		return workflow.Snapshot{}, f.err
	}
	return f.next, nil
}

func testSession(t *testing.T) SessionContext {
	t.Helper()
	return SessionContext{
		SessionID:     "sess-1",
		RoomID:        "room-1",
		ParticipantID: "user-1",
		Transcript:    "create a trigger node",
		Scope:         memory.Scope{Kind: memory.ScopeUser, ID: "user-1"},
		Ledger:        workflow.NewLedger(0),
	}
}

func TestDispatchSuccessPushesSnapshot(t *testing.T) {
	next := workflow.NewSnapshot(workflow.Graph{Nodes: []workflow.Node{{ID: "n1", Type: "trigger", Name: "trigger"}}}, time.Now())
	exec := &fakeExecutor{next: next}
	d := New(exec, nil, nil)
	sess := testSession(t)

	env := d.Dispatch(context.Background(), sess, command.Command{Kind: command.KindCreateNode, NodeType: "trigger"})

	require.Equal(t, protocol.TypeAgentResponse, env.Type)
	payload, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, "Created a trigger node.", payload.(protocol.AgentResponseData).Text)
	assert.Len(t, sess.Ledger.Current().Graph.Nodes, 1)
	assert.True(t, sess.Ledger.CanUndo())
}

func TestDispatchExecutorFailureLeavesLedgerUntouched(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("no node named \"x\"")}
	d := New(exec, nil, nil)
	sess := testSession(t)

	env := d.Dispatch(context.Background(), sess, command.Command{Kind: command.KindDeleteNode, NodeName: "x"})

	require.Equal(t, protocol.TypeError, env.Type)
	payload, err := env.Payload()
	require.NoError(t, err)
	assert.Equal(t, CodeExecutorFailure, payload.(protocol.ErrorData).Code)
	assert.Equal(t, 1, sess.Ledger.Len())
	assert.False(t, sess.Ledger.CanUndo())
}

func TestDispatchRunWorkflowDoesNotPush(t *testing.T) {
	exec := &fakeExecutor{}
	d := New(exec, nil, nil)
	sess := testSession(t)

	env := d.Dispatch(context.Background(), sess, command.Command{Kind: command.KindRunWorkflow})

	require.Equal(t, protocol.TypeAgentResponse, env.Type)
	assert.False(t, sess.Ledger.CanUndo())
}

func TestDispatchRecordsExchangeInMemory(t *testing.T) {
	store := memory.NewInMemoryStore()
	d := New(&fakeExecutor{}, store, nil)
	sess := testSession(t)

	d.Dispatch(context.Background(), sess, command.Command{Kind: command.KindCreateNode, NodeType: "trigger"})

	require.Eventually(t, func() bool {
		entries, err := store.GetAll(context.Background(), sess.Scope)
		return err == nil && len(entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	entries, err := store.GetAll(context.Background(), sess.Scope)
	require.NoError(t, err)
	require.Len(t, entries[0].Messages, 2)
	assert.Equal(t, "create a trigger node", entries[0].Messages[0].Content)
	assert.Equal(t, "Created a trigger node.", entries[0].Messages[1].Content)
	assert.Equal(t, "sess-1", entries[0].Metadata["session_id"])
}

func TestDispatchMemoryFailureDoesNotAffectReply(t *testing.T) {
	d := New(&fakeExecutor{}, failingStore{}, nil)
	sess := testSession(t)

	env := d.Dispatch(context.Background(), sess, command.Command{Kind: command.KindCreateNode, NodeType: "email"})
	assert.Equal(t, protocol.TypeAgentResponse, env.Type)
}

type failingStore struct{}

func (failingStore) Add(context.Context, memory.Scope, []memory.Message, map[string]string) error {
	return errors.New("backend down")
}

func (failingStore) GetAll(context.Context, memory.Scope) ([]memory.Entry, error) {
	return nil, errors.New("backend down")
}

func (failingStore) Search(context.Context, memory.Scope, string) ([]memory.Entry, error) {
	return nil, errors.New("backend down")
}
