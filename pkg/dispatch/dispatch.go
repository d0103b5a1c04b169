// Package dispatch routes parsed commands to their executors and translates
// the outcome into a single wire envelope. A dispatch never panics across
// the session boundary and never terminates a session; failures come back as
// error envelopes with stable codes.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/optiflow-ai/voice-core/pkg/command"
	"github.com/optiflow-ai/voice-core/pkg/memory"
	"github.com/optiflow-ai/voice-core/pkg/protocol"
	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

// Error codes carried by error envelopes.
const (
	CodeExecutorFailure = "ExecutorFailure"
	CodeNoCommandMatch  = "NoCommandMatch"
)

const memoryWriteTimeout = 10 * time.Second

// SessionContext carries the dispatching session's identity and owned state.
type SessionContext struct {
	SessionID     string
	RoomID        string
	ParticipantID string
	Transcript    string
	Scope         memory.Scope
	Ledger        *workflow.Ledger
}

// Dispatcher executes commands against the workflow executor and records the
// exchange in scoped memory. It is shared by all sessions; per-session state
// arrives through SessionContext.
type Dispatcher struct {
	executor workflow.Executor
	memory   memory.Store
	logger   *slog.Logger
}

// New builds a dispatcher. memory may be nil to disable recall.
func New(executor workflow.Executor, mem memory.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		executor: executor,
		memory:   mem,
		logger:   logger.With("component", "dispatch"),
	}
}

// Dispatch applies cmd to the session's current snapshot. On success the
// resulting snapshot is pushed onto the session's ledger (for snapshot-
// changing kinds) and a confirmation envelope is returned; on failure the
// ledger is untouched and an error envelope comes back.
func (d *Dispatcher) Dispatch(ctx context.Context, sess SessionContext, cmd command.Command) protocol.Envelope {
	next, err := d.executor.Apply(ctx, cmd, sess.Ledger.Current())
	if err != nil {
		d.logger.Warn("command failed",
			"session_id", sess.SessionID,
			"kind", cmd.Kind,
			"error", err)
		return protocol.NewError(CodeExecutorFailure, err.Error())
	}

	if cmd.MutatesGraph() || cmd.Kind == command.KindLoadWorkflow {
		sess.Ledger.Push(next)
	}

	reply := Confirmation(cmd)
	d.remember(sess, cmd, reply)
	return protocol.NewAgentResponse(reply, true)
}

// Confirmation phrases the spoken acknowledgement for a successful command.
func Confirmation(cmd command.Command) string {
	switch cmd.Kind {
	case command.KindCreateNode:
		return fmt.Sprintf("Created a %s node.", cmd.NodeType)
	case command.KindConnectNodes:
		return fmt.Sprintf("Connected %s to %s.", cmd.SourceNode, cmd.TargetNode)
	case command.KindDeleteNode:
		return fmt.Sprintf("Deleted the %s node.", cmd.NodeName)
	case command.KindRenameNode:
		return fmt.Sprintf("Renamed %s to %s.", cmd.NodeName, cmd.NewName)
	case command.KindConfigureNode:
		return fmt.Sprintf("Configured the %s node.", cmd.NodeName)
	case command.KindSaveWorkflow:
		name := cmd.WorkflowName
		if name == "" {
			name = "default"
		}
		return fmt.Sprintf("Saved the workflow as %s.", name)
	case command.KindLoadWorkflow:
		return fmt.Sprintf("Loaded the workflow %s.", cmd.WorkflowName)
	case command.KindRunWorkflow:
		return "Running the workflow."
	case command.KindStopWorkflow:
		return "Stopped the workflow."
	default:
		return "Done."
	}
}

// remember appends the user/agent exchange fire-and-forget; a failed write
// only logs.
func (d *Dispatcher) remember(sess SessionContext, cmd command.Command, reply string) {
	if d.memory == nil || sess.Scope.ID == "" {
		return
	}
	utterance := sess.Transcript
	if utterance == "" {
		utterance = string(cmd.Kind)
	}
	messages := []memory.Message{
		{Role: "user", Content: utterance},
		{Role: "assistant", Content: reply},
	}
	metadata := map[string]string{
		"session_id": sess.SessionID,
		"room_id":    sess.RoomID,
		"kind":       string(cmd.Kind),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), memoryWriteTimeout)
		defer cancel()
		if err := d.memory.Add(ctx, sess.Scope, messages, metadata); err != nil {
			d.logger.Warn("memory write failed",
				"session_id", sess.SessionID,
				"scope", sess.Scope.Key(),
				"error", err)
		}
	}()
}
