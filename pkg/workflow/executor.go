package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/optiflow-ai/voice-core/pkg/command"
)

// Executor applies a command to the current snapshot and returns the
// resulting snapshot. Implementations may be remote services; failures are
// surfaced to the caller, never retried here.
type Executor interface {
	Apply(ctx context.Context, cmd command.Command, current Snapshot) (Snapshot, error)
}

// Catalog persists named workflows for save/load commands.
type Catalog interface {
	SaveWorkflow(ctx context.Context, owner, name string, g Graph) error
	LoadWorkflow(ctx context.Context, owner, name string) (Graph, error)
}

// Runner executes a workflow's action nodes. Implementations carry no
// idempotency guarantee; each Run call is at-most-once from this side.
type Runner interface {
	Run(ctx context.Context, g Graph) error
	Stop(ctx context.Context) error
}

// NopRunner accepts every run and stop without side effects.
type NopRunner struct{}

func (NopRunner) Run(context.Context, Graph) error { return nil }
func (NopRunner) Stop(context.Context) error       { return nil }

// GraphExecutor is the in-process workflow engine: graph mutations are
// applied locally, save/load goes through the catalog, and run/stop is
// delegated to the runner.
type GraphExecutor struct {
	catalog Catalog
	runner  Runner
	owner   string
	now     func() time.Time
}

// NewGraphExecutor builds an executor for one owner's workflows. A nil
// runner disables run/stop side effects.
func NewGraphExecutor(catalog Catalog, runner Runner, owner string) *GraphExecutor {
	if runner == nil {
		runner = NopRunner{}
	}
	return &GraphExecutor{catalog: catalog, runner: runner, owner: owner, now: time.Now}
}

// Apply executes cmd against current and returns the next snapshot. For
// non-mutating kinds the returned snapshot equals the input.
func (e *GraphExecutor) Apply(ctx context.Context, cmd command.Command, current Snapshot) (Snapshot, error) {
	g := current.Graph.Clone()

	switch cmd.Kind {
	case command.KindCreateNode:
		g.Nodes = append(g.Nodes, Node{
			ID:   "node_" + strings.ToLower(ulid.Make().String()),
			Type: cmd.NodeType,
			Name: cmd.NodeType,
		})
	case command.KindConnectNodes:
		src := g.FindNode(cmd.SourceNode)
		dst := g.FindNode(cmd.TargetNode)
		if src < 0 {
			return Snapshot{}, fmt.Errorf("no node named %q", cmd.SourceNode)
		}
		if dst < 0 {
			return Snapshot{}, fmt.Errorf("no node named %q", cmd.TargetNode)
		}
		g.Edges = append(g.Edges, Edge{Source: g.Nodes[src].ID, Target: g.Nodes[dst].ID})
	case command.KindDeleteNode:
		idx := g.FindNode(cmd.NodeName)
		if idx < 0 {
			return Snapshot{}, fmt.Errorf("no node named %q", cmd.NodeName)
		}
		removed := g.Nodes[idx].ID
		g.Nodes = append(g.Nodes[:idx], g.Nodes[idx+1:]...)
		kept := g.Edges[:0]
		for _, edge := range g.Edges {
			if edge.Source != removed && edge.Target != removed {
				kept = append(kept, edge)
			}
		}
		g.Edges = kept
	case command.KindRenameNode:
		idx := g.FindNode(cmd.NodeName)
		if idx < 0 {
			return Snapshot{}, fmt.Errorf("no node named %q", cmd.NodeName)
		}
		g.Nodes[idx].Name = cmd.NewName
	case command.KindConfigureNode:
		idx := g.FindNode(cmd.NodeName)
		if idx < 0 {
			return Snapshot{}, fmt.Errorf("no node named %q", cmd.NodeName)
		}
		if g.Nodes[idx].Config == nil {
			g.Nodes[idx].Config = make(map[string]string)
		}
		g.Nodes[idx].Config["configured_at"] = e.now().UTC().Format(time.RFC3339)
	case command.KindSaveWorkflow:
		if e.catalog == nil {
			return Snapshot{}, fmt.Errorf("no workflow catalog configured")
		}
		name := cmd.WorkflowName
		if name == "" {
			name = "default"
		}
		if err := e.catalog.SaveWorkflow(ctx, e.owner, name, g); err != nil {
			return Snapshot{}, fmt.Errorf("save workflow %q: %w", name, err)
		}
	case command.KindLoadWorkflow:
		if e.catalog == nil {
			return Snapshot{}, fmt.Errorf("no workflow catalog configured")
		}
		loaded, err := e.catalog.LoadWorkflow(ctx, e.owner, cmd.WorkflowName)
		if err != nil {
			return Snapshot{}, fmt.Errorf("load workflow %q: %w", cmd.WorkflowName, err)
		}
		g = loaded
	case command.KindRunWorkflow:
		if err := e.runner.Run(ctx, g); err != nil {
			return Snapshot{}, fmt.Errorf("run workflow: %w", err)
		}
	case command.KindStopWorkflow:
		if err := e.runner.Stop(ctx); err != nil {
			return Snapshot{}, fmt.Errorf("stop workflow: %w", err)
		}
	default:
		return Snapshot{}, fmt.Errorf("unsupported command kind %q", cmd.Kind)
	}

	return NewSnapshot(g, e.now()), nil
}
