// Package command turns normalized transcripts into typed workflow commands.
package command

// Kind identifies a command. The enumeration order matches the grammar's
// rule order; rules can overlap, so order is part of the parsing contract.
type Kind string

const (
	KindCreateNode    Kind = "create_node"
	KindConnectNodes  Kind = "connect_nodes"
	KindDeleteNode    Kind = "delete_node"
	KindRenameNode    Kind = "rename_node"
	KindConfigureNode Kind = "configure_node"
	KindSaveWorkflow  Kind = "save_workflow"
	KindLoadWorkflow  Kind = "load_workflow"
	KindRunWorkflow   Kind = "run_workflow"
	KindStopWorkflow  Kind = "stop_workflow"
)

// Command is an immutable, validated user intent. Fields required by a
// command's Kind are always non-empty; the grammar reports no-match instead
// of constructing a partial command.
type Command struct {
	Kind Kind

	NodeType     string
	SourceNode   string
	TargetNode   string
	NodeName     string
	NewName      string
	WorkflowName string
}

// MutatesGraph reports whether the command edits the node/edge graph and so
// must push a history snapshot on success.
func (c Command) MutatesGraph() bool {
	switch c.Kind {
	case KindCreateNode, KindConnectNodes, KindDeleteNode, KindRenameNode, KindConfigureNode:
		return true
	}
	return false
}

// TriggersActions reports whether executing the command may reach external
// side-effecting services through the action proxy.
func (c Command) TriggersActions() bool {
	return c.Kind == KindRunWorkflow
}
