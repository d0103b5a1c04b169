// Package workflow holds the editable node/edge artifact, its snapshot
// history, and the executor that applies commands to it.
package workflow

import "time"

// Node is one step in a workflow graph.
type Node struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Name   string            `json:"name"`
	Config map[string]string `json:"config,omitempty"`
}

// Edge connects two nodes by id.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the editable artifact. Values are copied on snapshot; callers
// never share backing slices across snapshots.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone deep-copies the graph.
func (g Graph) Clone() Graph {
	out := Graph{}
	if len(g.Nodes) > 0 {
		out.Nodes = make([]Node, len(g.Nodes))
		for i, n := range g.Nodes {
			copied := n
			if n.Config != nil {
				copied.Config = make(map[string]string, len(n.Config))
				for k, v := range n.Config {
					copied.Config[k] = v
				}
			}
			out.Nodes[i] = copied
		}
	}
	if len(g.Edges) > 0 {
		out.Edges = make([]Edge, len(g.Edges))
		copy(out.Edges, g.Edges)
	}
	return out
}

// FindNode returns the index of the node whose name or id matches, or -1.
func (g Graph) FindNode(name string) int {
	for i, n := range g.Nodes {
		if n.Name == name || n.ID == name {
			return i
		}
	}
	return -1
}

// Snapshot is one immutable state of the artifact.
type Snapshot struct {
	Graph     Graph     `json:"graph"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSnapshot captures the graph at the given time.
func NewSnapshot(g Graph, at time.Time) Snapshot {
	return Snapshot{Graph: g.Clone(), Timestamp: at}
}
