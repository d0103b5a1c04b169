package command

import (
	"regexp"
	"strings"
)

// Rule pairs a pattern with a builder. The builder receives the capture
// groups (excluding the full match) and may refuse them by returning false,
// in which case matching continues with later rules.
type Rule struct {
	Pattern *regexp.Regexp
	Build   func(groups []string) (Command, bool)
}

// Grammar evaluates an ordered rule list, first match wins. A Grammar holds
// no mutable state after construction; multiple grammars (for example per
// locale) can coexist.
type Grammar struct {
	rules []Rule
}

// New builds a grammar from an ordered rule list.
func New(rules []Rule) *Grammar {
	return &Grammar{rules: rules}
}

// Default builds the grammar with the standard workflow rules.
func Default() *Grammar {
	return New(DefaultRules())
}

// Parse converts a transcript into a Command. The transcript is normalized
// (trimmed, lower-cased) before matching. Returns false when no rule
// matches or when every matching rule yields empty required captures.
// Parse is synchronous, deterministic, and performs no I/O.
func (g *Grammar) Parse(transcript string) (Command, bool) {
	norm := strings.ToLower(strings.TrimSpace(transcript))
	if norm == "" {
		return Command{}, false
	}
	for _, rule := range g.rules {
		m := rule.Pattern.FindStringSubmatch(norm)
		if m == nil {
			continue
		}
		groups := make([]string, len(m)-1)
		for i, g := range m[1:] {
			groups[i] = strings.TrimSpace(g)
		}
		if cmd, ok := rule.Build(groups); ok {
			return cmd, true
		}
	}
	return Command{}, false
}

// DefaultRules enumerates the workflow command rules in contract order:
// CreateNode, ConnectNodes, DeleteNode, RenameNode, ConfigureNode,
// SaveWorkflow, LoadWorkflow, RunWorkflow, StopWorkflow.
func DefaultRules() []Rule {
	return []Rule{
		{
			Pattern: regexp.MustCompile(`(?:create|add) (?:a )?(?:new )?(\w+)(?: node)?`),
			Build: func(groups []string) (Command, bool) {
				if groups[0] == "" {
					return Command{}, false
				}
				return Command{Kind: KindCreateNode, NodeType: groups[0]}, true
			},
		},
		{
			Pattern: regexp.MustCompile(`connect (\w+)(?: node)? to (\w+)(?: node)?`),
			Build: func(groups []string) (Command, bool) {
				if groups[0] == "" || groups[1] == "" {
					return Command{}, false
				}
				return Command{Kind: KindConnectNodes, SourceNode: groups[0], TargetNode: groups[1]}, true
			},
		},
		{
			Pattern: regexp.MustCompile(`(?:delete|remove) (?:the )?(\w+)(?: node)?`),
			Build: func(groups []string) (Command, bool) {
				if groups[0] == "" {
					return Command{}, false
				}
				return Command{Kind: KindDeleteNode, NodeName: groups[0]}, true
			},
		},
		{
			Pattern: regexp.MustCompile(`rename (?:the )?(\w+)(?: node)? to (\w+)`),
			Build: func(groups []string) (Command, bool) {
				if groups[0] == "" || groups[1] == "" {
					return Command{}, false
				}
				return Command{Kind: KindRenameNode, NodeName: groups[0], NewName: groups[1]}, true
			},
		},
		{
			Pattern: regexp.MustCompile(`configure (?:the )?(\w+)(?: node)?`),
			Build: func(groups []string) (Command, bool) {
				if groups[0] == "" {
					return Command{}, false
				}
				return Command{Kind: KindConfigureNode, NodeName: groups[0]}, true
			},
		},
		{
			// The workflow name is optional: "save the workflow" saves under
			// the current name.
			Pattern: regexp.MustCompile(`save (?:the )?workflow(?: as )?(\w+)?`),
			Build: func(groups []string) (Command, bool) {
				return Command{Kind: KindSaveWorkflow, WorkflowName: groups[0]}, true
			},
		},
		{
			Pattern: regexp.MustCompile(`load (?:the )?workflow (\w+)`),
			Build: func(groups []string) (Command, bool) {
				if groups[0] == "" {
					return Command{}, false
				}
				return Command{Kind: KindLoadWorkflow, WorkflowName: groups[0]}, true
			},
		},
		{
			Pattern: regexp.MustCompile(`run (?:the )?workflow`),
			Build: func([]string) (Command, bool) {
				return Command{Kind: KindRunWorkflow}, true
			},
		},
		{
			Pattern: regexp.MustCompile(`stop (?:the )?workflow`),
			Build: func([]string) (Command, bool) {
				return Command{Kind: KindStopWorkflow}, true
			},
		},
	}
}
