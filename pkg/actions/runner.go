package actions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

// ProxyRunner runs a workflow's action nodes through the action proxy.
// Nodes are executed in graph order, each exactly once per Run call; the
// first failure aborts the run and is returned to the caller.
type ProxyRunner struct {
	client *Client
	userID string
	logger *slog.Logger
}

// NewProxyRunner builds a runner executing on behalf of userID.
func NewProxyRunner(client *Client, userID string, logger *slog.Logger) *ProxyRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyRunner{
		client: client,
		userID: userID,
		logger: logger.With("component", "action_runner"),
	}
}

// Run executes every action node in g. Trigger nodes are entry markers and
// are skipped.
func (r *ProxyRunner) Run(ctx context.Context, g workflow.Graph) error {
	for _, node := range g.Nodes {
		if node.Type == "trigger" {
			continue
		}
		params := make(map[string]any, len(node.Config)+1)
		for k, v := range node.Config {
			params[k] = v
		}
		params["node_name"] = node.Name

		result, err := r.client.Execute(ctx, node.Type, r.userID, params)
		if err != nil {
			return fmt.Errorf("executing node %q: %w", node.Name, err)
		}
		r.logger.Debug("action executed", "node", node.Name, "type", node.Type, "result_keys", len(result))
	}
	return nil
}

// Stop is a no-op for the proxy backend; runs are synchronous and there is
// nothing to cancel once Run returns.
func (r *ProxyRunner) Stop(context.Context) error { return nil }
