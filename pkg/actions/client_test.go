package actions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optiflow-ai/voice-core/pkg/workflow"
)

func TestClientExecute(t *testing.T) {
	var got executeRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/pipedream/execute", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"status": "ok", "id": "run_1"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	result, err := c.Execute(context.Background(), "send_email", "user-1", map[string]any{"to": "a@b.c"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "send_email", got.ActionType)
	assert.Equal(t, "user-1", got.UserIdentity)
	assert.Equal(t, "a@b.c", got.Parameters["to"])
	assert.Equal(t, "ok", result["status"])
}

func TestClientExecuteServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret")
	_, err := c.Execute(context.Background(), "send_email", "user-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream unavailable")
}

func TestClientExecuteRequiresIdentity(t *testing.T) {
	c := NewClient("http://localhost:0", "secret")
	_, err := c.Execute(context.Background(), "send_email", "", nil)
	require.Error(t, err)
}

func TestProxyRunnerRunsActionNodesOnce(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req executeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls = append(calls, req.ActionType)
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	runner := NewProxyRunner(NewClient(srv.URL, "secret"), "user-1", nil)
	g := workflow.Graph{Nodes: []workflow.Node{
		{ID: "n1", Type: "trigger", Name: "trigger"},
		{ID: "n2", Type: "email", Name: "notify", Config: map[string]string{"to": "a@b.c"}},
		{ID: "n3", Type: "slack", Name: "post"},
	}}

	require.NoError(t, runner.Run(context.Background(), g))
	assert.Equal(t, []string{"email", "slack"}, calls)
}

func TestProxyRunnerStopsOnFirstFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	runner := NewProxyRunner(NewClient(srv.URL, "secret"), "user-1", nil)
	g := workflow.Graph{Nodes: []workflow.Node{
		{ID: "n1", Type: "email", Name: "first"},
		{ID: "n2", Type: "slack", Name: "second"},
	}}

	err := runner.Run(context.Background(), g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"first"`)
	assert.Equal(t, 1, calls)
}
