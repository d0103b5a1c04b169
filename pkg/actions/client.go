// Package actions calls the action-proxy backend that executes external
// side-effecting integrations (email sends, chat posts, task creation).
// Every call is at-most-once from this side; retry policy belongs to the
// caller.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Client talks to the proxy's execute endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a proxy client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewClientWithHTTP builds a proxy client with a custom HTTP client.
func NewClientWithHTTP(baseURL, apiKey string, httpClient *http.Client) *Client {
	c := NewClient(baseURL, apiKey)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

type executeRequest struct {
	ActionType   string         `json:"action_type"`
	Parameters   map[string]any `json:"parameters"`
	UserIdentity string         `json:"user_identity"`
}

// Execute runs one named action on behalf of a user and returns the proxy's
// decoded result.
func (c *Client) Execute(ctx context.Context, action, userID string, params map[string]any) (map[string]any, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("action proxy is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("user identity is required for action %q", action)
	}

	body, err := json.Marshal(executeRequest{
		ActionType:   action,
		Parameters:   params,
		UserIdentity: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding action request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pipedream/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating action request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling action proxy: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("action proxy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding action result: %w", err)
	}
	return result, nil
}
