// Package client is a small Go SDK for the coordinator cluster's
// diagnostics HTTP surface (internal/httpapi): health, ring membership,
// and the current leader/term. It never touches the domain TCP
// protocol — that one is a raw-socket participant protocol with no
// natural request/response CLI shape, so operators reach it through
// the client/restaurant/delivery agent implementations instead.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to one coordinator node's diagnostics port.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. baseURL example: "http://localhost:9080".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status string `json:"status"`
}

// ClusterNodesResponse is returned by GET /cluster/nodes.
type ClusterNodesResponse struct {
	Nodes []string `json:"nodes"`
}

// ClusterLeaderResponse is returned by GET /cluster/leader.
type ClusterLeaderResponse struct {
	Leader *string `json:"leader"`
}

// ClusterTermResponse is returned by GET /cluster/term.
type ClusterTermResponse struct {
	Term uint64 `json:"term"`
}

// Healthz calls GET /healthz.
func (c *Client) Healthz(ctx context.Context) (*HealthzResponse, error) {
	var out HealthzResponse
	if err := c.getJSON(ctx, "/healthz", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClusterNodes calls GET /cluster/nodes.
func (c *Client) ClusterNodes(ctx context.Context) (*ClusterNodesResponse, error) {
	var out ClusterNodesResponse
	if err := c.getJSON(ctx, "/cluster/nodes", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClusterLeader calls GET /cluster/leader.
func (c *Client) ClusterLeader(ctx context.Context) (*ClusterLeaderResponse, error) {
	var out ClusterLeaderResponse
	if err := c.getJSON(ctx, "/cluster/leader", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClusterTerm calls GET /cluster/term.
func (c *Client) ClusterTerm(ctx context.Context) (*ClusterTermResponse, error) {
	var out ClusterTermResponse
	if err := c.getJSON(ctx, "/cluster/term", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error
	if msg == "" {
		msg = string(body)
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
