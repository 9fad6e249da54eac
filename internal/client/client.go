// Package client provides a Go SDK for talking to a kvring node. It hides
// HTTP details, JSON encoding, and per-call option plumbing behind a
// small Go API, the same shape as the prior implementation's client package but
// generalized from a single plain value per key to kvring's
// bucket-scoped, causally-versioned object model.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to ONE kvring node. That node coordinates replication and
// talks to the rest of the cluster; the client itself has no distributed
// logic.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Client. timeout defaults to 10s; in a distributed
// system you never call the network without one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PutOptions configures a write.
type PutOptions struct {
	Context   string // opaque context returned by a prior Get, for a causal overwrite
	WriteAcks int    // W for this call; 0 means the server default
	NoReply   bool   // fire-and-forget
}

// GetOptions configures a read.
type GetOptions struct {
	ReadAcks     int // R for this call; 0 means the server default
	NoReadRepair bool
}

// PutResponse is returned after a successful write.
type PutResponse struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// GetResponse carries every surviving value plus the opaque context the
// caller echoes back on its next Put to express causal ancestry. Multiple
// Values means an unresolved sibling conflict the caller must reconcile.
type GetResponse struct {
	Bucket  string   `json:"bucket"`
	Key     string   `json:"key"`
	Values  []string `json:"values"`
	Context string   `json:"context"`
}

// Put stores value under bucket/key.
func (c *Client) Put(ctx context.Context, bucket, key, value string, opts PutOptions) (*PutResponse, error) {
	body, _ := json.Marshal(map[string]any{
		"value":      value,
		"context":    opts.Context,
		"write_acks": opts.WriteAcks,
		"no_reply":   opts.NoReply,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.kvURL(bucket, key), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PUT request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result PutResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Get retrieves the value(s) for bucket/key. Returns ErrNotFound if the
// quorum agrees the key has no live value.
func (c *Client) Get(ctx context.Context, bucket, key string, opts GetOptions) (*GetResponse, error) {
	u := c.kvURL(bucket, key)
	q := url.Values{}
	if opts.ReadAcks > 0 {
		q.Set("read_acks", fmt.Sprint(opts.ReadAcks))
	}
	if opts.NoReadRepair {
		q.Set("read_repair", "false")
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	var result GetResponse
	return &result, json.NewDecoder(resp.Body).Decode(&result)
}

// Delete removes bucket/key. The server writes a tombstone and
// replicates it the same way as any other write; the client doesn't care.
func (c *Client) Delete(ctx context.Context, bucket, key string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.kvURL(bucket, key), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE request failed: %w", err)
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// JoinCluster registers a node into the cluster, triggering a ring
// snapshot rebuild on the target.
func (c *Client) JoinCluster(ctx context.Context, nodeID, address string) error {
	body, _ := json.Marshal(map[string]string{"id": nodeID, "address": address})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cluster/join", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

// LeaveCluster removes a node from the cluster.
func (c *Client) LeaveCluster(ctx context.Context, nodeID string) error {
	body, _ := json.Marshal(map[string]string{"id": nodeID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/cluster/leave", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) kvURL(bucket, key string) string {
	return fmt.Sprintf("%s/kv/%s/%s", c.baseURL, url.PathEscape(bucket), url.PathEscape(key))
}

// contextFromBase64 is a convenience for callers that stored a
// GetResponse.Context verbatim and want to confirm it decodes before
// echoing it back; the server treats any string it cannot base64-decode
// as a bad request.
func contextFromBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// ─── Errors ───────────────────────────────────────────────────────────────────

// ErrNotFound is returned when a key has no live value in the cluster.
var ErrNotFound = fmt.Errorf("key not found")

// APIError carries the HTTP status and the error message from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// checkStatus converts HTTP error responses into Go errors.
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
