// Package sdk provides a Go client for talking to the coordinator's
// HTTP API — the Go equivalent of the original's requests-based
// coordinator client used by tests and tooling.
//
// Instead of writing raw HTTP requests everywhere, callers get a
// small, typed surface:
//
//	c := sdk.New("http://localhost:8000", 5*time.Second)
//	c.RegisterTable(ctx, sdk.TableDef{TableName: "users", PartitionKey: "pk"})
//	c.Put(ctx, "users", "u1", "profile", map[string]any{"name": "ada"})
//	c.Get(ctx, "users", "u1", "profile")
//
// It hides HTTP, JSON encoding, and error handling, the way the
// teacher's internal/client package does for its own single-node API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shardkv/internal/obs"
	"shardkv/internal/wire"
)

// Client talks to ONE coordinator. The coordinator is responsible for
// routing a request on to the right shard; this client never talks to
// a shard directly.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client. A zero timeout falls back to 10s, the same
// default the teacher's client uses — never call the network without
// one.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ErrNotFound is returned by Get when the coordinator reports a null
// value for the key.
var ErrNotFound = fmt.Errorf("record not found")

// TableDef describes a table's key schema, mirroring
// coordinator.TableDef's wire shape.
type TableDef struct {
	TableName    string `json:"table_name"`
	PartitionKey string `json:"partition_key"`
	SortKey      string `json:"sort_key,omitempty"`
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tid := obs.TraceID(ctx); tid != "" {
		req.Header.Set(obs.TraceHeader, tid)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// checkStatus converts a non-2xx coordinator response into an
// *obs.APIError, the uniform error body every coordinator/shard
// handler returns.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	var apiErr obs.APIError
	_ = json.Unmarshal(body, &apiErr)
	if apiErr.Detail == "" {
		apiErr.Detail = string(body)
	}
	apiErr.Status = resp.StatusCode
	return &apiErr
}

// RegisterTable registers or re-registers a table's key schema.
func (c *Client) RegisterTable(ctx context.Context, t TableDef) (TableDef, error) {
	var out TableDef
	err := c.do(ctx, http.MethodPost, "/tables", t, &out)
	return out, err
}

// GetTable fetches one table's definition.
func (c *Client) GetTable(ctx context.Context, tableName string) (TableDef, error) {
	var out TableDef
	err := c.do(ctx, http.MethodGet, "/tables/"+tableName, nil, &out)
	return out, err
}

// ListTables lists every registered table.
func (c *Client) ListTables(ctx context.Context) ([]TableDef, error) {
	var out []TableDef
	err := c.do(ctx, http.MethodGet, "/tables", nil, &out)
	return out, err
}

// Put writes value at (table, pk, sk). The coordinator routes it to
// the owning shard's leader.
func (c *Client) Put(ctx context.Context, table, pk, sk string, value any) (wire.RecordResponse, error) {
	v, err := wire.NewValue(value)
	if err != nil {
		return wire.RecordResponse{}, err
	}
	var out wire.RecordResponse
	err = c.do(ctx, http.MethodPost, "/records", wire.RecordRequest{TableName: table, PK: pk, SK: sk, Value: v}, &out)
	return out, err
}

// Get reads the record at (table, pk, sk). Returns ErrNotFound if the
// coordinator reports no live value.
func (c *Client) Get(ctx context.Context, table, pk, sk string) (wire.RecordResponse, error) {
	path := fmt.Sprintf("/records?table_name=%s&pk=%s&sk=%s", queryEscape(table), queryEscape(pk), queryEscape(sk))
	var out wire.RecordResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return out, err
	}
	if out.Value == nil {
		return out, ErrNotFound
	}
	return out, nil
}

// Delete removes the record at (table, pk, sk).
func (c *Client) Delete(ctx context.Context, table, pk, sk string) (wire.RecordResponse, error) {
	path := fmt.Sprintf("/records?table_name=%s&pk=%s&sk=%s", queryEscape(table), queryEscape(pk), queryEscape(sk))
	var out wire.RecordResponse
	err := c.do(ctx, http.MethodDelete, path, nil, &out)
	return out, err
}

// Exists reports whether a live record exists at (table, pk, sk).
func (c *Client) Exists(ctx context.Context, table, pk, sk string) (bool, error) {
	path := fmt.Sprintf("/exists?table_name=%s&pk=%s&sk=%s", queryEscape(table), queryEscape(pk), queryEscape(sk))
	var out wire.ExistsResponse
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Exists, err
}

// ListReplicas lists every replica the coordinator currently knows
// about, across all shards.
func (c *Client) ListReplicas(ctx context.Context) ([]ReplicaInfo, error) {
	var out []ReplicaInfo
	err := c.do(ctx, http.MethodGet, "/replicas", nil, &out)
	return out, err
}

// ReplicaInfo mirrors registry.Replica's wire shape.
type ReplicaInfo struct {
	ShardName  string    `json:"ShardName"`
	ReplicaURL string    `json:"ReplicaURL"`
	ReplicaID  string    `json:"ReplicaID"`
	Role       string    `json:"Role"`
	LastSeen   time.Time `json:"LastSeen"`
}

// Health checks the coordinator's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
