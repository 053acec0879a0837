package coordinator

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

// shardClient talks to one shard replica's HTTP API. It is the
// coordinator-side counterpart of internal/sdk's coordinator client,
// both grounded on the same request/response/APIError shape.
type shardClient struct {
	http *http.Client
}

func newShardClient(timeout time.Duration) *shardClient {
	return &shardClient{http: &http.Client{Timeout: timeout}}
}

func (c *shardClient) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if tid := obs.TraceID(ctx); tid != "" {
		req.Header.Set(obs.TraceHeader, tid)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return obs.NewAPIError(http.StatusBadGateway, "shard request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return obs.NewAPIError(resp.StatusCode, "%s", strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errNotFound = fmt.Errorf("record not found")

func (c *shardClient) createRecord(ctx context.Context, leader string, req wire.RecordRequest) (wire.RecordResponse, error) {
	var out wire.RecordResponse
	err := c.do(ctx, http.MethodPost, leader+"/records", req, &out)
	return out, err
}

func (c *shardClient) readRecord(ctx context.Context, base, table, pk, sk string) (wire.RecordResponse, bool, error) {
	url := fmt.Sprintf("%s/records?table_name=%s&pk=%s&sk=%s", base, queryEscape(table), queryEscape(pk), queryEscape(sk))
	var out wire.RecordResponse
	err := c.do(ctx, http.MethodGet, url, nil, &out)
	if err == errNotFound {
		return wire.RecordResponse{}, false, nil
	}
	if err != nil {
		return wire.RecordResponse{}, false, err
	}
	return out, true, nil
}

func (c *shardClient) deleteRecord(ctx context.Context, leader, table, pk, sk string) (wire.RecordResponse, error) {
	url := fmt.Sprintf("%s/records?table_name=%s&pk=%s&sk=%s", leader, queryEscape(table), queryEscape(pk), queryEscape(sk))
	var out wire.RecordResponse
	err := c.do(ctx, http.MethodDelete, url, nil, &out)
	if err == errNotFound {
		return wire.RecordResponse{TableName: table, PK: pk, SK: sk}, nil
	}
	return out, err
}

func (c *shardClient) exists(ctx context.Context, base, table, pk, sk string) (bool, error) {
	url := fmt.Sprintf("%s/exists?table_name=%s&pk=%s&sk=%s", base, queryEscape(table), queryEscape(pk), queryEscape(sk))
	var out wire.ExistsResponse
	err := c.do(ctx, http.MethodGet, url, nil, &out)
	if err != nil {
		return false, err
	}
	return out.Exists, nil
}

func (c *shardClient) keys(ctx context.Context, leader string) ([]wire.Item, error) {
	var out wire.KeysResponse
	err := c.do(ctx, http.MethodGet, leader+"/internal/keys", nil, &out)
	return out.Items, err
}

func (c *shardClient) migratePut(ctx context.Context, leader string, items []wire.Item) error {
	return c.do(ctx, http.MethodPost, leader+"/internal/migrate-put", wire.MigrateRequest{Items: items}, nil)
}

func (c *shardClient) migrateDel(ctx context.Context, leader string, items []wire.Item) error {
	return c.do(ctx, http.MethodPost, leader+"/internal/migrate-del", wire.MigrateRequest{Items: items}, nil)
}

func (c *shardClient) stats(ctx context.Context, leader string) (wire.StatsResponse, error) {
	var out wire.StatsResponse
	err := c.do(ctx, http.MethodGet, leader+"/internal/stats", nil, &out)
	return out, err
}

func queryEscape(s string) string {
	return url.QueryEscape(s)
}
