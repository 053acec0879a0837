package sdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"shardkv/internal/wire"
)

func TestPutSendsWrappedValue(t *testing.T) {
	var gotReq wire.RecordRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		ver := int64(1)
		json.NewEncoder(w).Encode(wire.RecordResponse{TableName: gotReq.TableName, PK: gotReq.PK, SK: gotReq.SK, Value: &gotReq.Value, Version: &ver})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	resp, err := c.Put(context.Background(), "users", "u1", "profile", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if resp.PK != "u1" {
		t.Fatalf("PK = %q", resp.PK)
	}
	if gotReq.TableName != "users" {
		t.Fatalf("server saw table = %q", gotReq.TableName)
	}
}

func TestGetReturnsErrNotFoundOnNullValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(wire.RecordResponse{TableName: "t", PK: "missing", SK: "s"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.Get(context.Background(), "t", "missing", "s")
	if err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCheckStatusDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"detail": "no shards registered"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0)
	_, err := c.Put(context.Background(), "t", "p", "s", map[string]any{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err.Error() != "HTTP 503: no shards registered" {
		t.Fatalf("err = %v", err)
	}
}
