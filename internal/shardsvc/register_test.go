package shardsvc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"shardkv/internal/obs"
	"shardkv/internal/wire"
)

func TestRegistrarAppliesAssignedRole(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req wire.RegisterReplicaRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ShardName != "shard-0" || req.ReplicaURL != "http://replica:9000" {
			t.Errorf("unexpected payload: %+v", req)
		}
		json.NewEncoder(w).Encode(wire.RegisterReplicaResponse{
			ShardName: "shard-0", AssignedRole: "leader", LeaderURL: "http://replica:9000/",
		})
	}))
	defer srv.Close()

	state := newRoleState("auto")
	metrics := obs.NewMetrics("test", "shard")
	reg := newRegistrar(srv.URL, "shard-0", "http://replica:9000/", "r1", "auto", time.Hour, time.Second, state, metrics, zap.NewNop())

	reg.registerOnce(context.Background())

	role, leader := state.get()
	if role != "leader" {
		t.Fatalf("role = %q, want leader", role)
	}
	if leader != "http://replica:9000" {
		t.Fatalf("leaderURL = %q, want trailing slash trimmed", leader)
	}
}

func TestRegistrarIgnoresUnreachableCoordinator(t *testing.T) {
	state := newRoleState("auto")
	metrics := obs.NewMetrics("test", "shard")
	reg := newRegistrar("http://127.0.0.1:1", "shard-0", "http://replica:9000", "r1", "auto", time.Hour, 100*time.Millisecond, state, metrics, zap.NewNop())

	reg.registerOnce(context.Background())

	role, leader := state.get()
	if role != "auto" || leader != "" {
		t.Fatalf("expected state unchanged on failure, got role=%q leader=%q", role, leader)
	}
}
