package registry

import (
	"testing"
	"time"
)

func newTestRegistry(ttl time.Duration, start time.Time) *Registry {
	r := New(ttl)
	r.now = func() time.Time { return start }
	return r
}

func TestRegisterFirstReplicaBecomesLeader(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(30*time.Second, start)

	role, leader := r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	if role != RoleLeader {
		t.Fatalf("first replica should be leader, got %s", role)
	}
	if leader != "http://replica-a:8000" {
		t.Fatalf("unexpected leader url %q", leader)
	}
}

func TestRegisterSecondReplicaIsFollower(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(30*time.Second, start)

	r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	role, leader := r.Register("shard-0", "http://replica-b:8000", "b", RequestAuto)
	if role != RoleFollower {
		t.Fatalf("second replica should be follower, got %s", role)
	}
	if leader != "http://replica-a:8000" {
		t.Fatalf("leader should remain replica-a, got %q", leader)
	}
}

func TestRegisterNoPreemptionOfActiveLeader(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(30*time.Second, start)

	r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	role, leader := r.Register("shard-0", "http://replica-b:8000", "b", RequestLeader)
	if role != RoleFollower {
		t.Fatalf("requesting leader role must not preempt an active leader, got %s", role)
	}
	if leader != "http://replica-a:8000" {
		t.Fatalf("leader should remain replica-a, got %q", leader)
	}
}

func TestRegisterLeaderReclaimsRoleAfterReRegister(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(30*time.Second, start)

	r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	role, _ := r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	if role != RoleLeader {
		t.Fatalf("leader re-registering should keep its role, got %s", role)
	}
}

func TestLeaderURLExpiresAfterTTL(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(30*time.Second, start)

	r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	if got := r.LeaderURL("shard-0"); got != "http://replica-a:8000" {
		t.Fatalf("expected active leader, got %q", got)
	}

	r.now = func() time.Time { return start.Add(31 * time.Second) }
	if got := r.LeaderURL("shard-0"); got != "" {
		t.Fatalf("expected expired leader to report empty, got %q", got)
	}
}

func TestRegisterPromotesNewLeaderAfterExpiry(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(30*time.Second, start)

	r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	r.now = func() time.Time { return start.Add(31 * time.Second) }

	role, leader := r.Register("shard-0", "http://replica-b:8000", "b", RequestAuto)
	if role != RoleLeader {
		t.Fatalf("replica registering after leader expiry should become leader, got %s", role)
	}
	if leader != "http://replica-b:8000" {
		t.Fatalf("unexpected leader %q", leader)
	}
}

func TestActiveReplicasExcludesExpired(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(10*time.Second, start)

	r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	r.now = func() time.Time { return start.Add(5 * time.Second) }
	r.Register("shard-0", "http://replica-b:8000", "b", RequestAuto)
	r.now = func() time.Time { return start.Add(11 * time.Second) }

	active := r.ActiveReplicas("shard-0")
	if len(active) != 1 || active[0].ReplicaURL != "http://replica-b:8000" {
		t.Fatalf("expected only replica-b active, got %+v", active)
	}
}

func TestPickReadReplicaRoundRobin(t *testing.T) {
	start := time.Now()
	r := newTestRegistry(30*time.Second, start)

	r.Register("shard-0", "http://replica-a:8000", "a", RequestAuto)
	r.Register("shard-0", "http://replica-b:8000", "b", RequestAuto)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		seen[r.PickReadReplica("shard-0")]++
	}
	if seen["http://replica-a:8000"] != 2 || seen["http://replica-b:8000"] != 2 {
		t.Fatalf("expected even round-robin distribution, got %v", seen)
	}
}

func TestPickReadReplicaNoneActive(t *testing.T) {
	r := newTestRegistry(30*time.Second, time.Now())
	if got := r.PickReadReplica("shard-unknown"); got != "" {
		t.Fatalf("expected empty string for shard with no replicas, got %q", got)
	}
}

func TestRegisterTrimsTrailingSlash(t *testing.T) {
	r := newTestRegistry(30*time.Second, time.Now())
	_, leader := r.Register("shard-0", "http://replica-a:8000/", "a", RequestAuto)
	if leader != "http://replica-a:8000" {
		t.Fatalf("expected trailing slash trimmed, got %q", leader)
	}
}
