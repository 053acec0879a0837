package ring

import (
	"fmt"
	"testing"
)

func TestRingGetEmpty(t *testing.T) {
	r := New(8)
	if _, ok := r.Get("foo"); ok {
		t.Fatalf("Get on empty ring should report ok=false")
	}
}

func TestRingAddGetDeterministic(t *testing.T) {
	r := New(16)
	r.Add("shard-a")
	r.Add("shard-b")
	r.Add("shard-c")

	owner, ok := r.Get("tenant-42/users/1")
	if !ok {
		t.Fatalf("expected owner")
	}
	for i := 0; i < 10; i++ {
		got, ok := r.Get("tenant-42/users/1")
		if !ok || got != owner {
			t.Fatalf("Get not stable across calls: got %q, want %q", got, owner)
		}
	}
}

func TestRingNodes(t *testing.T) {
	r := New(8)
	r.Add("shard-a")
	r.Add("shard-b")

	nodes := r.Nodes()
	if len(nodes) != 2 {
		t.Fatalf("want 2 nodes, got %d (%v)", len(nodes), nodes)
	}
}

func TestRingAddIdempotent(t *testing.T) {
	r := New(8)
	r.Add("shard-a")
	before := r.NodeCount()
	r.Add("shard-a")
	if after := r.NodeCount(); after != before {
		t.Fatalf("re-adding a shard changed node count: %d -> %d", before, after)
	}
}

func TestRingRemove(t *testing.T) {
	r := New(8)
	r.Add("shard-a")
	r.Add("shard-b")
	r.Remove("shard-a")

	for i := 0; i < 50; i++ {
		owner, ok := r.Get(fmt.Sprintf("key-%d", i))
		if !ok {
			t.Fatalf("expected owner for key-%d", i)
		}
		if owner == "shard-a" {
			t.Fatalf("key-%d still routed to removed shard", i)
		}
	}
}

// TestRingMinimalDisruption checks that removing one shard out of many
// only reassigns keys that belonged to it, not an arbitrary fraction of
// the whole keyspace — the property that makes consistent hashing worth
// using over mod-N hashing.
func TestRingMinimalDisruption(t *testing.T) {
	const shards = 10
	const keys = 2000

	r := New(DefaultReplicas)
	for i := 0; i < shards; i++ {
		r.Add(fmt.Sprintf("shard-%d", i))
	}

	before := make(map[string]string, keys)
	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("key-%d", i)
		owner, _ := r.Get(k)
		before[k] = owner
	}

	r.Remove("shard-0")

	moved := 0
	for i := 0; i < keys; i++ {
		k := fmt.Sprintf("key-%d", i)
		owner, _ := r.Get(k)
		if owner != before[k] {
			moved++
			if before[k] != "shard-0" {
				t.Fatalf("key %q moved from %q to %q without its owner being removed", k, before[k], owner)
			}
		}
	}
	if moved == 0 {
		t.Fatalf("expected some keys previously on shard-0 to move")
	}
}

func TestRingClone(t *testing.T) {
	r := New(8)
	r.Add("shard-a")

	snap := r.Clone()
	r.Add("shard-b")

	if n := snap.NodeCount(); n != 1 {
		t.Fatalf("clone observed later mutation: node count %d, want 1", n)
	}
	if n := r.NodeCount(); n != 2 {
		t.Fatalf("original ring not mutated: node count %d, want 2", n)
	}
}
