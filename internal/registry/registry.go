// Package registry tracks which replica processes are alive for each
// shard and which one currently holds the leader role.
//
// Liveness is TTL-based: a replica is "active" for a shard only if it
// re-registered within the last TTL seconds. There is no heartbeat
// push from the registry to replicas — replicas poll in
// (see internal/shardsvc's registration worker), and the registry just
// keeps the most recent timestamp per (shard, replica URL) pair.
package registry

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Role is the role assigned to a replica for its shard.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleFollower Role = "follower"
)

// RequestedRole is what a replica asks for when it registers. "auto"
// lets the registry decide.
type RequestedRole string

const (
	RequestAuto     RequestedRole = "auto"
	RequestLeader   RequestedRole = "leader"
	RequestFollower RequestedRole = "follower"
)

// Replica describes one registered replica process for a shard.
type Replica struct {
	ShardName   string
	ReplicaURL  string
	ReplicaID   string
	Role        Role
	LastSeen    time.Time
}

// Registry is the Replica Registry component. Safe for concurrent use.
type Registry struct {
	ttl time.Duration

	mu        sync.Mutex
	replicas  map[string]map[string]Replica // shard -> replica URL -> info
	leaderURL map[string]string             // shard -> current leader URL
	rrIndex   map[string]int                // shard -> next round-robin offset
	now       func() time.Time
}

// New creates a Registry with the given liveness TTL.
func New(ttl time.Duration) *Registry {
	return &Registry{
		ttl:       ttl,
		replicas:  make(map[string]map[string]Replica),
		leaderURL: make(map[string]string),
		rrIndex:   make(map[string]int),
		now:       time.Now,
	}
}

// Register records a heartbeat from replicaURL for shardName and
// returns the role the registry assigns it plus the shard's current
// leader URL.
//
// Leader election has no preemption: an active leader keeps its role
// regardless of what any other replica requests. A replica can only
// become leader when the shard currently has none — because it is the
// first to ever register, or because the previous leader's TTL lapsed.
func (r *Registry) Register(shardName, replicaURL, replicaID string, requested RequestedRole) (Role, string) {
	replicaURL = strings.TrimSuffix(replicaURL, "/")
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	shard, ok := r.replicas[shardName]
	if !ok {
		shard = make(map[string]Replica)
		r.replicas[shardName] = shard
	}
	prev, hadPrev := shard[replicaURL]

	leader, hasLeader := r.leaderURL[shardName]
	if hasLeader && !r.isActiveLocked(shardName, leader, now) {
		delete(r.leaderURL, shardName)
		hasLeader = false
		leader = ""
	}

	assigned := RoleFollower
	if !hasLeader {
		assigned = RoleLeader
		r.leaderURL[shardName] = replicaURL
	}

	if requested == RequestLeader && !hasLeader {
		assigned = RoleLeader
		r.leaderURL[shardName] = replicaURL
	}

	if hadPrev && prev.Role == RoleLeader && r.leaderURL[shardName] == replicaURL {
		assigned = RoleLeader
	}

	shard[replicaURL] = Replica{
		ShardName:  shardName,
		ReplicaURL: replicaURL,
		ReplicaID:  replicaID,
		Role:       assigned,
		LastSeen:   now,
	}

	if lurl, ok := r.leaderURL[shardName]; ok {
		if info, ok := shard[lurl]; ok {
			info.Role = RoleLeader
			shard[lurl] = info
		}
	}

	return assigned, r.leaderURL[shardName]
}

// LeaderURL returns the current live leader for shardName, or "" if
// none is registered or the registered one has expired.
func (r *Registry) LeaderURL(shardName string) string {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	url, ok := r.leaderURL[shardName]
	if !ok || !r.isActiveLocked(shardName, url, now) {
		return ""
	}
	return url
}

// ActiveReplicas returns the replicas of shardName that have
// registered within the TTL window, in no particular order.
func (r *Registry) ActiveReplicas(shardName string) []Replica {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Replica
	for _, info := range r.replicas[shardName] {
		if now.Sub(info.LastSeen) <= r.ttl {
			out = append(out, info)
		}
	}
	return out
}

// PickReadReplica returns the next replica for shardName in round-robin
// order among active replicas, or "" if none are active.
func (r *Registry) PickReadReplica(shardName string) string {
	reps := r.ActiveReplicas(shardName)
	if len(reps) == 0 {
		return ""
	}
	sort.Slice(reps, func(i, j int) bool { return reps[i].ReplicaURL < reps[j].ReplicaURL })

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.rrIndex[shardName] % len(reps)
	r.rrIndex[shardName] = idx + 1
	return reps[idx].ReplicaURL
}

// ListAll returns every registered replica across all shards,
// regardless of liveness — used by the coordinator's /replicas endpoint.
func (r *Registry) ListAll() []Replica {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Replica
	for _, shard := range r.replicas {
		for _, info := range shard {
			out = append(out, info)
		}
	}
	return out
}

// Shards returns the distinct shard names that have at least one
// registered replica.
func (r *Registry) Shards() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.replicas))
	for shard := range r.replicas {
		out = append(out, shard)
	}
	return out
}

func (r *Registry) isActiveLocked(shardName, url string, now time.Time) bool {
	info, ok := r.replicas[shardName][url]
	if !ok {
		return false
	}
	return now.Sub(info.LastSeen) <= r.ttl
}
