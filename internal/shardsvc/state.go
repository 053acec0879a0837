// Package shardsvc implements the Shard Service: the HTTP surface one
// shard replica exposes to the coordinator and to clients proxied
// through it, wired to a local shardstore.Store and a bus.Publisher /
// bus.Consumer pair.
package shardsvc

import "sync"

// roleState holds the replica's current role and known leader URL, set
// by the registration heartbeat and read by every request handler.
// Kept as its own tiny type (rather than plain fields on Service) so
// the heartbeat goroutine and the HTTP goroutines can share it without
// taking the Service's other locks.
type roleState struct {
	mu        sync.RWMutex
	role      string
	leaderURL string
}

func newRoleState(initial string) *roleState {
	return &roleState{role: initial}
}

func (s *roleState) set(role, leaderURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
	s.leaderURL = leaderURL
}

func (s *roleState) get() (role, leaderURL string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role, s.leaderURL
}

func (s *roleState) isLeader() bool {
	role, _ := s.get()
	return role == "leader"
}
