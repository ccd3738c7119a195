// Package registry tracks the Master's membership table of Nodes: address,
// last heartbeat, status, and reported capacity stats. It is grounded on the
// teacher's internal/discovery/registry.go shape (a map behind an RWMutex)
// generalized with the heartbeat/timeout bookkeeping from the teacher's
// internal/dfs DFSCore health tracking and original_source/master.py.
package registry

import (
	"sync"
	"time"

	"github.com/devraj/shardfs/internal/wire"
)

// Node status values. There is no terminal state: a Node oscillates between
// these two for as long as the Master process runs.
const (
	StatusOnline  = "ONLINE"
	StatusOffline = "OFFLINE"
)

// NodeRecord is one Node's entry in the membership table.
type NodeRecord struct {
	Address       wire.Addr
	LastHeartbeat time.Time
	Status        string
	Stats         wire.Stats
}

// Registry is the Master's in-memory membership table. It is safe for
// concurrent use; every exported method takes the lock itself.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]*NodeRecord
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*NodeRecord)}
}

// Upsert records a heartbeat: the Node is created on first contact and its
// status is reset to ONLINE even if it was previously marked OFFLINE, which
// is how a recovered Node re-admits itself.
func (r *Registry) Upsert(nodeID string, addr wire.Addr, stats wire.Stats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[nodeID] = &NodeRecord{
		Address:       addr,
		LastHeartbeat: time.Now(),
		Status:        StatusOnline,
		Stats:         stats,
	}
}

// Get returns a copy of the record for nodeID, if known.
func (r *Registry) Get(nodeID string) (NodeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.nodes[nodeID]
	if !ok {
		return NodeRecord{}, false
	}
	return *rec, true
}

// IsOnline reports whether nodeID is known and currently ONLINE.
func (r *Registry) IsOnline(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.nodes[nodeID]
	return ok && rec.Status == StatusOnline
}

// OnlineNodeIDs returns the ids of every currently-ONLINE Node, in map
// iteration order (which is why placement samples rather than relies on it).
func (r *Registry) OnlineNodeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.nodes))
	for id, rec := range r.nodes {
		if rec.Status == StatusOnline {
			ids = append(ids, id)
		}
	}
	return ids
}

// All returns a snapshot copy of every known NodeRecord, keyed by NodeID.
func (r *Registry) All() map[string]NodeRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]NodeRecord, len(r.nodes))
	for id, rec := range r.nodes {
		out[id] = *rec
	}
	return out
}

// ResolveAddress reverse-resolves a wire address to the NodeID whose
// registered address matches exactly. This is the §9 "current contract":
// a reimplementation could instead round-trip node ids, but the documented
// wire protocol only carries addresses in UPLOAD_SUCCESS.
func (r *Registry) ResolveAddress(addr wire.Addr) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, rec := range r.nodes {
		if rec.Address == addr {
			return id, true
		}
	}
	return "", false
}

// ExpireTimedOut scans every ONLINE record and transitions it to OFFLINE if
// its last heartbeat is older than timeout. It returns the ids that were
// just marked OFFLINE so the caller (the Failure Detector loop) can dispatch
// replication after releasing this call's lock — the Registry itself never
// calls back into the Replication Engine, which is how the single-mutex
// contract avoids needing a recursive lock (see SPEC_FULL.md §5).
func (r *Registry) ExpireTimedOut(timeout time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var expired []string
	for id, rec := range r.nodes {
		if rec.Status == StatusOnline && now.Sub(rec.LastHeartbeat) > timeout {
			rec.Status = StatusOffline
			expired = append(expired, id)
		}
	}
	return expired
}
