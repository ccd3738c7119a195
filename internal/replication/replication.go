// Package replication implements the Master's Replication Engine (§4.6):
// restoring one lost replica per invocation by copying a chunk from a
// surviving online replica to a fresh online destination. Grounded on
// original_source/master.py's replicate_chunk (same source-then-destination
// selection and Master-mediated copy) and the teacher's goroutine-per-task
// dispatch style from internal/dfs/dfs_core.go's createAdditionalReplicas.
package replication

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devraj/shardfs/internal/namespace"
	"github.com/devraj/shardfs/internal/registry"
	"github.com/devraj/shardfs/internal/wire"
)

// Engine restores chunk durability after a Node failure.
type Engine struct {
	registry *registry.Registry
	ns       *namespace.Namespace
	log      *logrus.Entry
	dialTO   time.Duration
}

// New returns a replication Engine wired to the Master's Registry and
// Namespace.
func New(reg *registry.Registry, ns *namespace.Namespace, log *logrus.Entry) *Engine {
	return &Engine{registry: reg, ns: ns, log: log, dialTO: 10 * time.Second}
}

// Replicate runs steps 2-6 of the algorithm for one chunk. currentLocations
// is the chunk's location set with the failed node already evicted (step 1,
// performed by the caller via namespace.EvictNodeFromChunk so the eviction
// and the "still present" check share one Namespace lock acquisition).
func (e *Engine) Replicate(chunkID string, currentLocations []string) {
	// Step 2: first ONLINE node in iteration order is the source.
	var sourceID string
	for _, id := range currentLocations {
		if e.registry.IsOnline(id) {
			sourceID = id
			break
		}
	}
	if sourceID == "" {
		e.log.WithField("chunk_id", chunkID).Error("DATA LOSS WARNING: no healthy replicas remain for this chunk")
		return
	}

	// Step 3: uniform-random destination among online nodes not already
	// holding the chunk.
	held := make(map[string]bool, len(currentLocations))
	for _, id := range currentLocations {
		held[id] = true
	}
	var candidates []string
	for _, id := range e.registry.OnlineNodeIDs() {
		if !held[id] {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		e.log.WithField("chunk_id", chunkID).Warn("cannot replicate chunk: no available destination nodes")
		return
	}
	destID := candidates[rand.Intn(len(candidates))]

	sourceRec, ok := e.registry.Get(sourceID)
	if !ok {
		e.log.WithFields(logrus.Fields{"chunk_id": chunkID, "source": sourceID}).Warn("replication source vanished from registry")
		return
	}
	destRec, ok := e.registry.Get(destID)
	if !ok {
		e.log.WithFields(logrus.Fields{"chunk_id": chunkID, "dest": destID}).Warn("replication destination vanished from registry")
		return
	}

	e.log.WithFields(logrus.Fields{"chunk_id": chunkID, "source": sourceID, "dest": destID}).Info("replicating chunk")

	// Step 4: fetch from source.
	data, err := e.fetchChunk(sourceRec.Address, chunkID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"chunk_id": chunkID, "source": sourceID, "err": err}).Warn("replication fetch failed, aborting this attempt")
		return
	}

	// Step 5: push to destination.
	if err := e.storeChunk(destRec.Address, chunkID, data); err != nil {
		e.log.WithFields(logrus.Fields{"chunk_id": chunkID, "dest": destID, "err": err}).Warn("replication store failed, aborting this attempt")
		return
	}

	// Step 6: commit, rechecking the chunk is still referenced.
	appended, err := e.ns.AppendLocation(chunkID, destID)
	if err != nil {
		e.log.WithFields(logrus.Fields{"chunk_id": chunkID, "err": err}).Warn("failed to persist replication commit")
		return
	}
	if !appended {
		e.log.WithField("chunk_id", chunkID).Info("chunk was deleted mid-replication, discarding destination copy's metadata entry")
		return
	}
	e.log.WithFields(logrus.Fields{"chunk_id": chunkID, "dest": destID}).Info("replication successful")
}

func (e *Engine) fetchChunk(addr wire.Addr, chunkID string) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), e.dialTO)
	if err != nil {
		return nil, fmt.Errorf("dialing source %s: %w", addr, err)
	}
	defer conn.Close()

	if err := wire.SendJSON(conn, wire.RetrieveChunkRequest{Type: wire.TypeRetrieveChunk, ChunkID: chunkID}); err != nil {
		return nil, fmt.Errorf("sending RETRIEVE_CHUNK: %w", err)
	}
	var resp wire.RetrieveChunkResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return nil, fmt.Errorf("reading RETRIEVE_CHUNK response: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("source refused chunk: %s", resp.Message)
	}
	data, err := wire.ReadBulk(conn, resp.Size)
	if err != nil {
		return nil, fmt.Errorf("reading chunk bytes: %w", err)
	}
	return data, nil
}

func (e *Engine) storeChunk(addr wire.Addr, chunkID string, data []byte) error {
	conn, err := net.DialTimeout("tcp", addr.String(), e.dialTO)
	if err != nil {
		return fmt.Errorf("dialing destination %s: %w", addr, err)
	}
	defer conn.Close()

	req := wire.StoreChunkRequest{Type: wire.TypeStoreChunk, ChunkID: chunkID, Size: int64(len(data))}
	if err := wire.SendJSON(conn, req); err != nil {
		return fmt.Errorf("sending STORE_CHUNK: %w", err)
	}
	if err := wire.WriteBulk(conn, data); err != nil {
		return fmt.Errorf("streaming chunk bytes: %w", err)
	}
	var resp wire.StoreChunkResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return fmt.Errorf("reading STORE_CHUNK ack: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("destination refused chunk: %s", resp.Message)
	}
	return nil
}
