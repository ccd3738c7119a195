// Package namespace owns the Master's durable file/chunk metadata: the
// filename -> FileRecord table and the chunk_id -> replica-node-id table,
// plus their JSON persistence. It is grounded on the API shape of the
// teacher's internal/metadata/metadata.go, re-targeted from an embedded
// Badger store to a flat JSON snapshot because this spec's persistence
// contract (§4.5/§6) is a single whole-structure document with no query
// pattern beyond full load/full save (see DESIGN.md for why Badger was
// dropped).
package namespace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrFileNotFound is returned by operations addressing a filename that has
// no FileRecord — including a second DELETE_FILE of the same name, per §8's
// testable property that delete is not idempotent at the file level.
var ErrFileNotFound = errors.New("file not found")

// FileRecord is the durable description of one uploaded file: its size and
// the ordered sequence of chunk ids that make up its byte layout.
type FileRecord struct {
	Size   int64    `json:"size"`
	Chunks []string `json:"chunks"`
}

// snapshot is the on-disk shape of dfs_metadata.json (§6).
type snapshot struct {
	Files          map[string]FileRecord `json:"files"`
	ChunkLocations map[string][]string   `json:"chunk_locations"`
}

// Namespace holds the Master's Files and ChunkLocations tables behind one
// RWMutex, since invariants (1)-(3) in the data model tie the two tables
// together and must never be observed out of sync with each other.
type Namespace struct {
	mu             sync.RWMutex
	path           string
	files          map[string]FileRecord
	chunkLocations map[string][]string
}

// New returns a Namespace backed by the metadata file at path. It does not
// load from disk; call Load for that.
func New(path string) *Namespace {
	return &Namespace{
		path:           path,
		files:          make(map[string]FileRecord),
		chunkLocations: make(map[string][]string),
	}
}

// Load reads the metadata file if it exists, recovering prior state. A
// missing file is not an error — a fresh Master starts with an empty
// namespace.
func (ns *Namespace) Load() error {
	data, err := os.ReadFile(ns.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading metadata file: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parsing metadata file: %w", err)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()
	if snap.Files != nil {
		ns.files = snap.Files
	}
	if snap.ChunkLocations != nil {
		ns.chunkLocations = snap.ChunkLocations
	}
	return nil
}

// save serialises the current state to a temp file and renames it into
// place, so a crash mid-write never corrupts dfs_metadata.json (§9). save
// marshals the live maps directly without copying them, so callers must
// hold ns.mu for writing while it runs.
func (ns *Namespace) save() error {
	snap := snapshot{
		Files:          ns.files,
		ChunkLocations: ns.chunkLocations,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}

	dir := filepath.Dir(ns.path)
	tmp, err := os.CreateTemp(dir, ".dfs_metadata-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp metadata file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp metadata file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp metadata file: %w", err)
	}
	if err := os.Rename(tmpPath, ns.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp metadata file into place: %w", err)
	}
	return nil
}

// GetFile returns a copy of the FileRecord for filename, if present.
func (ns *Namespace) GetFile(filename string) (FileRecord, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	rec, ok := ns.files[filename]
	return rec, ok
}

// ListFiles returns every (filename, size) pair currently in the namespace.
func (ns *Namespace) ListFiles() map[string]int64 {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	out := make(map[string]int64, len(ns.files))
	for name, rec := range ns.files {
		out[name] = rec.Size
	}
	return out
}

// ChunkLocations returns a copy of the replica node ids for chunkID.
func (ns *Namespace) ChunkLocations(chunkID string) ([]string, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	locs, ok := ns.chunkLocations[chunkID]
	if !ok {
		return nil, false
	}
	out := make([]string, len(locs))
	copy(out, locs)
	return out, true
}

// CommitUpload makes a file visible atomically: FileRecord and every chunk's
// ChunkLocations entry are set together under the lock, satisfying data
// model invariant 5 (no partial state observable before this call returns).
func (ns *Namespace) CommitUpload(filename string, size int64, chunkIDs []string, locations map[string][]string) error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	ns.files[filename] = FileRecord{Size: size, Chunks: chunkIDs}
	for _, chunkID := range chunkIDs {
		locs := locations[chunkID]
		if locs == nil {
			locs = []string{}
		}
		ns.chunkLocations[chunkID] = locs
	}
	return ns.save()
}

// DeleteFile atomically removes a file's FileRecord and all of its
// ChunkLocations entries, returning the pre-deletion locations of each
// chunk so the caller can best-effort dispatch DELETE_CHUNK to those nodes.
// A second delete of the same filename returns ErrFileNotFound, matching
// §8's "not idempotent at the file level" testable property.
func (ns *Namespace) DeleteFile(filename string) (map[string][]string, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	rec, ok := ns.files[filename]
	if !ok {
		return nil, ErrFileNotFound
	}

	deleted := make(map[string][]string, len(rec.Chunks))
	for _, chunkID := range rec.Chunks {
		deleted[chunkID] = ns.chunkLocations[chunkID]
		delete(ns.chunkLocations, chunkID)
	}
	delete(ns.files, filename)

	if err := ns.save(); err != nil {
		return nil, err
	}
	return deleted, nil
}

// ChunksOnNode returns every chunk id whose ChunkLocations entry currently
// includes nodeID, used by the Failure Detector to find what a dead Node
// was holding.
func (ns *Namespace) ChunksOnNode(nodeID string) []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	var chunks []string
	for chunkID, locs := range ns.chunkLocations {
		for _, id := range locs {
			if id == nodeID {
				chunks = append(chunks, chunkID)
				break
			}
		}
	}
	return chunks
}

// EvictNodeFromChunk removes nodeID from chunkID's location set (Replication
// Engine step 1) and returns the remaining locations. If the chunk has no
// ChunkLocations entry at all (e.g. it was deleted concurrently), ok is
// false and the caller should not attempt replication.
func (ns *Namespace) EvictNodeFromChunk(chunkID, nodeID string) (remaining []string, ok bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	locs, present := ns.chunkLocations[chunkID]
	if !present {
		return nil, false
	}
	out := locs[:0:0]
	for _, id := range locs {
		if id != nodeID {
			out = append(out, id)
		}
	}
	ns.chunkLocations[chunkID] = out
	if err := ns.save(); err != nil {
		// A persistence failure here is not reported to the caller; the
		// in-memory state is still consistent and correct, which is what
		// the data model invariants require.
		return append([]string{}, out...), true
	}
	return append([]string{}, out...), true
}

// AppendLocation adds destNodeID to chunkID's location set (Replication
// Engine step 6), but only if the chunk still has a ChunkLocations entry —
// if DELETE_FILE raced ahead and removed it, appending would resurrect a
// chunk that no FileRecord references, violating invariant 1. Returns
// whether the append actually happened.
func (ns *Namespace) AppendLocation(chunkID, destNodeID string) (bool, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	locs, present := ns.chunkLocations[chunkID]
	if !present {
		return false, nil
	}
	for _, id := range locs {
		if id == destNodeID {
			return false, nil // already present, invariant 3 forbids duplicates
		}
	}
	ns.chunkLocations[chunkID] = append(locs, destNodeID)
	if err := ns.save(); err != nil {
		return true, err
	}
	return true, nil
}
