// Package placement implements the Master's chunk id generation and replica
// sampling policy described in §4.5: how many chunks a file splits into, and
// which online Nodes each chunk's replicas land on. Grounded on
// original_source/master.py's handle_upload_init and the teacher's
// internal/peer/identity.go id-generation style (github.com/google/uuid).
package placement

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// NumChunks computes ceil(filesize / blockSize), the number of fixed-size
// chunks a file of this size splits into.
func NumChunks(filesize, blockSize int64) int {
	if filesize <= 0 {
		return 0
	}
	return int((filesize + blockSize - 1) / blockSize)
}

// NewChunkID builds a globally-unique chunk id of the form
// "<filename>_chunk_<index>_<rand8>", matching the original Python's
// f"{filename}_chunk_{i}_{uuid.uuid4().hex[:8]}" exactly: a UUIDv4's string
// form always begins with 8 hex digits before the first dash, so slicing the
// first 8 characters yields the same 8 random hex characters uuid.hex[:8]
// would.
func NewChunkID(filename string, index int) string {
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("%s_chunk_%d_%s", filename, index, suffix)
}

// SampleReplicas picks min(replicationFactor, len(online)) distinct node ids
// uniformly at random from online, without replacement. Each call to
// SampleReplicas is independent, so different chunks of the same file get
// independently sampled replica sets, per §4.5 step 3.
func SampleReplicas(online []string, replicationFactor int) []string {
	k := replicationFactor
	if k > len(online) {
		k = len(online)
	}
	if k <= 0 {
		return nil
	}

	pool := make([]string, len(online))
	copy(pool, online)
	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:k]
}
