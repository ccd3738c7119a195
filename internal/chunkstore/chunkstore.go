// Package chunkstore implements a Node's on-disk chunk storage: the
// store/retrieve/delete operations behind STORE_CHUNK, RETRIEVE_CHUNK, and
// DELETE_CHUNK (§4.2). Grounded on the teacher's internal/storage/local.go
// (hash-addressed file-per-chunk layout, temp-write discipline) with
// transparent at-rest lz4 compression lifted from the teacher's
// internal/compressor/compressor.go.
package chunkstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// ErrChunkNotFound is returned by Retrieve when the requested chunk id has
// no file on disk.
var ErrChunkNotFound = errors.New("chunk not found")

// Store is one Node's chunk directory: <storage_root>/node_<node_id>/.
type Store struct {
	dir      string
	compress bool
}

// New creates (if necessary) the Node's storage directory and returns a
// Store rooted there.
func New(storageRoot, nodeID string, compress bool) (*Store, error) {
	dir := filepath.Join(storageRoot, "node_"+nodeID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &Store{dir: dir, compress: compress}, nil
}

func (s *Store) path(chunkID string) string {
	return filepath.Join(s.dir, chunkID)
}

// Store writes a chunk's plaintext bytes to disk and returns its SHA-256
// checksum. The checksum is always computed over the plaintext exactly as
// received on the wire, regardless of whether the bytes are compressed
// before hitting disk, preserving §4.2's wire contract. The write goes to a
// temp file and is renamed into place so a crash mid-write leaves the chunk
// absent rather than half-written, matching "never half-referenced" (§4.2).
func (s *Store) Store(chunkID string, data []byte) (checksum string, err error) {
	sum := sha256.Sum256(data)
	checksum = hex.EncodeToString(sum[:])

	onDisk := data
	if s.compress {
		onDisk, err = compress(data)
		if err != nil {
			return "", fmt.Errorf("compressing chunk %s: %w", chunkID, err)
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+chunkID+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp chunk file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(onDisk); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("writing chunk %s: %w", chunkID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("closing chunk file %s: %w", chunkID, err)
	}
	if err := os.Rename(tmpPath, s.path(chunkID)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("renaming chunk %s into place: %w", chunkID, err)
	}
	return checksum, nil
}

// Retrieve reads a chunk back and decompresses it transparently, returning
// the original plaintext bytes exactly as STORE_CHUNK received them.
func (s *Store) Retrieve(chunkID string) ([]byte, error) {
	onDisk, err := os.ReadFile(s.path(chunkID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrChunkNotFound
		}
		return nil, fmt.Errorf("reading chunk %s: %w", chunkID, err)
	}
	if !s.compress {
		return onDisk, nil
	}
	data, err := decompress(onDisk)
	if err != nil {
		return nil, fmt.Errorf("decompressing chunk %s: %w", chunkID, err)
	}
	return data, nil
}

// Delete removes a chunk's file. It is idempotent: deleting a chunk that
// doesn't exist is treated as success, per §4.2 and §7.
func (s *Store) Delete(chunkID string) error {
	if err := os.Remove(s.path(chunkID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting chunk %s: %w", chunkID, err)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := lz4.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}
	return out.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return nil, fmt.Errorf("lz4 read: %w", err)
	}
	return out.Bytes(), nil
}
