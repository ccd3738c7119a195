package namespace

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestCommitUploadAndGetFile(t *testing.T) {
	path := filepath.Join(os.TempDir(), "shardfs_test_metadata.json")
	defer os.Remove(path)

	ns := New(path)
	locs := map[string][]string{
		"f_chunk_0_aaaa1111": {"node_1", "node_2"},
	}
	if err := ns.CommitUpload("f", 42, []string{"f_chunk_0_aaaa1111"}, locs); err != nil {
		t.Fatalf("CommitUpload failed: %v", err)
	}

	rec, ok := ns.GetFile("f")
	if !ok {
		t.Fatalf("expected file f to be present after commit")
	}
	if rec.Size != 42 || len(rec.Chunks) != 1 {
		t.Errorf("unexpected FileRecord: %+v", rec)
	}

	got, ok := ns.ChunkLocations("f_chunk_0_aaaa1111")
	if !ok || len(got) != 2 {
		t.Errorf("expected 2 locations, got %v (ok=%v)", got, ok)
	}
}

func TestLoadRecoversPersistedState(t *testing.T) {
	path := filepath.Join(os.TempDir(), "shardfs_test_metadata_restart.json")
	defer os.Remove(path)

	ns := New(path)
	locs := map[string][]string{"c0": {"node_1"}}
	if err := ns.CommitUpload("restart.bin", 7, []string{"c0"}, locs); err != nil {
		t.Fatalf("CommitUpload failed: %v", err)
	}

	restarted := New(path)
	if err := restarted.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	rec, ok := restarted.GetFile("restart.bin")
	if !ok || rec.Size != 7 {
		t.Errorf("expected restart.bin to survive reload, got %+v (ok=%v)", rec, ok)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	path := filepath.Join(os.TempDir(), "shardfs_test_metadata_missing.json")
	os.Remove(path)

	ns := New(path)
	if err := ns.Load(); err != nil {
		t.Fatalf("expected missing metadata file to be a no-op, got %v", err)
	}
}

func TestDeleteFileIsNotIdempotent(t *testing.T) {
	path := filepath.Join(os.TempDir(), "shardfs_test_metadata_delete.json")
	defer os.Remove(path)

	ns := New(path)
	locs := map[string][]string{"c0": {"node_1"}, "c1": {"node_2"}}
	if err := ns.CommitUpload("f", 100, []string{"c0", "c1"}, locs); err != nil {
		t.Fatalf("CommitUpload failed: %v", err)
	}

	deleted, err := ns.DeleteFile("f")
	if err != nil {
		t.Fatalf("first delete should succeed: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected 2 deleted chunk entries, got %d", len(deleted))
	}

	if _, ok := ns.GetFile("f"); ok {
		t.Errorf("expected file to be gone after delete")
	}
	if _, ok := ns.ChunkLocations("c0"); ok {
		t.Errorf("expected chunk locations to be gone after delete")
	}

	_, err = ns.DeleteFile("f")
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("expected second delete to return ErrFileNotFound, got %v", err)
	}
}

func TestEvictNodeFromChunk(t *testing.T) {
	path := filepath.Join(os.TempDir(), "shardfs_test_metadata_evict.json")
	defer os.Remove(path)

	ns := New(path)
	locs := map[string][]string{"c0": {"node_1", "node_2"}}
	if err := ns.CommitUpload("f", 1, []string{"c0"}, locs); err != nil {
		t.Fatalf("CommitUpload failed: %v", err)
	}

	remaining, ok := ns.EvictNodeFromChunk("c0", "node_1")
	if !ok {
		t.Fatalf("expected eviction to find the chunk entry")
	}
	if len(remaining) != 1 || remaining[0] != "node_2" {
		t.Errorf("expected [node_2] remaining, got %v", remaining)
	}

	if _, ok := ns.EvictNodeFromChunk("unknown-chunk", "node_1"); ok {
		t.Errorf("expected eviction of unknown chunk to report ok=false")
	}
}

func TestAppendLocationRejectsDeletedChunk(t *testing.T) {
	path := filepath.Join(os.TempDir(), "shardfs_test_metadata_append.json")
	defer os.Remove(path)

	ns := New(path)
	locs := map[string][]string{"c0": {"node_1"}}
	if err := ns.CommitUpload("f", 1, []string{"c0"}, locs); err != nil {
		t.Fatalf("CommitUpload failed: %v", err)
	}

	appended, err := ns.AppendLocation("c0", "node_2")
	if err != nil || !appended {
		t.Fatalf("expected append to succeed, got appended=%v err=%v", appended, err)
	}

	if _, err := ns.DeleteFile("f"); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}

	// Race: replication tries to append to a chunk whose file was deleted
	// in between steps 1 and 6 of the algorithm. It must no-op, not
	// resurrect the entry.
	appended, err = ns.AppendLocation("c0", "node_3")
	if err != nil {
		t.Fatalf("AppendLocation after delete should not error: %v", err)
	}
	if appended {
		t.Errorf("expected append to a deleted chunk to no-op")
	}
}

func TestAppendLocationRejectsDuplicate(t *testing.T) {
	path := filepath.Join(os.TempDir(), "shardfs_test_metadata_dup.json")
	defer os.Remove(path)

	ns := New(path)
	locs := map[string][]string{"c0": {"node_1"}}
	if err := ns.CommitUpload("f", 1, []string{"c0"}, locs); err != nil {
		t.Fatalf("CommitUpload failed: %v", err)
	}

	appended, err := ns.AppendLocation("c0", "node_1")
	if err != nil {
		t.Fatalf("AppendLocation failed: %v", err)
	}
	if appended {
		t.Errorf("expected duplicate append to be rejected")
	}

	got, _ := ns.ChunkLocations("c0")
	if len(got) != 1 {
		t.Errorf("expected no duplicate entry, got %v", got)
	}
}
