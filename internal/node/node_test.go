package node

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devraj/shardfs/internal/wire"
)

func testNode(t *testing.T) (*Server, string) {
	t.Helper()
	root := filepath.Join(os.TempDir(), "shardfs_node_test")
	t.Cleanup(func() { os.RemoveAll(root) })

	log := logrus.New()
	log.SetOutput(nullWriter{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()

	cfg := Config{
		NodeID: "1", Port: mustAtoi(t, portStr), MasterAddr: "127.0.0.1:1",
		StorageRoot: root, ChunkCompression: true, HeartbeatInterval: time.Hour,
	}
	srv, err := New(cfg, log.WithField("component", "test"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	go srv.ListenAndServe()
	t.Cleanup(srv.Stop)
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	waitForListener(t, addr)
	return srv, addr
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	if err != nil {
		t.Fatalf("atoi failed: %v", err)
	}
	return n
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("node never started listening on %s", addr)
}

func TestStoreThenRetrieveChunk(t *testing.T) {
	_, addr := testNode(t)

	data := []byte("hello from the client")
	conn := dial(t, addr)
	if err := wire.SendJSON(conn, wire.StoreChunkRequest{Type: wire.TypeStoreChunk, ChunkID: "c1", Size: int64(len(data))}); err != nil {
		t.Fatalf("sending STORE_CHUNK failed: %v", err)
	}
	if err := wire.WriteBulk(conn, data); err != nil {
		t.Fatalf("writing bulk failed: %v", err)
	}
	var storeResp wire.StoreChunkResponse
	if err := wire.ReadJSON(conn, &storeResp); err != nil {
		t.Fatalf("reading STORE_CHUNK response failed: %v", err)
	}
	conn.Close()
	if storeResp.Status != wire.StatusOK {
		t.Fatalf("expected OK store status, got %s: %s", storeResp.Status, storeResp.Message)
	}

	conn2 := dial(t, addr)
	defer conn2.Close()
	if err := wire.SendJSON(conn2, wire.RetrieveChunkRequest{Type: wire.TypeRetrieveChunk, ChunkID: "c1"}); err != nil {
		t.Fatalf("sending RETRIEVE_CHUNK failed: %v", err)
	}
	var retResp wire.RetrieveChunkResponse
	if err := wire.ReadJSON(conn2, &retResp); err != nil {
		t.Fatalf("reading RETRIEVE_CHUNK response failed: %v", err)
	}
	if retResp.Status != wire.StatusOK {
		t.Fatalf("expected OK retrieve status, got %s", retResp.Status)
	}
	got, err := wire.ReadBulk(conn2, retResp.Size)
	if err != nil {
		t.Fatalf("reading bulk chunk bytes failed: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("retrieved data mismatch: got %q want %q", got, data)
	}
}

func TestRetrieveMissingChunkReturnsError(t *testing.T) {
	_, addr := testNode(t)

	conn := dial(t, addr)
	defer conn.Close()
	if err := wire.SendJSON(conn, wire.RetrieveChunkRequest{Type: wire.TypeRetrieveChunk, ChunkID: "missing"}); err != nil {
		t.Fatalf("sending RETRIEVE_CHUNK failed: %v", err)
	}
	var resp wire.RetrieveChunkResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		t.Fatalf("reading response failed: %v", err)
	}
	if resp.Status != wire.StatusError {
		t.Errorf("expected ERROR status for missing chunk, got %s", resp.Status)
	}
}

func TestDeleteChunkIsAlwaysOK(t *testing.T) {
	_, addr := testNode(t)

	conn := dial(t, addr)
	defer conn.Close()
	if err := wire.SendJSON(conn, wire.DeleteChunkRequest{Type: wire.TypeDeleteChunk, ChunkID: "never-existed"}); err != nil {
		t.Fatalf("sending DELETE_CHUNK failed: %v", err)
	}
	var resp wire.DeleteChunkResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		t.Fatalf("reading response failed: %v", err)
	}
	if resp.Status != wire.StatusOK {
		t.Errorf("expected OK deleting unknown chunk, got %s", resp.Status)
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}
