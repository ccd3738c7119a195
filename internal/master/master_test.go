package master

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devraj/shardfs/internal/namespace"
	"github.com/devraj/shardfs/internal/wire"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	path := filepath.Join(os.TempDir(), "shardfs_master_test.json")
	t.Cleanup(func() { os.Remove(path) })
	ns := namespace.New(path)

	log := logrus.New()
	log.SetOutput(nullWriter{})
	cfg := Config{BlockSize: 1 << 20, ReplicationFactor: 2, NodeTimeout: 6 * time.Second, FailureTick: 50 * time.Millisecond}
	s := New(cfg, ns, log.WithField("component", "test"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	go s.ListenAndServe(addr)
	t.Cleanup(s.Stop)
	waitForListener(t, addr)
	return s, addr
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

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
	t.Fatalf("master never started listening on %s", addr)
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestHeartbeatThenGetStats(t *testing.T) {
	_, addr := testServer(t)

	conn := dial(t, addr)
	if err := wire.SendJSON(conn, wire.HeartbeatRequest{
		Type: wire.TypeHeartbeat, NodeID: "n1", Port: 7001,
		Stats: wire.Stats{CPUPercent: 1, RAMPercent: 2},
	}); err != nil {
		t.Fatalf("sending HEARTBEAT failed: %v", err)
	}
	conn.Close()

	time.Sleep(50 * time.Millisecond)

	conn2 := dial(t, addr)
	defer conn2.Close()
	if err := wire.SendJSON(conn2, wire.GetStatsRequest{Type: wire.TypeGetStats}); err != nil {
		t.Fatalf("sending GET_STATS failed: %v", err)
	}
	var resp wire.GetStatsResponse
	if err := wire.ReadJSON(conn2, &resp); err != nil {
		t.Fatalf("reading GET_STATS response failed: %v", err)
	}
	if resp.Status != wire.StatusOK {
		t.Fatalf("expected OK status, got %s", resp.Status)
	}
	rec, ok := resp.Nodes["n1"]
	if !ok {
		t.Fatalf("expected node n1 in stats response, got %+v", resp.Nodes)
	}
	if rec.Status != "ONLINE" {
		t.Errorf("expected ONLINE status, got %s", rec.Status)
	}
}

func TestUploadInitWithNoNodesReturnsError(t *testing.T) {
	_, addr := testServer(t)

	conn := dial(t, addr)
	defer conn.Close()
	if err := wire.SendJSON(conn, wire.UploadInitRequest{Type: wire.TypeUploadInit, Filename: "a.txt", Filesize: 10}); err != nil {
		t.Fatalf("sending UPLOAD_INIT failed: %v", err)
	}
	var resp wire.UploadInitResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		t.Fatalf("reading UPLOAD_INIT response failed: %v", err)
	}
	if resp.Status != wire.StatusError {
		t.Errorf("expected ERROR status with no nodes registered, got %s", resp.Status)
	}
}

func TestListFilesEmpty(t *testing.T) {
	_, addr := testServer(t)

	conn := dial(t, addr)
	defer conn.Close()
	if err := wire.SendJSON(conn, wire.ListFilesRequest{Type: wire.TypeListFiles}); err != nil {
		t.Fatalf("sending LIST_FILES failed: %v", err)
	}
	var resp wire.ListFilesResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		t.Fatalf("reading LIST_FILES response failed: %v", err)
	}
	if resp.Status != wire.StatusOK || len(resp.Files) != 0 {
		t.Errorf("expected empty OK file list, got %+v", resp)
	}
}

func TestDeleteFileNotFound(t *testing.T) {
	_, addr := testServer(t)

	conn := dial(t, addr)
	defer conn.Close()
	if err := wire.SendJSON(conn, wire.DeleteFileRequest{Type: wire.TypeDeleteFile, Filename: "missing.txt"}); err != nil {
		t.Fatalf("sending DELETE_FILE failed: %v", err)
	}
	var resp wire.StatusResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		t.Fatalf("reading DELETE_FILE response failed: %v", err)
	}
	if resp.Status != wire.StatusError {
		t.Errorf("expected ERROR deleting unknown file, got %s", resp.Status)
	}
}
