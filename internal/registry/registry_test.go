package registry

import (
	"testing"
	"time"

	"github.com/devraj/shardfs/internal/wire"
)

func TestUpsertCreatesOnlineRecord(t *testing.T) {
	r := New()
	r.Upsert("node_1", wire.Addr{Host: "127.0.0.1", Port: 6000}, wire.Stats{CPUPercent: 1.5})

	rec, ok := r.Get("node_1")
	if !ok {
		t.Fatalf("expected node_1 to be registered")
	}
	if rec.Status != StatusOnline {
		t.Errorf("expected status ONLINE, got %s", rec.Status)
	}
	if rec.Address.Port != 6000 {
		t.Errorf("expected port 6000, got %d", rec.Address.Port)
	}
}

func TestUpsertReAdmitsOfflineNode(t *testing.T) {
	r := New()
	r.Upsert("node_1", wire.Addr{Host: "127.0.0.1", Port: 6000}, wire.Stats{})
	r.ExpireTimedOut(0) // instantly expires since last_heartbeat is always in the past by the time this runs

	if r.IsOnline("node_1") {
		t.Fatalf("expected node_1 to be offline after expiry")
	}

	r.Upsert("node_1", wire.Addr{Host: "127.0.0.1", Port: 6000}, wire.Stats{})
	if !r.IsOnline("node_1") {
		t.Errorf("expected heartbeat to re-admit node_1 as online")
	}
}

func TestExpireTimedOutOnlyAffectsStaleOnlineNodes(t *testing.T) {
	r := New()
	r.Upsert("fresh", wire.Addr{Host: "h", Port: 1}, wire.Stats{})
	r.Upsert("stale", wire.Addr{Host: "h", Port: 2}, wire.Stats{})

	// Manually backdate "stale" past the timeout window.
	r.nodes["stale"].LastHeartbeat = time.Now().Add(-time.Minute)
	expired := r.ExpireTimedOut(time.Second)
	if len(expired) != 1 || expired[0] != "stale" {
		t.Fatalf("expected only stale to be flagged, got %v", expired)
	}

	for _, id := range expired {
		if r.IsOnline(id) {
			t.Errorf("expected %s to be offline after ExpireTimedOut", id)
		}
	}
	if !r.IsOnline("fresh") {
		t.Errorf("expected fresh to stay online")
	}
}

func TestResolveAddress(t *testing.T) {
	r := New()
	addr := wire.Addr{Host: "10.0.0.5", Port: 6001}
	r.Upsert("node_9", addr, wire.Stats{})

	id, ok := r.ResolveAddress(addr)
	if !ok || id != "node_9" {
		t.Fatalf("expected to resolve %v to node_9, got %q (ok=%v)", addr, id, ok)
	}

	if _, ok := r.ResolveAddress(wire.Addr{Host: "nope", Port: 1}); ok {
		t.Errorf("expected unknown address to not resolve")
	}
}

func TestOnlineNodeIDsExcludesOffline(t *testing.T) {
	r := New()
	r.Upsert("a", wire.Addr{Host: "h", Port: 1}, wire.Stats{})
	r.Upsert("b", wire.Addr{Host: "h", Port: 2}, wire.Stats{})
	r.ExpireTimedOut(-time.Second) // marks both offline

	r.Upsert("a", wire.Addr{Host: "h", Port: 1}, wire.Stats{}) // re-admit a

	online := r.OnlineNodeIDs()
	if len(online) != 1 || online[0] != "a" {
		t.Errorf("expected only [a] online, got %v", online)
	}
}
