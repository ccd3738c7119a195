// Package master implements the Master's Request Router (§4.7), Failure
// Detector (§4.4), and the glue that wires Registry, Namespace, and the
// Replication Engine together behind one accept loop. Grounded on the
// teacher's internal/p2p/tcp_network.go accept-loop shape and
// original_source/master.py's handle_client dispatch.
package master

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devraj/shardfs/internal/namespace"
	"github.com/devraj/shardfs/internal/registry"
	"github.com/devraj/shardfs/internal/replication"
)

// Config is the subset of configuration the Master needs to run.
type Config struct {
	BlockSize         int64
	ReplicationFactor int
	NodeTimeout       time.Duration
	FailureTick       time.Duration
}

// Server is the Master process: it owns the Registry, the Namespace, and
// the Replication Engine, and serves every Client/Node connection.
type Server struct {
	cfg      Config
	registry *registry.Registry
	ns       *namespace.Namespace
	engine   *replication.Engine
	log      *logrus.Entry

	listener net.Listener
	stop     chan struct{}
}

// New constructs a Server. ns should already have Load called on it by the
// caller so restart recovery (§8 scenario 5) happens before Serve starts
// accepting connections.
func New(cfg Config, ns *namespace.Namespace, log *logrus.Entry) *Server {
	reg := registry.New()
	return &Server{
		cfg:      cfg,
		registry: reg,
		ns:       ns,
		engine:   replication.New(reg, ns, log.WithField("subcomponent", "replication")),
		log:      log,
		stop:     make(chan struct{}),
	}
}

// ListenAndServe binds addr, starts the Failure Detector, and accepts
// connections until Stop is called or the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding master listener on %s: %w", addr, err)
	}
	s.listener = ln
	s.log.WithField("addr", addr).Info("master listening")

	go s.failureDetectorLoop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stop:
				return nil
			default:
				return fmt.Errorf("accept failed: %w", err)
			}
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener, ending ListenAndServe's accept loop.
func (s *Server) Stop() {
	close(s.stop)
	if s.listener != nil {
		s.listener.Close()
	}
}

// failureDetectorLoop is the Master's 1s-tick background task (§4.4/§5). It
// never holds the Registry/Namespace locks across the dispatch of
// Replication Engine work: ExpireTimedOut and EvictNodeFromChunk each take
// and release their own lock, and the replication goroutines take theirs
// fresh when they run, which is how the "nested acquisitions must not
// deadlock" contract is honored without a recursive mutex (§5).
func (s *Server) failureDetectorLoop() {
	ticker := time.NewTicker(s.cfg.FailureTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.detectFailures()
		case <-s.stop:
			return
		}
	}
}

func (s *Server) detectFailures() {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("recovered from panic in failure detector tick")
		}
	}()

	expired := s.registry.ExpireTimedOut(s.cfg.NodeTimeout)
	for _, nodeID := range expired {
		s.log.WithField("node_id", nodeID).Warn("node timed out, marking OFFLINE")
		s.handleNodeFailure(nodeID)
	}
}

// handleNodeFailure finds every chunk the failed node held and dispatches
// one Replication Engine goroutine per chunk (§4.4, §4.6).
func (s *Server) handleNodeFailure(nodeID string) {
	chunks := s.ns.ChunksOnNode(nodeID)
	for _, chunkID := range chunks {
		remaining, ok := s.ns.EvictNodeFromChunk(chunkID, nodeID)
		if !ok {
			continue // chunk's file was deleted concurrently; nothing to replicate
		}
		go s.engine.Replicate(chunkID, remaining)
	}
}
