// Package node implements the Node server: the Chunk Store request handler
// (STORE_CHUNK/RETRIEVE_CHUNK/DELETE_CHUNK) and the Heartbeat Emitter.
// Grounded on original_source/node.py's NodeServer (handle_client dispatch,
// heartbeat_loop, get_stats) and the teacher's internal/p2p/tcp_network.go
// accept-loop shape.
package node

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devraj/shardfs/internal/chunkstore"
	"github.com/devraj/shardfs/internal/wire"
)

// Config is the subset of configuration a Node needs to run.
type Config struct {
	NodeID            string
	Port              int
	MasterAddr        string
	StorageRoot       string
	ChunkCompression  bool
	HeartbeatInterval time.Duration
}

// Server is a single Node process.
type Server struct {
	cfg     Config
	store   *chunkstore.Store
	log     *logrus.Entry
	sampler *statSampler

	listener net.Listener
	stop     chan struct{}
}

// New constructs a Server, creating its per-Node storage directory
// (<storage_root>/node_<node_id>) up front the way original_source/node.py's
// __init__ does with os.makedirs.
func New(cfg Config, log *logrus.Entry) (*Server, error) {
	store, err := chunkstore.New(cfg.StorageRoot, cfg.NodeID, cfg.ChunkCompression)
	if err != nil {
		return nil, fmt.Errorf("initializing chunk store: %w", err)
	}
	log.WithFields(logrus.Fields{"node_id": cfg.NodeID, "storage": cfg.StorageRoot}).Info("node initialized")
	return &Server{
		cfg:     cfg,
		store:   store,
		log:     log,
		sampler: newStatSampler(),
		stop:    make(chan struct{}),
	}, nil
}

// ListenAndServe binds 0.0.0.0:Port, starts the Heartbeat Emitter, and
// accepts connections until Stop is called.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding node listener on %s: %w", addr, err)
	}
	s.listener = ln
	s.log.WithField("addr", addr).Info("node listening")

	go s.heartbeatLoop()

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

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	raw, typ, err := wire.ReadEnvelope(conn)
	if err != nil {
		s.log.WithField("err", err).Debug("connection closed before a full request arrived")
		return
	}

	log := s.log.WithField("type", typ)

	switch typ {
	case wire.TypeStoreChunk:
		s.handleStoreChunk(conn, raw, log)
	case wire.TypeRetrieveChunk:
		s.handleRetrieveChunk(conn, raw, log)
	case wire.TypeDeleteChunk:
		s.handleDeleteChunk(conn, raw, log)
	default:
		log.Warn("unrecognized command")
	}
}

// handleStoreChunk reads size raw bytes after the envelope and persists
// them via the Chunk Store, replying with the plaintext checksum (§4.2,
// §6). The checksum is computed by chunkstore.Store over plaintext even
// when ChunkCompression writes a compressed file to disk.
func (s *Server) handleStoreChunk(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.StoreChunkRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed STORE_CHUNK")
		return
	}

	data, err := wire.ReadBulk(conn, req.Size)
	if err != nil {
		log.WithField("err", err).Error("failed to receive chunk data")
		return
	}

	checksum, err := s.store.Store(req.ChunkID, data)
	if err != nil {
		log.WithField("err", err).Error("failed to persist chunk")
		wire.SendJSON(conn, wire.StoreChunkResponse{Status: wire.StatusError, Message: err.Error()})
		return
	}

	log.WithFields(logrus.Fields{"chunk_id": req.ChunkID, "size": req.Size, "checksum": checksum[:8]}).Info("stored chunk")
	wire.SendJSON(conn, wire.StoreChunkResponse{Status: wire.StatusOK, Checksum: checksum})
}

// handleRetrieveChunk replies with {status, size} followed by size raw
// bytes, or an ERROR status if the chunk is unknown (§4.2, §6).
func (s *Server) handleRetrieveChunk(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.RetrieveChunkRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed RETRIEVE_CHUNK")
		return
	}

	data, err := s.store.Retrieve(req.ChunkID)
	if err != nil {
		if errors.Is(err, chunkstore.ErrChunkNotFound) {
			wire.SendJSON(conn, wire.RetrieveChunkResponse{Status: wire.StatusError, Message: "Chunk not found"})
			return
		}
		log.WithField("err", err).Error("failed to read chunk")
		wire.SendJSON(conn, wire.RetrieveChunkResponse{Status: wire.StatusError, Message: err.Error()})
		return
	}

	if err := wire.SendJSON(conn, wire.RetrieveChunkResponse{Status: wire.StatusOK, Size: int64(len(data))}); err != nil {
		log.WithField("err", err).Warn("failed to send RETRIEVE_CHUNK header")
		return
	}
	if err := wire.WriteBulk(conn, data); err != nil {
		log.WithField("err", err).Warn("failed to stream chunk bytes")
		return
	}
	log.WithField("chunk_id", req.ChunkID).Info("served chunk")
}

// handleDeleteChunk replies OK whether or not the chunk existed: delete is
// idempotent (§8, mirroring original_source/node.py's handle_delete_chunk).
// A disk error other than the chunk being absent is replied to as ERROR.
func (s *Server) handleDeleteChunk(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.DeleteChunkRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed DELETE_CHUNK")
		return
	}

	if err := s.store.Delete(req.ChunkID); err != nil {
		log.WithField("err", err).Error("failed to delete chunk")
		wire.SendJSON(conn, wire.DeleteChunkResponse{Status: wire.StatusError, Message: err.Error()})
		return
	}
	log.WithField("chunk_id", req.ChunkID).Info("deleted chunk")
	wire.SendJSON(conn, wire.DeleteChunkResponse{Status: wire.StatusOK})
}

// heartbeatLoop opens a fresh connection to Master every HeartbeatInterval
// and sends HEARTBEAT; no reply is read (§4.3, §9: fire-and-forget).
// Connection failures are logged and retried on the next tick, matching
// original_source/node.py's heartbeat_loop which never exits the process on
// a connection refusal.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sendHeartbeat()
		case <-s.stop:
			return
		}
	}
}

func (s *Server) sendHeartbeat() {
	stats := s.sampler.sample(storageDir(s.cfg.StorageRoot, s.cfg.NodeID))

	conn, err := net.DialTimeout("tcp", s.cfg.MasterAddr, 5*time.Second)
	if err != nil {
		s.log.WithField("err", err).Warn("could not connect to master for heartbeat")
		return
	}
	defer conn.Close()

	req := wire.HeartbeatRequest{Type: wire.TypeHeartbeat, NodeID: s.cfg.NodeID, Port: s.cfg.Port, Stats: stats}
	if err := wire.SendJSON(conn, req); err != nil {
		s.log.WithField("err", err).Warn("failed to send heartbeat")
	}
}

func storageDir(root, nodeID string) string {
	dir := fmt.Sprintf("%s/node_%s", root, nodeID)
	if _, err := os.Stat(dir); err != nil {
		return root
	}
	return dir
}
