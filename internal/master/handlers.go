package master

import (
	"encoding/json"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devraj/shardfs/internal/placement"
	"github.com/devraj/shardfs/internal/registry"
	"github.com/devraj/shardfs/internal/wire"
)

// handleConn reads exactly one request per connection and writes exactly
// one response, matching original_source/master.py's handle_client (the
// Client/Node both open a fresh connection per request).
func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	raw, typ, err := wire.ReadEnvelope(conn)
	if err != nil {
		s.log.WithField("err", err).Debug("connection closed before a full request arrived")
		return
	}

	log := s.log.WithField("type", typ)

	switch typ {
	case wire.TypeHeartbeat:
		s.handleHeartbeat(conn, raw, log)
	case wire.TypeGetStats:
		s.handleGetStats(conn, log)
	case wire.TypeUploadInit:
		s.handleUploadInit(conn, raw, log)
	case wire.TypeUploadSuccess:
		s.handleUploadSuccess(conn, raw, log)
	case wire.TypeDownloadReq:
		s.handleDownloadReq(conn, raw, log)
	case wire.TypeListFiles:
		s.handleListFiles(conn, log)
	case wire.TypeDeleteFile:
		s.handleDeleteFile(conn, raw, log)
	default:
		log.Warn("unrecognized message type")
		wire.SendJSON(conn, wire.StatusResponse{Status: wire.StatusError, Message: "Unknown command"})
	}
}

// handleHeartbeat admits or refreshes a Node's Registry entry (§4.1, §4.3).
// The connection carries no reply; the Node treats the heartbeat as
// fire-and-forget, so we just close once the Registry is updated.
func (s *Server) handleHeartbeat(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.HeartbeatRequest
	if err := unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed HEARTBEAT")
		return
	}
	addr := wire.Addr{Host: hostOf(conn), Port: req.Port}
	s.registry.Upsert(req.NodeID, addr, req.Stats)
}

// handleGetStats returns a snapshot of every known Node (§4.7).
func (s *Server) handleGetStats(conn net.Conn, log *logrus.Entry) {
	all := s.registry.All()
	nodes := make(map[string]wire.NodeRecordView, len(all))
	for id, rec := range all {
		nodes[id] = wire.NodeRecordView{
			Address:       rec.Address,
			LastHeartbeat: rec.LastHeartbeat.UTC().Format(time.RFC3339),
			Status:        rec.Status,
			Stats:         rec.Stats,
		}
	}
	if err := wire.SendJSON(conn, wire.GetStatsResponse{Status: wire.StatusOK, Nodes: nodes}); err != nil {
		log.WithField("err", err).Warn("failed to send GET_STATS response")
	}
}

// handleUploadInit plans chunk placement for a new upload without touching
// the Namespace yet; the Namespace is only updated once UPLOAD_SUCCESS
// arrives (§4.5, §4.2 scenario "client dies mid-upload" stays metadata-free).
func (s *Server) handleUploadInit(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.UploadInitRequest
	if err := unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed UPLOAD_INIT")
		wire.SendJSON(conn, wire.UploadInitResponse{Status: wire.StatusError, Message: "malformed request"})
		return
	}

	online := s.registry.OnlineNodeIDs()
	if len(online) == 0 {
		wire.SendJSON(conn, wire.UploadInitResponse{Status: wire.StatusError, Message: "No online nodes"})
		return
	}

	numChunks := placement.NumChunks(req.Filesize, s.cfg.BlockSize)
	plans := make([]wire.ChunkPlan, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		chunkID := placement.NewChunkID(req.Filename, i)
		replicaIDs := placement.SampleReplicas(online, s.cfg.ReplicationFactor)
		nodes := make([]wire.Addr, 0, len(replicaIDs))
		for _, id := range replicaIDs {
			if rec, ok := s.registry.Get(id); ok {
				nodes = append(nodes, rec.Address)
			}
		}
		plans = append(plans, wire.ChunkPlan{ChunkID: chunkID, Nodes: nodes})
	}

	if err := wire.SendJSON(conn, wire.UploadInitResponse{Status: wire.StatusOK, Chunks: plans}); err != nil {
		log.WithField("err", err).Warn("failed to send UPLOAD_INIT response")
	}
}

// handleUploadSuccess commits the plan the Client actually realized (§4.5
// step 5). It is intentionally accepted without a reply: the teacher's
// protocol and original_source/client_app.py both treat this as fire-and-
// forget once every STORE_CHUNK ack has already confirmed success to the
// Client, so the Master's write failing is surfaced only via its own logs.
func (s *Server) handleUploadSuccess(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.UploadSuccessRequest
	if err := unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed UPLOAD_SUCCESS")
		return
	}

	chunkIDs := make([]string, 0, len(req.ChunksPlaced))
	locations := make(map[string][]string, len(req.ChunksPlaced))
	for _, placementInfo := range req.ChunksPlaced {
		chunkIDs = append(chunkIDs, placementInfo.ChunkID)
		nodeIDs := make([]string, 0, len(placementInfo.Nodes))
		for _, addr := range placementInfo.Nodes {
			if id, ok := s.registry.ResolveAddress(addr); ok {
				nodeIDs = append(nodeIDs, id)
			}
		}
		locations[placementInfo.ChunkID] = nodeIDs
	}

	if err := s.ns.CommitUpload(req.Filename, req.Filesize, chunkIDs, locations); err != nil {
		log.WithFields(logrus.Fields{"filename": req.Filename, "err": err}).Error("failed to persist upload metadata")
	}
}

// handleDownloadReq returns the chunk plan the Client needs to reassemble a
// file (§4.2 "download" scenario).
func (s *Server) handleDownloadReq(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.DownloadReqRequest
	if err := unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed DOWNLOAD_REQ")
		wire.SendJSON(conn, wire.DownloadReqResponse{Status: wire.StatusError, Message: "malformed request"})
		return
	}

	file, ok := s.ns.GetFile(req.Filename)
	if !ok {
		wire.SendJSON(conn, wire.DownloadReqResponse{Status: wire.StatusError, Message: "file not found"})
		return
	}

	plans := make([]wire.ChunkPlan, 0, len(file.Chunks))
	for _, chunkID := range file.Chunks {
		locIDs, _ := s.ns.ChunkLocations(chunkID)
		nodes := make([]wire.Addr, 0, len(locIDs))
		for _, id := range locIDs {
			if rec, ok := s.registry.Get(id); ok && rec.Status == registry.StatusOnline {
				nodes = append(nodes, rec.Address)
			}
		}
		if len(nodes) == 0 {
			wire.SendJSON(conn, wire.DownloadReqResponse{Status: wire.StatusError, Message: "Data unavailable"})
			return
		}
		plans = append(plans, wire.ChunkPlan{ChunkID: chunkID, Nodes: nodes})
	}

	if err := wire.SendJSON(conn, wire.DownloadReqResponse{Status: wire.StatusOK, Filesize: file.Size, Chunks: plans}); err != nil {
		log.WithField("err", err).Warn("failed to send DOWNLOAD_REQ response")
	}
}

// handleListFiles returns every known file and its size (§4.7).
func (s *Server) handleListFiles(conn net.Conn, log *logrus.Entry) {
	files := s.ns.ListFiles()
	out := make([]wire.FileInfo, 0, len(files))
	for name, size := range files {
		out = append(out, wire.FileInfo{Filename: name, Size: size, Status: "Available"})
	}
	if err := wire.SendJSON(conn, wire.ListFilesResponse{Status: wire.StatusOK, Files: out}); err != nil {
		log.WithField("err", err).Warn("failed to send LIST_FILES response")
	}
}

// handleDeleteFile removes the file from the Namespace and then, best
// effort and asynchronously, asks every ONLINE replica holding one of its
// chunks to delete its copy (§4.2 "delete" scenario). The Client only waits on the
// Namespace mutation, matching original_source/master.py's handle_delete_file
// which responds before cleanup finishes.
func (s *Server) handleDeleteFile(conn net.Conn, raw []byte, log *logrus.Entry) {
	var req wire.DeleteFileRequest
	if err := unmarshal(raw, &req); err != nil {
		log.WithField("err", err).Warn("malformed DELETE_FILE")
		wire.SendJSON(conn, wire.StatusResponse{Status: wire.StatusError, Message: "malformed request"})
		return
	}

	chunkLocations, err := s.ns.DeleteFile(req.Filename)
	if err != nil {
		wire.SendJSON(conn, wire.StatusResponse{Status: wire.StatusError, Message: "File not found"})
		return
	}

	if err := wire.SendJSON(conn, wire.StatusResponse{Status: wire.StatusOK}); err != nil {
		log.WithField("err", err).Warn("failed to send DELETE_FILE response")
	}

	go s.cleanupChunks(req.Filename, chunkLocations, log)
}

// cleanupChunks sends DELETE_CHUNK to every currently ONLINE node that held
// a chunk of the deleted file; nodes that are OFFLINE or unknown to the
// Registry are skipped. Failures are logged and otherwise ignored: a chunk left
// behind on an unreachable node is orphaned disk space, not a correctness
// problem, since the Namespace no longer references it.
func (s *Server) cleanupChunks(filename string, chunkLocations map[string][]string, log *logrus.Entry) {
	for chunkID, nodeIDs := range chunkLocations {
		for _, nodeID := range nodeIDs {
			rec, ok := s.registry.Get(nodeID)
			if !ok || rec.Status != registry.StatusOnline {
				continue
			}
			if err := s.sendDeleteChunk(rec.Address, chunkID); err != nil {
				log.WithFields(logrus.Fields{
					"filename": filename, "chunk_id": chunkID, "node_id": nodeID, "err": err,
				}).Warn("failed to clean up chunk replica after file delete")
			}
		}
	}
}

func (s *Server) sendDeleteChunk(addr wire.Addr, chunkID string) error {
	conn, err := net.DialTimeout("tcp", addr.String(), 10*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.SendJSON(conn, wire.DeleteChunkRequest{Type: wire.TypeDeleteChunk, ChunkID: chunkID}); err != nil {
		return err
	}
	var resp wire.DeleteChunkResponse
	return wire.ReadJSON(conn, &resp)
}

func hostOf(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}

func unmarshal(raw []byte, v interface{}) error {
	return json.Unmarshal(raw, v)
}
