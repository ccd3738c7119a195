package wire

import (
	"encoding/json"
	"fmt"
)

// Message types, matching the wire protocol in §6 exactly.
const (
	TypeHeartbeat     = "HEARTBEAT"
	TypeGetStats      = "GET_STATS"
	TypeUploadInit    = "UPLOAD_INIT"
	TypeUploadSuccess = "UPLOAD_SUCCESS"
	TypeDownloadReq   = "DOWNLOAD_REQ"
	TypeListFiles     = "LIST_FILES"
	TypeDeleteFile    = "DELETE_FILE"

	TypeStoreChunk    = "STORE_CHUNK"
	TypeRetrieveChunk = "RETRIEVE_CHUNK"
	TypeDeleteChunk   = "DELETE_CHUNK"
)

// Status values used in every reply envelope.
const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Addr is a (host, port) pair. It marshals as a two-element JSON array
// ("[host, port]") to match the wire contract the Python original and the
// documented Client speak, rather than as a {"host":...,"port":...} object.
type Addr struct {
	Host string
	Port int
}

func (a Addr) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{a.Host, a.Port})
}

func (a *Addr) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("addr must be a [host, port] array: %w", err)
	}
	if len(tuple) != 2 {
		return fmt.Errorf("addr array must have exactly 2 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &a.Host); err != nil {
		return fmt.Errorf("addr host: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &a.Port); err != nil {
		return fmt.Errorf("addr port: %w", err)
	}
	return nil
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Stats is the capacity/liveness snapshot a Node reports on every heartbeat.
type Stats struct {
	CPUPercent  float64 `json:"cpu"`
	RAMPercent  float64 `json:"ram_percent"`
	RAMUsed     uint64  `json:"ram_used"`
	DiskPercent float64 `json:"disk_percent"`
	DiskFree    uint64  `json:"disk_free"`
}

// HeartbeatRequest: Node -> Master, no reply expected.
type HeartbeatRequest struct {
	Type   string `json:"type"`
	NodeID string `json:"node_id"`
	Port   int    `json:"port"`
	Stats  Stats  `json:"stats"`
}

// GetStatsRequest: Client -> Master.
type GetStatsRequest struct {
	Type string `json:"type"`
}

// NodeRecordView is the GET_STATS wire shape of one Registry entry: it
// mirrors the original Python's handle_get_stats reply (address, an RFC3339
// last_heartbeat, status, stats) verbatim rather than a Go-internal shape.
type NodeRecordView struct {
	Address       Addr   `json:"address"`
	LastHeartbeat string `json:"last_heartbeat"`
	Status        string `json:"status"`
	Stats         Stats  `json:"stats"`
}

// GetStatsResponse: Master -> Client.
type GetStatsResponse struct {
	Status  string                    `json:"status"`
	Nodes   map[string]NodeRecordView `json:"nodes"`
	Message string                    `json:"message,omitempty"`
}

// UploadInitRequest: Client -> Master.
type UploadInitRequest struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// ChunkPlan is one entry of the placement plan UPLOAD_INIT returns: a chunk
// id paired with the replica addresses the Client should write to.
type ChunkPlan struct {
	ChunkID string `json:"chunk_id"`
	Nodes   []Addr `json:"nodes"`
}

// UploadInitResponse: Master -> Client.
type UploadInitResponse struct {
	Status  string      `json:"status"`
	Chunks  []ChunkPlan `json:"chunks,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ChunkPlacement is what the Client reports back in UPLOAD_SUCCESS: which
// addresses it actually stored each chunk on.
type ChunkPlacement struct {
	ChunkID string `json:"chunk_id"`
	Nodes   []Addr `json:"nodes"`
}

// UploadSuccessRequest: Client -> Master, fire-and-forget (§9).
type UploadSuccessRequest struct {
	Type         string           `json:"type"`
	Filename     string           `json:"filename"`
	Filesize     int64            `json:"filesize"`
	ChunksPlaced []ChunkPlacement `json:"chunks_placed"`
}

// DownloadReqRequest: Client -> Master.
type DownloadReqRequest struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

// DownloadReqResponse: Master -> Client.
type DownloadReqResponse struct {
	Status   string      `json:"status"`
	Filesize int64       `json:"filesize,omitempty"`
	Chunks   []ChunkPlan `json:"chunks,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// ListFilesRequest: Client -> Master.
type ListFilesRequest struct {
	Type string `json:"type"`
}

// FileInfo is one LIST_FILES entry.
type FileInfo struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Status   string `json:"status"`
}

// ListFilesResponse: Master -> Client.
type ListFilesResponse struct {
	Status string     `json:"status"`
	Files  []FileInfo `json:"files"`
}

// DeleteFileRequest: Client -> Master.
type DeleteFileRequest struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

// StatusResponse is the bare {status, message?} reply shape used by
// DELETE_FILE and by unrecognised-command replies.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StoreChunkRequest: Client/Master -> Node, followed by Size raw bytes.
type StoreChunkRequest struct {
	Type    string `json:"type"`
	ChunkID string `json:"chunk_id"`
	Size    int64  `json:"size"`
}

// StoreChunkResponse: Node -> Client/Master.
type StoreChunkResponse struct {
	Status   string `json:"status"`
	Checksum string `json:"checksum,omitempty"`
	Message  string `json:"message,omitempty"`
}

// RetrieveChunkRequest: Client/Master -> Node.
type RetrieveChunkRequest struct {
	Type    string `json:"type"`
	ChunkID string `json:"chunk_id"`
}

// RetrieveChunkResponse is the JSON header; Size raw bytes follow on OK.
type RetrieveChunkResponse struct {
	Status  string `json:"status"`
	Size    int64  `json:"size,omitempty"`
	Message string `json:"message,omitempty"`
}

// DeleteChunkRequest: Client/Master -> Node.
type DeleteChunkRequest struct {
	Type    string `json:"type"`
	ChunkID string `json:"chunk_id"`
}

// DeleteChunkResponse: Node -> Client/Master. OK whether or not the chunk
// existed (delete is idempotent); ERROR only on a disk failure.
type DeleteChunkResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
