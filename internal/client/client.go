// Package client implements the DFS Client's operations: upload, download,
// list, delete, and stats. Grounded on original_source/client_app.py's
// DFSClient class (the GUI wrapper is out of scope per spec §1's desktop-GUI
// Non-goal; only the networking methods are reimplemented), generalized with
// the teacher's temp-file-then-rename download pattern from
// internal/dfs/dfs_core.go.
package client

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devraj/shardfs/internal/wire"
)

// Client talks to one Master over fresh, per-request TCP connections,
// matching the original's "with socket(...) as sock" per-call lifecycle.
type Client struct {
	masterAddr string
	blockSize  int64
	dialTO     time.Duration
	log        *logrus.Entry
}

// New returns a Client configured to contact masterAddr. blockSize must
// match the Master's configured BlockSize so the Client reads exactly the
// number of bytes each planned chunk expects.
func New(masterAddr string, blockSize int64, log *logrus.Entry) *Client {
	return &Client{masterAddr: masterAddr, blockSize: blockSize, dialTO: 10 * time.Second, log: log}
}

func (c *Client) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.masterAddr, c.dialTO)
	if err != nil {
		return nil, fmt.Errorf("connecting to master at %s: %w", c.masterAddr, err)
	}
	return conn, nil
}

// GetStats fetches the Master's current Registry snapshot.
func (c *Client) GetStats() (wire.GetStatsResponse, error) {
	conn, err := c.dial()
	if err != nil {
		return wire.GetStatsResponse{}, err
	}
	defer conn.Close()

	if err := wire.SendJSON(conn, wire.GetStatsRequest{Type: wire.TypeGetStats}); err != nil {
		return wire.GetStatsResponse{}, fmt.Errorf("sending GET_STATS: %w", err)
	}
	var resp wire.GetStatsResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return wire.GetStatsResponse{}, fmt.Errorf("reading GET_STATS response: %w", err)
	}
	return resp, nil
}

// ListFiles fetches the Master's file table.
func (c *Client) ListFiles() ([]wire.FileInfo, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := wire.SendJSON(conn, wire.ListFilesRequest{Type: wire.TypeListFiles}); err != nil {
		return nil, fmt.Errorf("sending LIST_FILES: %w", err)
	}
	var resp wire.ListFilesResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return nil, fmt.Errorf("reading LIST_FILES response: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("master returned error listing files")
	}
	return resp.Files, nil
}

// DeleteFile removes filename from the Master's namespace.
func (c *Client) DeleteFile(filename string) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := wire.SendJSON(conn, wire.DeleteFileRequest{Type: wire.TypeDeleteFile, Filename: filename}); err != nil {
		return fmt.Errorf("sending DELETE_FILE: %w", err)
	}
	var resp wire.StatusResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return fmt.Errorf("reading DELETE_FILE response: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("delete failed: %s", resp.Message)
	}
	return nil
}

// UploadFile splits localPath into the chunks the Master's placement plan
// describes, stores each on every Node the plan names, and commits the
// realized placement via UPLOAD_SUCCESS (§4.2, §4.5).
func (c *Client) UploadFile(localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating local file: %w", err)
	}
	filename := filepath.Base(localPath)
	filesize := info.Size()

	plan, err := c.uploadInit(filename, filesize)
	if err != nil {
		return err
	}

	placements := make([]wire.ChunkPlacement, 0, len(plan))
	buf := make([]byte, c.blockSize)
	for _, chunk := range plan {
		data, err := readChunk(f, buf)
		if err != nil {
			return err
		}

		var placedOn []wire.Addr
		for _, addr := range chunk.Nodes {
			if err := c.storeChunk(addr, chunk.ChunkID, data); err != nil {
				c.log.WithFields(logrus.Fields{"chunk_id": chunk.ChunkID, "node": addr, "err": err}).Warn("failed to store chunk replica")
				continue
			}
			placedOn = append(placedOn, addr)
			c.log.WithFields(logrus.Fields{"chunk_id": chunk.ChunkID, "node": addr}).Info("chunk placed")
		}
		if len(placedOn) == 0 {
			return fmt.Errorf("failed to store chunk %s on any node", chunk.ChunkID)
		}
		placements = append(placements, wire.ChunkPlacement{ChunkID: chunk.ChunkID, Nodes: placedOn})
	}

	return c.uploadSuccess(filename, filesize, placements)
}

// readChunk reads up to len(buf) bytes from f, matching
// original_source/client_app.py's `f.read(BLOCK_SIZE)`: chunks are read
// sequentially in plan order, so the file's cursor position is all the
// state needed between calls.
func readChunk(f *os.File, buf []byte) ([]byte, error) {
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("reading chunk bytes: %w", err)
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, nil
}

func (c *Client) uploadInit(filename string, filesize int64) ([]wire.ChunkPlan, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := wire.SendJSON(conn, wire.UploadInitRequest{Type: wire.TypeUploadInit, Filename: filename, Filesize: filesize}); err != nil {
		return nil, fmt.Errorf("sending UPLOAD_INIT: %w", err)
	}
	var resp wire.UploadInitResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return nil, fmt.Errorf("reading UPLOAD_INIT response: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("upload rejected: %s", resp.Message)
	}
	return resp.Chunks, nil
}

func (c *Client) uploadSuccess(filename string, filesize int64, placements []wire.ChunkPlacement) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	req := wire.UploadSuccessRequest{
		Type: wire.TypeUploadSuccess, Filename: filename, Filesize: filesize, ChunksPlaced: placements,
	}
	return wire.SendJSON(conn, req)
}

func (c *Client) storeChunk(addr wire.Addr, chunkID string, data []byte) error {
	conn, err := net.DialTimeout("tcp", addr.String(), c.dialTO)
	if err != nil {
		return fmt.Errorf("dialing node %s: %w", addr, err)
	}
	defer conn.Close()

	req := wire.StoreChunkRequest{Type: wire.TypeStoreChunk, ChunkID: chunkID, Size: int64(len(data))}
	if err := wire.SendJSON(conn, req); err != nil {
		return fmt.Errorf("sending STORE_CHUNK: %w", err)
	}
	if err := wire.WriteBulk(conn, data); err != nil {
		return fmt.Errorf("streaming chunk bytes: %w", err)
	}
	var resp wire.StoreChunkResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return fmt.Errorf("reading STORE_CHUNK ack: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("node refused chunk: %s", resp.Message)
	}
	return nil
}

// DownloadFile fetches filename's chunks in order and writes them to
// savePath. Per §9's design note, bytes are written to a temp file in the
// same directory and renamed into place only once every chunk has arrived,
// so a failed download never leaves a partial file at savePath.
func (c *Client) DownloadFile(filename, savePath string) error {
	conn, err := c.dial()
	if err != nil {
		return err
	}
	if err := wire.SendJSON(conn, wire.DownloadReqRequest{Type: wire.TypeDownloadReq, Filename: filename}); err != nil {
		conn.Close()
		return fmt.Errorf("sending DOWNLOAD_REQ: %w", err)
	}
	var resp wire.DownloadReqResponse
	err = wire.ReadJSON(conn, &resp)
	conn.Close()
	if err != nil {
		return fmt.Errorf("reading DOWNLOAD_REQ response: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("download rejected: %s", resp.Message)
	}

	dir := filepath.Dir(savePath)
	tmp, err := os.CreateTemp(dir, ".shardfs-download-*")
	if err != nil {
		return fmt.Errorf("creating temp download file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmpPath)
		}
	}()

	for _, chunk := range resp.Chunks {
		data, err := c.fetchChunkFromAny(chunk)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.ChunkID, err)
		}
		if _, err := tmp.Write(data); err != nil {
			return fmt.Errorf("writing chunk bytes to temp file: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp download file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp download file: %w", err)
	}
	if err := os.Rename(tmpPath, savePath); err != nil {
		return fmt.Errorf("renaming temp download file into place: %w", err)
	}
	success = true
	return nil
}

// fetchChunkFromAny tries every replica address in order, returning the
// first successful retrieval, matching original_source/client_app.py's
// download_file loop over chunk_data_item['nodes'].
func (c *Client) fetchChunkFromAny(chunk wire.ChunkPlan) ([]byte, error) {
	var lastErr error
	for _, addr := range chunk.Nodes {
		data, err := c.fetchChunk(addr, chunk.ChunkID)
		if err != nil {
			lastErr = err
			c.log.WithFields(logrus.Fields{"chunk_id": chunk.ChunkID, "node": addr, "err": err}).Warn("failed to fetch chunk replica, trying next")
			continue
		}
		return data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no replicas available")
	}
	return nil, fmt.Errorf("could not retrieve chunk from any replica: %w", lastErr)
}

func (c *Client) fetchChunk(addr wire.Addr, chunkID string) ([]byte, error) {
	conn, err := net.DialTimeout("tcp", addr.String(), c.dialTO)
	if err != nil {
		return nil, fmt.Errorf("dialing node %s: %w", addr, err)
	}
	defer conn.Close()

	if err := wire.SendJSON(conn, wire.RetrieveChunkRequest{Type: wire.TypeRetrieveChunk, ChunkID: chunkID}); err != nil {
		return nil, fmt.Errorf("sending RETRIEVE_CHUNK: %w", err)
	}
	var resp wire.RetrieveChunkResponse
	if err := wire.ReadJSON(conn, &resp); err != nil {
		return nil, fmt.Errorf("reading RETRIEVE_CHUNK response: %w", err)
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("node refused chunk: %s", resp.Message)
	}
	return wire.ReadBulk(conn, resp.Size)
}
