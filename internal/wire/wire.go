// Package wire implements the length-prefixed JSON framing shared by the
// Master, Node, and Client: a 4-byte big-endian length followed by that many
// bytes of UTF-8 JSON, with bulk chunk bytes (when the message type calls for
// them) following immediately after.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize bounds a single JSON envelope so a malformed or hostile length
// prefix can't make us allocate unbounded memory before we even parse it.
const maxFrameSize = 64 * 1024 * 1024

// WriteFrame writes a 4-byte big-endian length prefix followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("writing frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads a length-prefixed payload. A short read at any point is
// peer-closed and is reported as an error rather than a partial frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("reading frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return payload, nil
}

// SendJSON marshals v and writes it as a single frame.
func SendJSON(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReadJSON reads one frame and unmarshals it into v.
func ReadJSON(r io.Reader, v interface{}) error {
	payload, err := ReadFrame(r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("unmarshalling message: %w", err)
	}
	return nil
}

// WriteBulk writes raw chunk bytes following a JSON envelope.
func WriteBulk(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing bulk data: %w", err)
	}
	return nil
}

// ReadBulk reads exactly size raw bytes following a JSON envelope.
func ReadBulk(r io.Reader, size int64) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("reading bulk data: %w", err)
	}
	return data, nil
}

// Envelope is the minimal shape every structured message shares, used to
// sniff the message type before unmarshalling into the concrete request.
type Envelope struct {
	Type string `json:"type"`
}

// ReadEnvelope reads one frame and returns both its raw bytes and its
// sniffed Type, so a caller can dispatch on Type and then json.Unmarshal the
// same raw bytes into the concrete request struct, without issuing a second
// ReadFrame (which would block waiting for a frame that was never sent).
func ReadEnvelope(r io.Reader) (raw []byte, typ string, err error) {
	raw, err = ReadFrame(r)
	if err != nil {
		return nil, "", err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("unmarshalling envelope: %w", err)
	}
	return raw, env.Type, nil
}
