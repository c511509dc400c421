package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// FrameHeaderSize is the size of the big-endian length prefix.
const FrameHeaderSize = 4

// MaxFrameSize caps a single frame body. Chunk payloads stay under 6 KiB
// after base64, so anything near this limit is a corrupt or hostile header.
const MaxFrameSize = 1 << 20

// ChunkSize is the number of raw bytes carried per transfer chunk before
// base64 encoding.
const ChunkSize = 4096

// Envelope is the minimal decode used to route a frame to its handler.
type Envelope struct {
	Type string `json:"type"`
}

// ReadFrame reads one length-prefixed frame body from r.
// A clean close before the first header byte returns io.EOF; a partial
// header or body surfaces as io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	bodyLen := binary.BigEndian.Uint32(header[:])
	if bodyLen == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if bodyLen > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", bodyLen, MaxFrameSize)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// WriteFrame writes body to w prefixed with its 4-byte big-endian length.
// Header and body go out in a single Write so concurrent writers cannot
// interleave a torn frame.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame length %d exceeds limit %d", len(body), MaxFrameSize)
	}
	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[:FrameHeaderSize], uint32(len(body)))
	copy(buf[FrameHeaderSize:], body)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Encode marshals v into a complete frame including the length prefix,
// ready to hand to a writer goroutine.
func Encode(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", len(body), MaxFrameSize)
	}
	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[:FrameHeaderSize], uint32(len(body)))
	copy(buf[FrameHeaderSize:], body)
	return buf, nil
}

// WriteMessage marshals v and writes it as one frame.
func WriteMessage(w io.Writer, v any) error {
	buf, err := Encode(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadMessage reads one frame and returns its message kind along with the
// raw body for the handler to unmarshal into its request type.
func ReadMessage(r io.Reader) (string, []byte, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return "", nil, err
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", nil, fmt.Errorf("decoding message envelope: %w", err)
	}
	if env.Type == "" {
		return "", nil, fmt.Errorf("message without type field")
	}
	return env.Type, body, nil
}
