package testutil

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
)

// Client drives one endpoint connection in tests: it dials, writes
// typed requests as length-prefixed frames and reads replies with a
// deadline, failing the test on any transport error.
type Client struct {
	t       testing.TB
	conn    net.Conn
	timeout time.Duration
}

// Dial connects to a lobby or developer endpoint and registers cleanup.
// Dialing retries with backoff and jitter: under mass connection churn
// the TCP stack may briefly run out of ephemeral ports.
func Dial(t testing.TB, addr string) *Client {
	t.Helper()

	var conn net.Conn
	var err error
	for attempt := range 10 {
		conn, err = net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			break
		}
		if attempt < 9 {
			base := time.Duration(20<<min(attempt, 6)) * time.Millisecond
			jitter := time.Duration(rand.IntN(int(base/2)+1)) * time.Millisecond
			time.Sleep(base + jitter)
		}
	}
	if err != nil {
		t.Fatalf("dialing %s: %v", addr, err)
	}

	// SO_LINGER=0 sends an immediate RST on close instead of lingering
	// in TIME_WAIT, which keeps ephemeral ports available for tests that
	// open many short-lived connections.
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetLinger(0); err != nil {
			_ = conn.Close()
			t.Fatalf("setting linger: %v", err)
		}
	}

	client := &Client{
		t:       t,
		conn:    conn,
		timeout: 5 * time.Second,
	}

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes v as one frame.
func (c *Client) Send(v any) {
	c.t.Helper()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		c.t.Fatalf("setting write deadline: %v", err)
	}
	if err := protocol.WriteMessage(c.conn, v); err != nil {
		c.t.Fatalf("writing message: %v", err)
	}
}

// Recv reads one frame and returns the decoded body as a generic map,
// keyed exactly as on the wire.
func (c *Client) Recv() map[string]any {
	c.t.Helper()

	body := c.recvBody()
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		c.t.Fatalf("decoding reply: %v", err)
	}
	return m
}

// RecvInto reads one frame and unmarshals it into v.
func (c *Client) RecvInto(v any) {
	c.t.Helper()

	if err := json.Unmarshal(c.recvBody(), v); err != nil {
		c.t.Fatalf("decoding reply into %T: %v", v, err)
	}
}

func (c *Client) recvBody() []byte {
	c.t.Helper()

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		c.t.Fatalf("setting read deadline: %v", err)
	}
	body, err := protocol.ReadFrame(c.conn)
	if err != nil {
		c.t.Fatalf("reading reply: %v", err)
	}
	return body
}

// Call writes v and returns the next reply as a map.
func (c *Client) Call(v any) map[string]any {
	c.t.Helper()

	c.Send(v)
	return c.Recv()
}

// ExpectSilence asserts that no frame arrives within d. Used for
// requests the server drops without replying, such as unknown kinds.
func (c *Client) ExpectSilence(d time.Duration) {
	c.t.Helper()

	if err := c.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		c.t.Fatalf("setting read deadline: %v", err)
	}
	body, err := protocol.ReadFrame(c.conn)
	if err == nil {
		c.t.Fatalf("expected no reply, got frame: %s", body)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		c.t.Fatalf("expected read timeout, got: %v", err)
	}
}

// Auth sends a credentials request of the given kind and returns the
// ack. Covers LOGIN, REGISTER and the developer variants.
func (c *Client) Auth(kind, username, password string) protocol.Ack {
	c.t.Helper()

	c.Send(protocol.Credentials{Type: kind, Username: username, Password: password})
	var ack protocol.Ack
	c.RecvInto(&ack)
	return ack
}

// Logout sends a logout request of the given kind and returns the ack.
func (c *Client) Logout(kind, username string) protocol.Ack {
	c.t.Helper()

	c.Send(protocol.UserRequest{Type: kind, Username: username})
	var ack protocol.Ack
	c.RecvInto(&ack)
	return ack
}

// SendChunks splits data into transfer chunks and writes them in order.
// Chunk frames are not individually acknowledged.
func (c *Client) SendChunks(kind, transferID string, data []byte) {
	c.t.Helper()

	for off := 0; off < len(data); off += protocol.ChunkSize {
		end := min(off+protocol.ChunkSize, len(data))
		c.Send(protocol.Chunk{
			Type:       kind,
			TransferID: transferID,
			ChunkData:  base64.StdEncoding.EncodeToString(data[off:end]),
		})
	}
}

// UploadGame runs a complete upload of zipData through the developer
// endpoint and returns the finish reply. The init step must succeed;
// tests exercising init failures drive the frames themselves.
func (c *Client) UploadGame(username, name, description string, zipData []byte) protocol.UploadFinishReply {
	c.t.Helper()

	c.Send(protocol.UploadInitRequest{
		Type:            protocol.TypeUploadInit,
		Username:        username,
		GameName:        name,
		GameDescription: description,
		FileSize:        int64(len(zipData)),
	})
	var init protocol.TransferInitReply
	c.RecvInto(&init)
	if !init.Success {
		c.t.Fatalf("upload init rejected: %s", init.Message)
	}

	c.SendChunks(protocol.TypeUploadChunk, init.TransferID, zipData)

	sum := md5.Sum(zipData)
	c.Send(protocol.Finish{
		Type:       protocol.TypeUploadFinish,
		TransferID: init.TransferID,
		Checksum:   hex.EncodeToString(sum[:]),
	})
	var fin protocol.UploadFinishReply
	c.RecvInto(&fin)
	return fin
}

// UpdateGame runs a complete update of zipData for gameID and returns
// the finish ack.
func (c *Client) UpdateGame(username, gameID, version string, zipData []byte) protocol.Ack {
	c.t.Helper()

	c.Send(protocol.UpdateInitRequest{
		Type:        protocol.TypeUpdateInit,
		Username:    username,
		GameID:      gameID,
		GameVersion: version,
		FileSize:    int64(len(zipData)),
	})
	var init protocol.TransferInitReply
	c.RecvInto(&init)
	if !init.Success {
		c.t.Fatalf("update init rejected: %s", init.Message)
	}

	c.SendChunks(protocol.TypeUpdateChunk, init.TransferID, zipData)

	sum := md5.Sum(zipData)
	c.Send(protocol.Finish{
		Type:       protocol.TypeUpdateFinish,
		TransferID: init.TransferID,
		Checksum:   hex.EncodeToString(sum[:]),
	})
	var ack protocol.Ack
	c.RecvInto(&ack)
	return ack
}

// RecvDownload drains a download stream after a successful init reply:
// chunk frames are decoded and concatenated until the finish frame
// arrives. Returns the reassembled file and the finish message.
func (c *Client) RecvDownload() ([]byte, protocol.Finish) {
	c.t.Helper()

	var data []byte
	for {
		m := c.Recv()
		switch m["type"] {
		case protocol.TypeDownloadChunk:
			raw, ok := m["chunk_data"].(string)
			if !ok {
				c.t.Fatalf("download chunk without chunk_data: %v", m)
			}
			piece, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				c.t.Fatalf("decoding download chunk: %v", err)
			}
			data = append(data, piece...)
		case protocol.TypeDownloadFinish:
			var fin protocol.Finish
			body, err := json.Marshal(m)
			if err != nil {
				c.t.Fatalf("re-encoding finish frame: %v", err)
			}
			if err := json.Unmarshal(body, &fin); err != nil {
				c.t.Fatalf("decoding finish frame: %v", err)
			}
			return data, fin
		default:
			c.t.Fatalf("unexpected frame kind %v during download", m["type"])
		}
	}
}
