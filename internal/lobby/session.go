package lobby

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
)

const (
	defaultSendQueueSize = 256
	defaultWriteTimeout  = 5 * time.Second
)

// Session is the server-side state of one accepted connection. All
// outbound frames funnel through a single writer goroutine, so replies
// from the handler and broadcasts from other sessions never interleave
// on the wire.
type Session struct {
	conn net.Conn
	ip   string

	sendCh    chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once

	// mu protects username, bound after a successful LOGIN
	mu       sync.Mutex
	username string
}

func NewSession(conn net.Conn) (*Session, error) {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("splitting host port: %w", err)
	}

	return &Session{
		conn:    conn,
		ip:      host,
		sendCh:  make(chan []byte, defaultSendQueueSize),
		closeCh: make(chan struct{}),
	}, nil
}

func (s *Session) IP() string {
	return s.ip
}

// Username returns the bound account name, empty before LOGIN.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Bind attaches an authenticated username to the session and returns
// the previously bound one.
func (s *Session) Bind(username string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.username
	s.username = username
	return prev
}

// Unbind clears the binding only when it still matches username.
func (s *Session) Unbind(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.username != username {
		return false
	}
	s.username = ""
	return true
}

// StartWritePump launches the dedicated writer goroutine. It exits on
// Close or write failure and closes the connection either way, which
// unblocks the session's reader.
func (s *Session) StartWritePump() {
	go s.writePump()
}

func (s *Session) writePump() {
	defer s.conn.Close()

	for {
		select {
		case frame := <-s.sendCh:
			if err := s.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
				slog.Warn("set write deadline failed", "client", s.ip, "error", err)
				return
			}
			if _, err := s.conn.Write(frame); err != nil {
				slog.Warn("write failed", "client", s.ip, "error", err)
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// Send queues a frame without blocking. A full queue means a slow or
// stuck client; it gets disconnected rather than stalling the sender.
func (s *Session) Send(frame []byte) error {
	select {
	case s.sendCh <- frame:
		return nil
	case <-s.closeCh:
		return fmt.Errorf("session closed")
	default:
		slog.Warn("send queue full, disconnecting slow client", "client", s.ip)
		s.CloseAsync()
		return fmt.Errorf("send queue full")
	}
}

// SendSync queues a frame, blocking until accepted. Used for replies and
// download chunks that must be delivered in order.
func (s *Session) SendSync(frame []byte) error {
	timer := time.NewTimer(defaultWriteTimeout)
	defer timer.Stop()

	select {
	case s.sendCh <- frame:
		return nil
	case <-s.closeCh:
		return fmt.Errorf("session closed")
	case <-timer.C:
		return fmt.Errorf("send timeout after %v", defaultWriteTimeout)
	}
}

// Reply encodes a message and queues it behind any pending frames.
func (s *Session) Reply(v any) error {
	frame, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	return s.SendSync(frame)
}

// CloseAsync signals the write pump to stop. Safe to call repeatedly.
func (s *Session) CloseAsync() {
	s.closeOnce.Do(func() {
		close(s.closeCh)
	})
}

// Close stops the pump and closes the connection.
func (s *Session) Close() error {
	s.CloseAsync()
	return s.conn.Close()
}
