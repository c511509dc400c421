// Package lobby implements the player-facing TCP endpoint: account
// auth, game browsing and reviews, downloads, rooms, and match starts.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/config"
	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
	"github.com/Chiang-Chen-An/NP-HW3/internal/room"
	"github.com/Chiang-Chen-An/NP-HW3/internal/supervisor"
	"github.com/Chiang-Chen-An/NP-HW3/internal/transfer"
)

// Server is the lobby endpoint players connect to.
type Server struct {
	cfg       config.ListenConfig
	cat       *catalog.Catalog
	rooms     *room.Registry
	transfers *transfer.Manager
	sup       *supervisor.Supervisor
	sessions  *SessionTable

	listener net.Listener
	mu       sync.Mutex
}

func NewServer(
	cfg config.ListenConfig,
	cat *catalog.Catalog,
	rooms *room.Registry,
	transfers *transfer.Manager,
	sup *supervisor.Supervisor,
) *Server {
	return &Server{
		cfg:       cfg,
		cat:       cat,
		rooms:     rooms,
		transfers: transfers,
		sup:       sup,
		sessions:  NewSessionTable(),
	}
}

// Addr returns the listen address, nil before Run.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run listens on the configured address and serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve runs the accept loop on a caller-provided listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("lobby server started", "address", ln.Addr())
		s.acceptLoop(ctx, &wg, ln)
	})

	wg.Wait()

	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("Failed to accept new connection", "error", err)
				continue
			}
			wg.Go(func() {
				s.handleConnection(ctx, conn)
			})
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)

	sess, err := NewSession(conn)
	if err != nil {
		slog.Error("Failed to create session", "connection", conn.RemoteAddr(), "error", err)
		conn.Close()
		return
	}
	defer sess.Close()
	sess.StartWritePump()

	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-done:
		}
	}()

	slog.Info("new connection", "remote", sess.IP())
	defer s.reconcile(sess)

	for {
		kind, body, err := protocol.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("read failed", "remote", sess.IP(), "error", err)
			}
			return
		}

		if err := s.dispatch(ctx, sess, kind, body); err != nil {
			slog.Error("Failed to handle message", "remote", sess.IP(), "type", kind, "error", err)
			return
		}
	}
}

// reconcile restores shared state after a session ends, whatever the
// cause: room membership, the online flag, and staged transfers. Each
// step is best-effort so one failure cannot strand the rest.
func (s *Server) reconcile(sess *Session) {
	username := sess.Username()
	if username == "" {
		slog.Info("connection closed", "remote", sess.IP())
		return
	}

	slog.Info("client disconnected, reconciling", "remote", sess.IP(), "username", username)
	s.reconcileUser(username)
	s.sessions.Unbind(username, sess)
}

func (s *Server) reconcileUser(username string) {
	for _, roomID := range s.rooms.RemoveUser(username) {
		slog.Info("removed player from room", "username", username, "room_id", roomID)
	}

	if err := s.cat.Logout(context.Background(), username, model.RoleUser); err != nil &&
		!errors.Is(err, catalog.ErrUserNotFound) {
		slog.Error("Failed to log out disconnected user", "username", username, "error", err)
	}

	s.transfers.AbortOwned(username)
}
