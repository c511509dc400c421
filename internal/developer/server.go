// Package developer implements the developer-facing TCP endpoint:
// developer accounts, package uploads and updates, and game deletion.
// Unlike the lobby there are no cross-session pushes, so each
// connection's replies are written directly by its reader goroutine.
package developer

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
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
	"github.com/Chiang-Chen-An/NP-HW3/internal/transfer"
)

// Server is the developer endpoint.
type Server struct {
	cfg       config.ListenConfig
	cat       *catalog.Catalog
	transfers *transfer.Manager
	layout    gamepkg.Layout

	listener net.Listener
	mu       sync.Mutex
}

func NewServer(
	cfg config.ListenConfig,
	cat *catalog.Catalog,
	transfers *transfer.Manager,
	layout gamepkg.Layout,
) *Server {
	return &Server{
		cfg:       cfg,
		cat:       cat,
		transfers: transfers,
		layout:    layout,
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
		slog.Info("developer server started", "address", ln.Addr())
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
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sess := &session{conn: conn}
	slog.Info("new developer connection", "remote", conn.RemoteAddr())
	defer s.reconcile(sess)

	for {
		kind, body, err := protocol.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Warn("read failed", "remote", conn.RemoteAddr(), "error", err)
			}
			return
		}

		if err := s.dispatch(ctx, sess, kind, body); err != nil {
			slog.Error("Failed to handle message", "remote", conn.RemoteAddr(), "type", kind, "error", err)
			return
		}
	}
}

// session is the per-connection state: the socket plus the developer
// bound to it after DEVELOPER_LOGIN. Only the reader goroutine touches
// it.
type session struct {
	conn     net.Conn
	username string
}

func (c *session) reply(v any) error {
	return protocol.WriteMessage(c.conn, v)
}

// reconcile logs the bound developer out and drops their staged
// transfers once the connection ends.
func (s *Server) reconcile(sess *session) {
	if sess.username == "" {
		slog.Info("developer connection closed", "remote", sess.conn.RemoteAddr())
		return
	}

	slog.Info("developer disconnected, reconciling", "username", sess.username)
	s.reconcileDeveloper(sess.username)
}

func (s *Server) reconcileDeveloper(username string) {
	if err := s.cat.Logout(context.Background(), username, model.RoleDeveloper); err != nil &&
		!errors.Is(err, catalog.ErrUserNotFound) {
		slog.Error("Failed to log out disconnected developer", "username", username, "error", err)
	}

	s.transfers.AbortOwned(username)
}
