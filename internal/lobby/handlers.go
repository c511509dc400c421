package lobby

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
	"github.com/Chiang-Chen-An/NP-HW3/internal/room"
	"github.com/Chiang-Chen-An/NP-HW3/internal/transfer"
)

const internalError = "Internal server error"

// dispatch routes one inbound message. Unknown kinds are logged and
// ignored without a reply. A returned error ends the session.
func (s *Server) dispatch(ctx context.Context, sess *Session, kind string, body []byte) error {
	switch kind {
	case protocol.TypeLogin:
		return s.handleLogin(ctx, sess, body)
	case protocol.TypeRegister:
		return s.handleRegister(ctx, sess, body)
	case protocol.TypeLogout:
		return s.handleLogout(ctx, sess, body)
	case protocol.TypeListOnlineUsers:
		return s.handleListOnlineUsers(ctx, sess)
	case protocol.TypeListGames:
		return s.handleListGames(ctx, sess)
	case protocol.TypeGetGameDetail:
		return s.handleGetGameDetail(ctx, sess, body)
	case protocol.TypeGameReview:
		return s.handleGameReview(ctx, sess, body)
	case protocol.TypeListRooms:
		return s.handleListRooms(ctx, sess)
	case protocol.TypeCreateRoom:
		return s.handleCreateRoom(ctx, sess, body)
	case protocol.TypeJoinRoom:
		return s.handleJoinRoom(sess, body)
	case protocol.TypeLeaveRoom:
		return s.handleLeaveRoom(sess, body)
	case protocol.TypeStartGame:
		return s.handleStartGame(ctx, sess, body)
	case protocol.TypeDownloadInit:
		return s.handleDownload(ctx, sess, body)
	default:
		slog.Info("unknown message type", "type", kind, "remote", sess.IP())
		return nil
	}
}

func (s *Server) handleLogin(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.Credentials
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding login request: %w", err)
	}

	if err := s.cat.Login(ctx, req.Username, req.Password, model.RoleUser); err != nil {
		return sess.Reply(protocol.NewAck(protocol.TypeLogin, false, authMessage(err, "User not found")))
	}

	// A session re-logging under a new name abandons the old one; its
	// state is reconciled exactly as on disconnect.
	if prev := sess.Bind(req.Username); prev != "" && prev != req.Username {
		slog.Info("session rebound, reconciling previous user", "previous", prev, "username", req.Username)
		s.reconcileUser(prev)
		s.sessions.Unbind(prev, sess)
	}
	s.sessions.Bind(req.Username, sess)

	slog.Info("user logged in", "username", req.Username, "remote", sess.IP())
	return sess.Reply(protocol.NewAck(protocol.TypeLogin, true, "Login successful"))
}

func (s *Server) handleRegister(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.Credentials
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding register request: %w", err)
	}

	if err := s.cat.Register(ctx, req.Username, req.Password, model.RoleUser); err != nil {
		return sess.Reply(protocol.NewAck(protocol.TypeRegister, false, authMessage(err, "User not found")))
	}

	slog.Info("user registered", "username", req.Username)
	return sess.Reply(protocol.NewAck(protocol.TypeRegister, true, "Register successful"))
}

func (s *Server) handleLogout(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.UserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding logout request: %w", err)
	}

	if err := s.cat.Logout(ctx, req.Username, model.RoleUser); err != nil {
		msg := internalError
		if errors.Is(err, catalog.ErrUserNotFound) {
			msg = "Username not found"
		} else {
			slog.Error("Failed to log out user", "username", req.Username, "error", err)
		}
		return sess.Reply(protocol.NewAck(protocol.TypeLogout, false, msg))
	}

	if sess.Unbind(req.Username) {
		s.sessions.Unbind(req.Username, sess)
	}

	slog.Info("user logged out", "username", req.Username)
	return sess.Reply(protocol.NewAck(protocol.TypeLogout, true, "Logout successful"))
}

func (s *Server) handleListOnlineUsers(ctx context.Context, sess *Session) error {
	online, err := s.cat.OnlineUsers(ctx, model.RoleUser)
	if err != nil {
		slog.Error("Failed to list online users", "error", err)
		return sess.Reply(protocol.OnlineUsersReply{Type: protocol.TypeListOnlineUsers, OnlineUsers: []string{}})
	}

	return sess.Reply(protocol.OnlineUsersReply{
		Type:        protocol.TypeListOnlineUsers,
		Success:     true,
		OnlineUsers: online,
	})
}

func (s *Server) handleListGames(ctx context.Context, sess *Session) error {
	games, err := s.cat.ListGames(ctx)
	if err != nil {
		slog.Error("Failed to list games", "error", err)
		return sess.Reply(protocol.GamesReply{Type: protocol.TypeListGames, Games: []protocol.GameInfo{}})
	}

	infos := make([]protocol.GameInfo, 0, len(games))
	for i := range games {
		infos = append(infos, protocol.NewGameInfo(&games[i]))
	}
	return sess.Reply(protocol.GamesReply{Type: protocol.TypeListGames, Success: true, Games: infos})
}

func (s *Server) handleGetGameDetail(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.GameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding game detail request: %w", err)
	}

	g, err := s.cat.GetGame(ctx, req.GameID)
	if err != nil {
		msg := internalError
		if errors.Is(err, catalog.ErrGameNotFound) {
			msg = "Game not found"
		} else {
			slog.Error("Failed to load game", "game_id", req.GameID, "error", err)
		}
		return sess.Reply(protocol.GameDetailReply{Type: protocol.TypeGetGameDetail, Message: msg})
	}

	info := protocol.NewGameInfo(g)
	return sess.Reply(protocol.GameDetailReply{Type: protocol.TypeGetGameDetail, Success: true, GameInfo: &info})
}

func (s *Server) handleGameReview(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.ReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding review request: %w", err)
	}

	username := req.Username
	if username == "" {
		username = "anonymous"
	}

	if err := s.cat.AddReview(ctx, req.GameID, username, req.Score, req.Comment); err != nil {
		msg := internalError
		switch {
		case errors.Is(err, catalog.ErrBadRating):
			msg = "Rating must be between 1 and 5"
		case errors.Is(err, catalog.ErrGameNotFound):
			msg = "Game not found"
		default:
			slog.Error("Failed to store review", "game_id", req.GameID, "error", err)
		}
		return sess.Reply(protocol.NewAck(protocol.TypeGameReview, false, msg))
	}

	slog.Info("review submitted", "game_id", req.GameID, "username", username, "score", req.Score)
	return sess.Reply(protocol.NewAck(protocol.TypeGameReview, true, "Review submitted successfully"))
}

func (s *Server) handleListRooms(ctx context.Context, sess *Session) error {
	rooms := s.rooms.Snapshot()

	infos := make([]protocol.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		gameName := ""
		if g, err := s.cat.GetGame(ctx, r.GameID); err == nil {
			gameName = g.Name
		}
		infos = append(infos, protocol.NewRoomInfo(r, gameName))
	}

	return sess.Reply(protocol.RoomsReply{Type: protocol.TypeListRooms, Success: true, Rooms: infos})
}

func (s *Server) handleCreateRoom(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.CreateRoomRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding create room request: %w", err)
	}

	// Rooms are always anchored to a catalog game; its max_players
	// becomes the room capacity.
	g, err := s.cat.GetGame(ctx, req.GameID)
	if err != nil {
		msg := internalError
		if errors.Is(err, catalog.ErrGameNotFound) {
			msg = "Game not found"
		} else {
			slog.Error("Failed to load game", "game_id", req.GameID, "error", err)
		}
		return sess.Reply(protocol.CreateRoomReply{Type: protocol.TypeCreateRoom, Message: msg})
	}

	r := s.rooms.Create(req.Username, g.GameID, g.MaxPlayers)
	slog.Info("room created", "room_id", r.RoomID, "game_id", g.GameID, "owner", req.Username)

	return sess.Reply(protocol.CreateRoomReply{Type: protocol.TypeCreateRoom, Success: true, RoomID: r.RoomID})
}

func (s *Server) handleJoinRoom(sess *Session, body []byte) error {
	var req protocol.RoomRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding join room request: %w", err)
	}

	r, err := s.rooms.Join(req.RoomID, req.Username)
	if err != nil {
		return sess.Reply(protocol.NewAck(protocol.TypeJoinRoom, false, roomMessage(err)))
	}

	slog.Info("player joined room",
		"username", req.Username,
		"room_id", req.RoomID,
		"players", len(r.Players),
		"max_players", r.MaxPlayers,
	)
	return sess.Reply(protocol.NewAck(protocol.TypeJoinRoom, true, "Joined room successfully"))
}

func (s *Server) handleLeaveRoom(sess *Session, body []byte) error {
	var req protocol.RoomRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding leave room request: %w", err)
	}

	if err := s.rooms.Leave(req.RoomID, req.Username); err != nil {
		return sess.Reply(protocol.NewAck(protocol.TypeLeaveRoom, false, roomMessage(err)))
	}

	slog.Info("player left room", "username", req.Username, "room_id", req.RoomID)
	return sess.Reply(protocol.NewAck(protocol.TypeLeaveRoom, true, "Left room successfully"))
}

func (s *Server) handleStartGame(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.RoomRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding start game request: %w", err)
	}

	r, err := s.rooms.Get(req.RoomID)
	if err != nil {
		return sess.Reply(protocol.NewAck(protocol.TypeStartGame, false, "Room not found"))
	}
	if r.Owner != req.Username {
		return sess.Reply(protocol.NewAck(protocol.TypeStartGame, false, "Only room owner can start the game"))
	}
	if len(r.Players) < r.MaxPlayers {
		msg := fmt.Sprintf("Not enough players. Need %d players, currently have %d", r.MaxPlayers, len(r.Players))
		slog.Info("game start denied", "room_id", r.RoomID, "players", len(r.Players), "max_players", r.MaxPlayers)
		return sess.Reply(protocol.NewAck(protocol.TypeStartGame, false, msg))
	}

	g, err := s.cat.GetGame(ctx, r.GameID)
	if err != nil {
		return sess.Reply(protocol.NewAck(protocol.TypeStartGame, false, "Game not found"))
	}

	port, err := s.sup.Launch(r.RoomID, g.GameID, g.Version)
	if err != nil {
		msg := "Failed to launch game server"
		if errors.Is(err, gamepkg.ErrNoServerScript) {
			msg = "Game server script not found"
		}
		slog.Error("Failed to launch game server", "room_id", r.RoomID, "game_id", g.GameID, "error", err)
		return sess.Reply(protocol.NewAck(protocol.TypeStartGame, false, msg))
	}

	if err := s.rooms.SetStarted(r.RoomID); err != nil {
		slog.Warn("room vanished before start flag was set", "room_id", r.RoomID, "error", err)
	}

	notice := protocol.StartGameNotice{
		Type:       protocol.TypeStartGame,
		RoomID:     r.RoomID,
		GameID:     r.GameID,
		ServerHost: s.sup.ServerHost(),
		ServerPort: port,
	}
	frame, err := protocol.Encode(notice)
	if err != nil {
		return err
	}

	// The owner's copy is the START_GAME reply; everyone else gets it
	// pushed. Delivery is best-effort per player.
	if err := sess.SendSync(frame); err != nil {
		slog.Error("Failed to notify room owner", "username", req.Username, "error", err)
	}
	for _, player := range r.Players {
		if player == req.Username {
			continue
		}
		peer, ok := s.sessions.Lookup(player)
		if !ok {
			slog.Warn("no session for room player", "username", player, "room_id", r.RoomID)
			continue
		}
		if err := peer.Send(frame); err != nil {
			slog.Error("Failed to notify room player", "username", player, "error", err)
		}
	}

	slog.Info("game started", "room_id", r.RoomID, "game_id", g.GameID, "port", port, "players", len(r.Players))
	return nil
}

func (s *Server) handleDownload(ctx context.Context, sess *Session, body []byte) error {
	var req protocol.GameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding download request: %w", err)
	}

	d, err := s.transfers.PrepareDownload(ctx, req.GameID)
	if err != nil {
		msg := internalError
		switch {
		case errors.Is(err, catalog.ErrGameNotFound):
			msg = "Game not found"
		case errors.Is(err, gamepkg.ErrVersionNotStored):
			msg = "Game files not found on server"
		default:
			slog.Error("Failed to prepare download", "game_id", req.GameID, "error", err)
		}
		return sess.Reply(protocol.DownloadInitReply{Type: protocol.TypeDownloadInit, Message: msg})
	}
	defer d.Close()

	err = sess.Reply(protocol.DownloadInitReply{
		Type:        protocol.TypeDownloadInit,
		Success:     true,
		FileSize:    d.FileSize,
		GameVersion: d.Version,
		TransferID:  d.TransferID,
	})
	if err != nil {
		return err
	}

	if err := s.streamDownload(sess, d); err != nil {
		return fmt.Errorf("streaming game %s: %w", req.GameID, err)
	}

	err = sess.Reply(protocol.Finish{
		Type:       protocol.TypeDownloadFinish,
		TransferID: d.TransferID,
		Checksum:   d.Checksum,
	})
	if err != nil {
		return err
	}

	if err := s.cat.IncrementDownloadCount(ctx, req.GameID); err != nil {
		slog.Error("Failed to bump download count", "game_id", req.GameID, "error", err)
	}

	slog.Info("download served", "game_id", req.GameID, "username", req.Username, "bytes", d.FileSize)
	return nil
}

// streamDownload pushes the zip as base64 chunks of at most ChunkSize
// decoded bytes each.
func (s *Server) streamDownload(sess *Session, d *transfer.Download) error {
	f, err := d.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, protocol.ChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := protocol.Chunk{
				Type:       protocol.TypeDownloadChunk,
				TransferID: d.TransferID,
				ChunkData:  base64.StdEncoding.EncodeToString(buf[:n]),
			}
			if replyErr := sess.Reply(chunk); replyErr != nil {
				return replyErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// authMessage translates catalog auth errors into reply text. The
// not-found wording differs between player and developer endpoints.
func authMessage(err error, notFound string) string {
	switch {
	case errors.Is(err, catalog.ErrEmptyCredentials):
		return "Username or password is empty"
	case errors.Is(err, catalog.ErrUserNotFound):
		return notFound
	case errors.Is(err, catalog.ErrBadPassword):
		return "Incorrect password"
	case errors.Is(err, catalog.ErrAlreadyOnline):
		return "Account already logged in from another session"
	case errors.Is(err, catalog.ErrUserExists):
		return "Username already exists"
	}
	slog.Error("auth failed", "error", err)
	return internalError
}

func roomMessage(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, room.ErrRoomFull):
		return "Room full"
	case errors.Is(err, room.ErrAlreadyInRoom):
		return "Already in room"
	case errors.Is(err, room.ErrNotInRoom):
		return "You are not in this room"
	}
	return internalError
}
