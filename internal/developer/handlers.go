package developer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
	"github.com/Chiang-Chen-An/NP-HW3/internal/protocol"
	"github.com/Chiang-Chen-An/NP-HW3/internal/transfer"
)

const internalError = "Internal server error"

// dispatch routes one inbound message. Unknown kinds are logged and
// ignored without a reply. A returned error ends the session.
func (s *Server) dispatch(ctx context.Context, sess *session, kind string, body []byte) error {
	switch kind {
	case protocol.TypeDeveloperLogin:
		return s.handleLogin(ctx, sess, body)
	case protocol.TypeDeveloperRegister:
		return s.handleRegister(ctx, sess, body)
	case protocol.TypeDeveloperLogout:
		return s.handleLogout(ctx, sess, body)
	case protocol.TypeDeveloperListGames:
		return s.handleListGames(ctx, sess, body)
	case protocol.TypeUploadInit:
		return s.handleUploadInit(sess, body)
	case protocol.TypeUploadChunk, protocol.TypeUpdateChunk:
		return s.handleChunk(sess, kind, body)
	case protocol.TypeUploadFinish:
		return s.handleUploadFinish(ctx, sess, body)
	case protocol.TypeUpdateInit:
		return s.handleUpdateInit(ctx, sess, body)
	case protocol.TypeUpdateFinish:
		return s.handleUpdateFinish(ctx, sess, body)
	case protocol.TypeDeleteGame:
		return s.handleDeleteGame(ctx, sess, body)
	default:
		slog.Info("unknown message type", "type", kind, "remote", sess.conn.RemoteAddr())
		return nil
	}
}

func (s *Server) handleLogin(ctx context.Context, sess *session, body []byte) error {
	var req protocol.Credentials
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding developer login request: %w", err)
	}

	if err := s.cat.Login(ctx, req.Username, req.Password, model.RoleDeveloper); err != nil {
		return sess.reply(protocol.NewAck(protocol.TypeDeveloperLogin, false, authMessage(err)))
	}

	// A session re-logging under a new name abandons the old one.
	if prev := sess.username; prev != "" && prev != req.Username {
		slog.Info("developer session rebound, reconciling previous", "previous", prev, "username", req.Username)
		s.reconcileDeveloper(prev)
	}
	sess.username = req.Username

	slog.Info("developer logged in", "username", req.Username)
	return sess.reply(protocol.NewAck(protocol.TypeDeveloperLogin, true, "Login successful"))
}

func (s *Server) handleRegister(ctx context.Context, sess *session, body []byte) error {
	var req protocol.Credentials
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding developer register request: %w", err)
	}

	if err := s.cat.Register(ctx, req.Username, req.Password, model.RoleDeveloper); err != nil {
		return sess.reply(protocol.NewAck(protocol.TypeDeveloperRegister, false, authMessage(err)))
	}

	slog.Info("developer registered", "username", req.Username)
	return sess.reply(protocol.NewAck(protocol.TypeDeveloperRegister, true, "Register successful"))
}

func (s *Server) handleLogout(ctx context.Context, sess *session, body []byte) error {
	var req protocol.UserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding developer logout request: %w", err)
	}

	if err := s.cat.Logout(ctx, req.Username, model.RoleDeveloper); err != nil {
		msg := internalError
		if errors.Is(err, catalog.ErrUserNotFound) {
			msg = "Username not found"
		} else {
			slog.Error("Failed to log out developer", "username", req.Username, "error", err)
		}
		return sess.reply(protocol.NewAck(protocol.TypeDeveloperLogout, false, msg))
	}

	if sess.username == req.Username {
		sess.username = ""
	}

	slog.Info("developer logged out", "username", req.Username)
	return sess.reply(protocol.NewAck(protocol.TypeDeveloperLogout, true, "Logout successful"))
}

func (s *Server) handleListGames(ctx context.Context, sess *session, body []byte) error {
	var req protocol.UserRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding list games request: %w", err)
	}

	games, err := s.cat.GamesByAuthor(ctx, req.Username)
	if err != nil {
		slog.Error("Failed to list developer games", "username", req.Username, "error", err)
		return sess.reply(protocol.GamesReply{Type: protocol.TypeDeveloperListGames, Games: []protocol.GameInfo{}})
	}

	infos := make([]protocol.GameInfo, 0, len(games))
	for i := range games {
		infos = append(infos, protocol.NewGameInfo(&games[i]))
	}
	return sess.reply(protocol.GamesReply{Type: protocol.TypeDeveloperListGames, Success: true, Games: infos})
}

func (s *Server) handleUploadInit(sess *session, body []byte) error {
	var req protocol.UploadInitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding upload init request: %w", err)
	}

	id, err := s.transfers.InitUpload(req.Username, req.GameName, req.GameDescription, req.FileSize)
	if err != nil {
		slog.Error("Failed to open upload", "username", req.Username, "error", err)
		return sess.reply(protocol.TransferInitReply{Type: protocol.TypeUploadInit, Message: internalError})
	}

	slog.Info("upload started", "username", req.Username, "game_name", req.GameName, "transfer_id", id)
	return sess.reply(protocol.TransferInitReply{Type: protocol.TypeUploadInit, Success: true, TransferID: id})
}

// handleChunk appends one piece of a staged upload or update. Successful
// chunks are not acknowledged; only an unknown transfer id draws an
// error reply.
func (s *Server) handleChunk(sess *session, kind string, body []byte) error {
	var req protocol.Chunk
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding chunk: %w", err)
	}

	if err := s.transfers.AppendChunk(req.TransferID, req.ChunkData); err != nil {
		if errors.Is(err, transfer.ErrInvalidTransfer) {
			return sess.reply(protocol.NewAck(kind, false, "Invalid transfer ID"))
		}
		return fmt.Errorf("appending chunk to %s: %w", req.TransferID, err)
	}
	return nil
}

func (s *Server) handleUploadFinish(ctx context.Context, sess *session, body []byte) error {
	var req protocol.Finish
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding upload finish request: %w", err)
	}

	gameID, err := s.transfers.FinishUpload(ctx, req.TransferID, req.Checksum)
	if err != nil {
		slog.Warn("upload rejected", "transfer_id", req.TransferID, "error", err)
		return sess.reply(protocol.UploadFinishReply{Type: protocol.TypeUploadFinish, Message: transferMessage(err)})
	}

	slog.Info("upload complete", "transfer_id", req.TransferID, "game_id", gameID)
	return sess.reply(protocol.UploadFinishReply{
		Type:    protocol.TypeUploadFinish,
		Success: true,
		Message: "Upload complete",
		GameID:  gameID,
	})
}

func (s *Server) handleUpdateInit(ctx context.Context, sess *session, body []byte) error {
	var req protocol.UpdateInitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding update init request: %w", err)
	}

	id, err := s.transfers.InitUpdate(ctx, req.Username, req.GameID, req.GameVersion, req.FileSize)
	if err != nil {
		slog.Warn("update rejected", "username", req.Username, "game_id", req.GameID, "error", err)
		return sess.reply(protocol.TransferInitReply{Type: protocol.TypeUpdateInit, Message: transferMessage(err)})
	}

	slog.Info("update started", "username", req.Username, "game_id", req.GameID, "version", req.GameVersion, "transfer_id", id)
	return sess.reply(protocol.TransferInitReply{Type: protocol.TypeUpdateInit, Success: true, TransferID: id})
}

func (s *Server) handleUpdateFinish(ctx context.Context, sess *session, body []byte) error {
	var req protocol.Finish
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding update finish request: %w", err)
	}

	if err := s.transfers.FinishUpdate(ctx, req.TransferID, req.Checksum); err != nil {
		slog.Warn("update rejected", "transfer_id", req.TransferID, "error", err)
		return sess.reply(protocol.NewAck(protocol.TypeUpdateFinish, false, transferMessage(err)))
	}

	slog.Info("update complete", "transfer_id", req.TransferID)
	return sess.reply(protocol.NewAck(protocol.TypeUpdateFinish, true, "Update complete"))
}

func (s *Server) handleDeleteGame(ctx context.Context, sess *session, body []byte) error {
	var req protocol.GameRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decoding delete game request: %w", err)
	}

	if err := s.cat.DeleteGame(ctx, req.GameID, req.Username); err != nil {
		msg := internalError
		switch {
		case errors.Is(err, catalog.ErrGameNotFound):
			msg = "Game not found"
		case errors.Is(err, catalog.ErrNotAuthor):
			msg = "You are not the author of this game"
		default:
			slog.Error("Failed to delete game", "game_id", req.GameID, "error", err)
		}
		return sess.reply(protocol.NewAck(protocol.TypeDeleteGame, false, msg))
	}

	// The catalog entry is gone; a failed file cleanup is reported but
	// no longer fails the deletion.
	if err := s.layout.RemoveGame(req.GameID); err != nil {
		slog.Error("Failed to remove game files", "game_id", req.GameID, "error", err)
		msg := fmt.Sprintf("Game deleted from DB but file cleanup failed: %v", err)
		return sess.reply(protocol.NewAck(protocol.TypeDeleteGame, true, msg))
	}

	slog.Info("game deleted", "game_id", req.GameID, "username", req.Username)
	return sess.reply(protocol.NewAck(protocol.TypeDeleteGame, true, "Game deleted successfully"))
}

// authMessage translates catalog auth errors into developer reply text.
func authMessage(err error) string {
	switch {
	case errors.Is(err, catalog.ErrEmptyCredentials):
		return "Username or password is empty"
	case errors.Is(err, catalog.ErrUserNotFound):
		return "Developer not found"
	case errors.Is(err, catalog.ErrBadPassword):
		return "Incorrect password"
	case errors.Is(err, catalog.ErrAlreadyOnline):
		return "Account already logged in from another session"
	case errors.Is(err, catalog.ErrUserExists):
		return "Username already exists"
	}
	slog.Error("developer auth failed", "error", err)
	return internalError
}

// transferMessage translates transfer flow errors into reply text. The
// fallback exposes the error itself, mirroring what developers see for
// malformed archives.
func transferMessage(err error) string {
	switch {
	case errors.Is(err, transfer.ErrInvalidTransfer):
		return "Invalid transfer ID"
	case errors.Is(err, transfer.ErrChecksumMismatch):
		return "Checksum mismatch"
	case errors.Is(err, transfer.ErrSizeMismatch):
		return "File size mismatch"
	case errors.Is(err, gamepkg.ErrMissingConfig):
		return "Missing config.json"
	case errors.Is(err, gamepkg.ErrMissingClient):
		return "Missing client directory"
	case errors.Is(err, gamepkg.ErrMissingServer):
		return "Missing server directory"
	case errors.Is(err, gamepkg.ErrBadMaxPlayers):
		return "max_players must be at least 2"
	case errors.Is(err, catalog.ErrGameNotFound):
		return "Game not found"
	case errors.Is(err, catalog.ErrNotAuthor):
		return "You are not the author of this game"
	case errors.Is(err, catalog.ErrStaleVersion):
		return "Version must be newer than the current version"
	}
	return err.Error()
}
