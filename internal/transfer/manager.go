// Package transfer runs the chunked file flows: developer uploads and
// updates staged through a temp area and promoted into package storage,
// and player downloads served from transient zips.
package transfer

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/Chiang-Chen-An/NP-HW3/internal/catalog"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
)

var (
	ErrInvalidTransfer  = errors.New("invalid transfer id")
	ErrSizeMismatch     = errors.New("written size does not match received chunks")
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

type kind int

const (
	kindUpload kind = iota
	kindUpdate
)

// pending is one staged inbound transfer. The temp zip stays open for
// appends until FINISH or abort consumes it.
type pending struct {
	id       string
	kind     kind
	owner    string
	file     *os.File
	path     string
	declared int64
	received int64

	// upload metadata, used as fallbacks when config.json omits fields
	gameName        string
	gameDescription string

	// update metadata
	gameID  string
	version string

	// set once FINISH starts extracting, so cleanup can remove it
	extractDir string
}

// Manager tracks in-progress transfers keyed by opaque ids and owns the
// temp staging area. FINISH consumes its transfer whatever the outcome,
// so temp artifacts never outlive a failed flow.
type Manager struct {
	mu      sync.Mutex
	cat     *catalog.Catalog
	layout  gamepkg.Layout
	tmpDir  string
	inbound map[string]*pending
}

func NewManager(cat *catalog.Catalog, layout gamepkg.Layout, tmpDir string) (*Manager, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp dir %q: %w", tmpDir, err)
	}
	return &Manager{
		cat:     cat,
		layout:  layout,
		tmpDir:  tmpDir,
		inbound: make(map[string]*pending),
	}, nil
}

// InitUpload opens a staged transfer for a brand new game and returns
// its transfer id.
func (m *Manager) InitUpload(username, gameName, gameDescription string, fileSize int64) (string, error) {
	return m.stage(&pending{
		kind:            kindUpload,
		owner:           username,
		declared:        fileSize,
		gameName:        gameName,
		gameDescription: gameDescription,
	})
}

// InitUpdate opens a staged transfer replacing an existing game with a
// strictly newer version. Ownership and version newness are checked here
// and re-checked at FINISH.
func (m *Manager) InitUpdate(ctx context.Context, username, gameID, version string, fileSize int64) (string, error) {
	if err := m.cat.CanUpdate(ctx, gameID, username, version); err != nil {
		return "", err
	}
	return m.stage(&pending{
		kind:     kindUpdate,
		owner:    username,
		declared: fileSize,
		gameID:   gameID,
		version:  version,
	})
}

func (m *Manager) stage(p *pending) (string, error) {
	p.id = uuid.NewString()
	p.path = filepath.Join(m.tmpDir, p.id+".zip")

	f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("creating temp file %q: %w", p.path, err)
	}
	p.file = f

	m.mu.Lock()
	m.inbound[p.id] = p
	m.mu.Unlock()

	return p.id, nil
}

// AppendChunk decodes one base64 chunk and appends it to the staged zip.
func (m *Manager) AppendChunk(transferID, chunkData string) error {
	m.mu.Lock()
	p, ok := m.inbound[transferID]
	m.mu.Unlock()
	if !ok {
		return ErrInvalidTransfer
	}

	raw, err := base64.StdEncoding.DecodeString(chunkData)
	if err != nil {
		return fmt.Errorf("decoding chunk: %w", err)
	}

	if _, err := p.file.Write(raw); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	p.received += int64(len(raw))
	return nil
}

// FinishUpload seals an upload: integrity checks, unpack, package
// validation, catalog insert, promotion into storage. Returns the
// allocated game id. The transfer and its temp files are consumed even
// on failure; a promotion failure rolls the catalog insert back.
func (m *Manager) FinishUpload(ctx context.Context, transferID, checksum string) (string, error) {
	p, err := m.take(transferID, kindUpload)
	if err != nil {
		return "", err
	}
	defer p.cleanup()

	extractDir, cfg, err := m.unpackStaged(p, checksum)
	if err != nil {
		return "", err
	}

	name := cfg.GameName
	if name == "" {
		name = p.gameName
	}
	description := cfg.GameDescription
	if description == "" {
		description = p.gameDescription
	}

	gameID, err := m.cat.AddGame(ctx, p.owner, name, description, cfg.GameVersion, cfg.MaxPlayers)
	if err != nil {
		return "", err
	}

	if err := m.layout.Promote(extractDir, gameID, cfg.GameVersion); err != nil {
		if delErr := m.cat.DeleteGame(ctx, gameID, p.owner); delErr != nil {
			slog.Error("rolling back catalog entry after failed promotion",
				"game_id", gameID, "error", delErr)
		}
		return "", err
	}
	return gameID, nil
}

// FinishUpdate seals an update: integrity checks, ownership and version
// re-verification, unpack, promotion, catalog metadata refresh.
func (m *Manager) FinishUpdate(ctx context.Context, transferID, checksum string) error {
	p, err := m.take(transferID, kindUpdate)
	if err != nil {
		return err
	}
	defer p.cleanup()

	if err := m.cat.CanUpdate(ctx, p.gameID, p.owner, p.version); err != nil {
		return err
	}

	extractDir, cfg, err := m.unpackStaged(p, checksum)
	if err != nil {
		return err
	}

	if err := m.layout.Promote(extractDir, p.gameID, p.version); err != nil {
		return err
	}

	return m.cat.UpdateGame(ctx, p.gameID, p.owner, p.version, cfg.GameName, cfg.GameDescription, cfg.MaxPlayers)
}

// take removes a transfer from the table; FINISH is single-shot.
func (m *Manager) take(transferID string, want kind) (*pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.inbound[transferID]
	if !ok || p.kind != want {
		return nil, ErrInvalidTransfer
	}
	delete(m.inbound, transferID)
	return p, nil
}

// unpackStaged closes the temp zip, verifies its length and md5, and
// extracts it next to itself, validating the package tree and manifest.
func (m *Manager) unpackStaged(p *pending, checksum string) (string, *gamepkg.Config, error) {
	if err := p.file.Close(); err != nil {
		return "", nil, fmt.Errorf("closing temp file: %w", err)
	}

	info, err := os.Stat(p.path)
	if err != nil {
		return "", nil, fmt.Errorf("checking temp file: %w", err)
	}
	if info.Size() != p.received {
		return "", nil, ErrSizeMismatch
	}

	sum, err := fileMD5(p.path)
	if err != nil {
		return "", nil, err
	}
	if sum != checksum {
		return "", nil, ErrChecksumMismatch
	}

	extractDir := filepath.Join(m.tmpDir, p.id+"-extract")
	p.extractDir = extractDir
	if err := gamepkg.Unpack(p.path, extractDir); err != nil {
		return "", nil, err
	}
	if err := gamepkg.ValidateTree(extractDir); err != nil {
		return "", nil, err
	}

	cfg, err := gamepkg.ReadConfig(extractDir)
	if err != nil {
		return "", nil, err
	}
	return extractDir, cfg, nil
}

// AbortOwned drops every staged transfer belonging to owner and deletes
// its temp files. Called by disconnect reconciliation.
func (m *Manager) AbortOwned(owner string) {
	m.mu.Lock()
	var dropped []*pending
	for id, p := range m.inbound {
		if p.owner == owner {
			delete(m.inbound, id)
			dropped = append(dropped, p)
		}
	}
	m.mu.Unlock()

	for _, p := range dropped {
		p.cleanup()
		slog.Info("aborted transfer", "transfer_id", p.id, "owner", owner)
	}
}

// Pending reports whether a transfer id is still staged.
func (m *Manager) Pending(transferID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inbound[transferID]
	return ok
}

func (p *pending) cleanup() {
	if p.file != nil {
		p.file.Close()
	}
	os.Remove(p.path)
	if p.extractDir != "" {
		os.RemoveAll(p.extractDir)
	}
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %q: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
