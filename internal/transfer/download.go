package transfer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
)

// Download is a prepared outbound stream: a transient zip of the latest
// package version plus the metadata the INIT reply carries. Close
// removes the zip; callers must always close, streamed or not.
type Download struct {
	TransferID string
	FileSize   int64
	Version    string
	Checksum   string

	path string
}

// PrepareDownload resolves the latest version of a game, zips its
// package directory into the temp area, and returns the stream handle.
func (m *Manager) PrepareDownload(ctx context.Context, gameID string) (*Download, error) {
	g, err := m.cat.GetGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !m.layout.HasVersion(g.GameID, g.Version) {
		return nil, gamepkg.ErrVersionNotStored
	}

	id := uuid.NewString()
	zipPath := filepath.Join(m.tmpDir, id+".zip")
	if err := gamepkg.Pack(m.layout.VersionDir(g.GameID, g.Version), zipPath); err != nil {
		return nil, err
	}

	info, err := os.Stat(zipPath)
	if err != nil {
		os.Remove(zipPath)
		return nil, fmt.Errorf("checking download zip: %w", err)
	}
	sum, err := fileMD5(zipPath)
	if err != nil {
		os.Remove(zipPath)
		return nil, err
	}

	return &Download{
		TransferID: id,
		FileSize:   info.Size(),
		Version:    g.Version,
		Checksum:   sum,
		path:       zipPath,
	}, nil
}

// Open returns the zip for streaming.
func (d *Download) Open() (*os.File, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("opening download zip: %w", err)
	}
	return f, nil
}

// Close deletes the transient zip.
func (d *Download) Close() error {
	return os.Remove(d.path)
}
