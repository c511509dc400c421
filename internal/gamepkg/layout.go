package gamepkg

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves paths inside the package storage tree,
// storage/<game_id>/<version>/ under a single root.
type Layout struct {
	root string
}

func NewLayout(root string) Layout {
	return Layout{root: root}
}

func (l Layout) Root() string {
	return l.root
}

// GameDir is the directory holding every stored version of one game.
func (l Layout) GameDir(gameID string) string {
	return filepath.Join(l.root, gameID)
}

// VersionDir is the unpacked package directory for one (game, version).
func (l Layout) VersionDir(gameID, version string) string {
	return filepath.Join(l.root, gameID, version)
}

// ServerDir is the subtree the game server process runs in.
func (l Layout) ServerDir(gameID, version string) string {
	return filepath.Join(l.root, gameID, version, "server")
}

// HasVersion reports whether the package directory for (game, version)
// exists on disk.
func (l Layout) HasVersion(gameID, version string) bool {
	info, err := os.Stat(l.VersionDir(gameID, version))
	return err == nil && info.IsDir()
}

// Promote moves an unpacked tree into its storage slot, replacing any
// previous contents of that version directory.
func (l Layout) Promote(srcDir, gameID, version string) error {
	dest := l.VersionDir(gameID, version)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clearing %q: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %q: %w", filepath.Dir(dest), err)
	}
	if err := os.Rename(srcDir, dest); err != nil {
		// Rename fails across filesystems; fall back to a copy.
		if copyErr := copyTree(srcDir, dest); copyErr != nil {
			return fmt.Errorf("moving package into %q: %w", dest, copyErr)
		}
		return os.RemoveAll(srcDir)
	}
	return nil
}

// RemoveGame deletes every stored version of one game.
func (l Layout) RemoveGame(gameID string) error {
	if err := os.RemoveAll(l.GameDir(gameID)); err != nil {
		return fmt.Errorf("removing game directory %q: %w", l.GameDir(gameID), err)
	}
	return nil
}

// ServerScript picks the launch script inside a server directory,
// preferring server.py over main.py.
func ServerScript(serverDir string) (string, error) {
	for _, name := range []string{"server.py", "main.py"} {
		path := filepath.Join(serverDir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return name, nil
		}
	}
	return "", ErrNoServerScript
}

func copyTree(srcDir, destDir string) error {
	return filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, info.Mode().Perm()|0o600)
	})
}
