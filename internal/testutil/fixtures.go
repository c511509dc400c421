package testutil

import (
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
)

// GameZip builds a complete game package archive: config.json (when
// non-empty) plus client/ and server/ trees with placeholder scripts.
// Returns the zip bytes and their md5 hex checksum.
func GameZip(t testing.TB, configJSON string) ([]byte, string) {
	t.Helper()
	return GameZipWithServer(t, configJSON, "print('server')\n")
}

// GameZipWithServer is GameZip with a caller-provided server.py body.
// Integration tests that launch the packaged server pass a shell script
// here and configure the supervisor to run it with sh.
func GameZipWithServer(t testing.TB, configJSON, serverScript string) ([]byte, string) {
	t.Helper()

	dir := t.TempDir()
	if configJSON != "" {
		writeFile(t, filepath.Join(dir, "config.json"), configJSON)
	}
	writeFile(t, filepath.Join(dir, "client", "client.py"), "print('client')\n")
	writeFile(t, filepath.Join(dir, "server", "server.py"), serverScript)

	zipPath := filepath.Join(t.TempDir(), "pkg.zip")
	if err := gamepkg.Pack(dir, zipPath); err != nil {
		t.Fatalf("packing game zip: %v", err)
	}

	data, err := os.ReadFile(zipPath)
	if err != nil {
		t.Fatalf("reading game zip: %v", err)
	}
	sum := md5.Sum(data)
	return data, hex.EncodeToString(sum[:])
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating fixture dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture file: %v", err)
	}
}
