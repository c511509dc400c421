// Package gamepkg handles the on-disk shape of a game package: the
// config.json manifest, the zip archives packages travel in, and the
// storage/<game_id>/<version>/ layout they are promoted to.
package gamepkg

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrMissingConfig    = errors.New("missing config.json")
	ErrMissingClient    = errors.New("missing client directory")
	ErrMissingServer    = errors.New("missing server directory")
	ErrBadMaxPlayers    = errors.New("max_players must be at least 2")
	ErrNoServerScript   = errors.New("game server script not found")
	ErrVersionNotStored = errors.New("game files not found on server")
)

const configFile = "config.json"

// Config is the manifest every package carries at its root.
type Config struct {
	GameName        string `json:"game_name"`
	GameDescription string `json:"game_description"`
	GameVersion     string `json:"game_version"`
	MaxPlayers      int    `json:"max_players"`
}

// ReadConfig parses <dir>/config.json and fills the defaults the manifest
// may omit: version "1.0.0" and max_players 2. An explicit max_players
// below 2 is rejected.
func ReadConfig(dir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(dir, configFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissingConfig
		}
		return nil, fmt.Errorf("reading config.json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config.json: %w", err)
	}

	if cfg.GameVersion == "" {
		cfg.GameVersion = "1.0.0"
	}
	if cfg.MaxPlayers == 0 {
		cfg.MaxPlayers = 2
	}
	if cfg.MaxPlayers < 2 {
		return nil, ErrBadMaxPlayers
	}
	return &cfg, nil
}

// ValidateTree checks that an unpacked package has the required shape:
// config.json plus client/ and server/ directories at the root.
func ValidateTree(dir string) error {
	if _, err := os.Stat(filepath.Join(dir, configFile)); err != nil {
		return ErrMissingConfig
	}
	for _, sub := range []struct {
		name string
		err  error
	}{
		{"client", ErrMissingClient},
		{"server", ErrMissingServer},
	} {
		info, err := os.Stat(filepath.Join(dir, sub.name))
		if err != nil || !info.IsDir() {
			return sub.err
		}
	}
	return nil
}
