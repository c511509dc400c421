package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted in StorageConfig.Backend.
const (
	BackendJSON     = "json"
	BackendPostgres = "postgres"
)

// Server holds all configuration for the platform process: both
// listeners, persistence, and game server supervision.
type Server struct {
	// Lobby is the player-facing endpoint.
	Lobby ListenConfig `yaml:"lobby"`

	// Developer is the upload/update/delete endpoint.
	Developer ListenConfig `yaml:"developer"`

	// Storage selects the persistence backend and directory layout.
	Storage StorageConfig `yaml:"storage"`

	// Database is used only when the postgres backend is selected.
	Database DatabaseConfig `yaml:"database"`

	// Game controls how per-room game servers are launched.
	Game GameConfig `yaml:"game"`

	Log LogConfig `yaml:"log"`
}

// ListenConfig is one TCP listener address.
type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the persistence backend and the three directories
// the platform owns: catalog data files, unpacked game packages, and the
// transfer staging area.
type StorageConfig struct {
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	StorageDir string `yaml:"storage_dir"`
	TmpDir     string `yaml:"tmp_dir"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// GameConfig controls game server subprocess launches.
type GameConfig struct {
	// ServerHost is the externally reachable host handed to spawned game
	// servers and broadcast to players on start.
	ServerHost string `yaml:"server_host"`

	// Interpreter runs the package's server script.
	Interpreter string `yaml:"interpreter"`

	// StartDelayMs is how long to wait after spawn before broadcasting,
	// giving the game server time to bind.
	StartDelayMs int `yaml:"start_delay_ms"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// SlogLevel maps the configured name to a slog level, defaulting to
// info for unknown values.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default returns Server config with sensible defaults.
func Default() Server {
	return Server{
		Lobby: ListenConfig{
			Host: "0.0.0.0",
			Port: 12346,
		},
		Developer: ListenConfig{
			Host: "0.0.0.0",
			Port: 8081,
		},
		Storage: StorageConfig{
			Backend:    BackendJSON,
			DataDir:    "data",
			StorageDir: "storage",
			TmpDir:     "tmp",
		},
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "gamehub",
			Password: "gamehub",
			DBName:   "gamehub",
			SSLMode:  "disable",
		},
		Game: GameConfig{
			ServerHost:   "127.0.0.1",
			Interpreter:  "python3",
			StartDelayMs: 2000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads server config from a YAML file.
// If the file doesn't exist, returns defaults.
func Load(path string) (Server, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
