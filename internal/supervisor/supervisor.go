// Package supervisor launches and watches the per-room game server
// subprocesses. Each started room owns exactly one child process; when
// the child exits the room is reclaimed.
package supervisor

import (
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/Chiang-Chen-An/NP-HW3/internal/config"
	"github.com/Chiang-Chen-An/NP-HW3/internal/gamepkg"
	"github.com/Chiang-Chen-An/NP-HW3/internal/room"
)

// Supervisor owns the process table keyed by room id. Launch blocks for
// the configured start delay so the child can bind its port before
// clients are told to connect.
type Supervisor struct {
	cfg    config.GameConfig
	layout gamepkg.Layout
	rooms  *room.Registry

	mu    sync.Mutex
	procs map[string]*exec.Cmd
	wg    sync.WaitGroup
}

func New(cfg config.GameConfig, layout gamepkg.Layout, rooms *room.Registry) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		layout: layout,
		rooms:  rooms,
		procs:  make(map[string]*exec.Cmd),
	}
}

// ServerHost is the externally reachable host clients are told to
// connect to; the child receives the same value in argv.
func (s *Supervisor) ServerHost() string {
	return s.cfg.ServerHost
}

// Launch starts the game server for one room and returns the port it
// was told to listen on. The child runs in the package's server/
// directory with argv {host, port}.
func (s *Supervisor) Launch(roomID, gameID, version string) (int, error) {
	serverDir := s.layout.ServerDir(gameID, version)
	script, err := gamepkg.ServerScript(serverDir)
	if err != nil {
		return 0, err
	}

	port, err := FreePort()
	if err != nil {
		return 0, fmt.Errorf("allocating game server port: %w", err)
	}

	cmd := exec.Command(s.cfg.Interpreter, script, s.cfg.ServerHost, strconv.Itoa(port))
	cmd.Dir = serverDir

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting game server: %w", err)
	}

	s.mu.Lock()
	s.procs[roomID] = cmd
	s.mu.Unlock()

	s.wg.Add(1)
	go s.watch(roomID, cmd)

	slog.Info("game server started",
		"room_id", roomID,
		"game_id", gameID,
		"version", version,
		"port", port,
		"pid", cmd.Process.Pid,
	)

	// Give the child time to bind before clients are notified.
	time.Sleep(time.Duration(s.cfg.StartDelayMs) * time.Millisecond)

	return port, nil
}

// watch reclaims the room once its game server exits, however it exits.
func (s *Supervisor) watch(roomID string, cmd *exec.Cmd) {
	defer s.wg.Done()

	err := cmd.Wait()
	slog.Info("game server exited", "room_id", roomID, "error", err)

	s.mu.Lock()
	if s.procs[roomID] == cmd {
		delete(s.procs, roomID)
	}
	s.mu.Unlock()

	s.rooms.Remove(roomID)
}

// Running reports whether a room currently has a live game server.
func (s *Supervisor) Running(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[roomID]
	return ok
}

// Shutdown kills every child and waits for their watchers to finish
// reclaiming rooms.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for roomID, cmd := range s.procs {
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				slog.Error("killing game server", "room_id", roomID, "error", err)
			}
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// FreePort asks the kernel for an unused TCP port. The port is released
// before the child binds it, so a collision is possible but unlikely.
func FreePort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	if err := l.Close(); err != nil {
		return 0, err
	}
	return port, nil
}
