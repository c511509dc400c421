// Package room tracks the lobby's match rooms: creation, membership,
// ownership handover, and the started flag flipped when a game server
// launches.
package room

import (
	"errors"
	"strconv"
	"sync"

	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
)

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room full")
	ErrAlreadyInRoom = errors.New("already in room")
	ErrNotInRoom     = errors.New("not in this room")
)

// Registry is the in-memory room table. All state is transient: rooms do
// not survive a restart, matching the session-bound lifetime of their
// members.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*model.Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*model.Room)}
}

// Create opens a room owned by username and returns its id. Ids are
// max(existing)+1, so deleting a room never recycles its number.
func (r *Registry) Create(username, gameID string, maxPlayers int) *model.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	maxID := 0
	for id := range r.rooms {
		if n, err := strconv.Atoi(id); err == nil && n > maxID {
			maxID = n
		}
	}

	room := &model.Room{
		RoomID:     strconv.Itoa(maxID + 1),
		GameID:     gameID,
		MaxPlayers: maxPlayers,
		Owner:      username,
		Players:    []string{username},
	}
	r.rooms[room.RoomID] = room
	return room.Clone()
}

// Get returns a copy of one room.
func (r *Registry) Get(roomID string) (*model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room.Clone(), nil
}

// Snapshot returns copies of all rooms.
func (r *Registry) Snapshot() []*model.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room.Clone())
	}
	return out
}

// Join adds username to a room. Checks run in order: the room must
// exist, have a free slot, and not already contain the player.
func (r *Registry) Join(roomID, username string) (*model.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if room.IsFull() {
		return nil, ErrRoomFull
	}
	if room.HasPlayer(username) {
		return nil, ErrAlreadyInRoom
	}

	room.Players = append(room.Players, username)
	return room.Clone(), nil
}

// Leave removes username from a room. The last player leaving deletes
// the room; an owner leaving a non-empty room hands ownership to the
// oldest remaining member.
func (r *Registry) Leave(roomID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	if !room.HasPlayer(username) {
		return ErrNotInRoom
	}

	r.removePlayer(room, username)
	return nil
}

// SetStarted flips the started flag.
func (r *Registry) SetStarted(roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return ErrRoomNotFound
	}
	room.IsStarted = true
	return nil
}

// Remove drops a room outright, started or not.
func (r *Registry) Remove(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// RemoveUser takes username out of every room it occupies and returns
// the ids of the rooms that changed. Used by disconnect reconciliation.
func (r *Registry) RemoveUser(username string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var affected []string
	for id, room := range r.rooms {
		if room.HasPlayer(username) {
			r.removePlayer(room, username)
			affected = append(affected, id)
		}
	}
	return affected
}

// removePlayer mutates under r.mu: drops the player, deletes the room
// when it empties, promotes players[0] when the owner left.
func (r *Registry) removePlayer(room *model.Room, username string) {
	for i, p := range room.Players {
		if p == username {
			room.Players = append(room.Players[:i], room.Players[i+1:]...)
			break
		}
	}

	if len(room.Players) == 0 {
		delete(r.rooms, room.RoomID)
		return
	}
	if room.Owner == username {
		room.Owner = room.Players[0]
	}
}
