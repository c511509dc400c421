package model

// Room is a pre-match rendezvous object. Players[0] is the owner at
// creation; ownership moves to the new Players[0] when the owner leaves.
type Room struct {
	RoomID     string   `json:"room_id"`
	GameID     string   `json:"game_id"`
	MaxPlayers int      `json:"max_players"`
	Owner      string   `json:"room_owner"`
	Players    []string `json:"players"`
	IsStarted  bool     `json:"is_started"`
}

// HasPlayer reports whether username is currently in the room.
func (r *Room) HasPlayer(username string) bool {
	for _, p := range r.Players {
		if p == username {
			return true
		}
	}
	return false
}

// IsFull reports whether the roster reached MaxPlayers.
func (r *Room) IsFull() bool {
	return len(r.Players) >= r.MaxPlayers
}

// Clone returns a deep copy safe to hand out past the registry lock.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Players = make([]string, len(r.Players))
	copy(cp.Players, r.Players)
	return &cp
}
