package model

import "time"

// Review is a single player review attached to a game.
type Review struct {
	Username string `json:"username"`
	Rating   int    `json:"rating"`
	Comment  string `json:"comment"`
}

// Game is one catalog entry. GameID is a monotonically assigned integer
// carried as a string on the wire and in storage.
type Game struct {
	GameID        string    `json:"game_id"`
	Name          string    `json:"game_name"`
	Description   string    `json:"game_description"`
	Version       string    `json:"game_version"`
	Author        string    `json:"game_author"`
	DownloadCount int       `json:"download_count"`
	Comments      []Review  `json:"comments"`
	CreatedAt     time.Time `json:"game_created_at"`
	MaxPlayers    int       `json:"max_players"`
}

// AverageRating returns the mean of all review ratings, or 0 when the game
// has no reviews yet.
func (g *Game) AverageRating() float64 {
	if len(g.Comments) == 0 {
		return 0
	}
	sum := 0
	for _, r := range g.Comments {
		sum += r.Rating
	}
	return float64(sum) / float64(len(g.Comments))
}

// Clone returns a deep copy safe to hand out past the catalog lock.
func (g *Game) Clone() *Game {
	cp := *g
	cp.Comments = make([]Review, len(g.Comments))
	copy(cp.Comments, g.Comments)
	return &cp
}
