package jsonstore

import (
	"context"
	"fmt"
	"os"

	"github.com/c2FmZQ/storage"

	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
)

// File names under the data directory, one JSON array per table.
const (
	usersFile      = "users.json"
	developersFile = "developers.json"
	gamesFile      = "games.json"
)

// Store persists accounts and games as JSON files with atomic writes.
// A missing file reads as an empty table, so a fresh data directory
// needs no seeding step.
type Store struct {
	s *storage.Storage
}

// New opens (and creates if needed) the data directory.
func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}
	return &Store{s: storage.New(dataDir, nil)}, nil
}

func accountsFile(role model.Role) string {
	if role == model.RoleDeveloper {
		return developersFile
	}
	return usersFile
}

// GetAccount retrieves an account by role and username.
// Returns nil, nil if the account does not exist.
func (st *Store) GetAccount(ctx context.Context, role model.Role, username string) (*model.Account, error) {
	accounts, err := st.loadAccounts(role)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].Username == username {
			return &accounts[i], nil
		}
	}
	return nil, nil
}

// PutAccount inserts or replaces the account keyed by (role, username).
func (st *Store) PutAccount(ctx context.Context, acc *model.Account) error {
	accounts, err := st.loadAccounts(acc.Role)
	if err != nil {
		return err
	}

	replaced := false
	for i := range accounts {
		if accounts[i].Username == acc.Username {
			accounts[i] = *acc
			replaced = true
			break
		}
	}
	if !replaced {
		accounts = append(accounts, *acc)
	}

	return st.saveAccounts(acc.Role, accounts)
}

// ListAccounts returns every account of the given role.
func (st *Store) ListAccounts(ctx context.Context, role model.Role) ([]model.Account, error) {
	return st.loadAccounts(role)
}

// GetGame retrieves a game by id. Returns nil, nil if it does not exist.
func (st *Store) GetGame(ctx context.Context, gameID string) (*model.Game, error) {
	games, err := st.loadGames()
	if err != nil {
		return nil, err
	}
	for i := range games {
		if games[i].GameID == gameID {
			return &games[i], nil
		}
	}
	return nil, nil
}

// PutGame inserts or replaces the game keyed by game id.
func (st *Store) PutGame(ctx context.Context, g *model.Game) error {
	games, err := st.loadGames()
	if err != nil {
		return err
	}

	replaced := false
	for i := range games {
		if games[i].GameID == g.GameID {
			games[i] = *g
			replaced = true
			break
		}
	}
	if !replaced {
		games = append(games, *g)
	}

	return st.saveGames(games)
}

// DeleteGame removes the game; deleting an absent id is a no-op.
func (st *Store) DeleteGame(ctx context.Context, gameID string) error {
	games, err := st.loadGames()
	if err != nil {
		return err
	}

	kept := games[:0]
	for i := range games {
		if games[i].GameID != gameID {
			kept = append(kept, games[i])
		}
	}
	if len(kept) == len(games) {
		return nil
	}

	return st.saveGames(kept)
}

// ListGames returns every game in insertion order.
func (st *Store) ListGames(ctx context.Context) ([]model.Game, error) {
	return st.loadGames()
}

// Close is a no-op; every write is already flushed atomically.
func (st *Store) Close() error {
	return nil
}

func (st *Store) loadAccounts(role model.Role) ([]model.Account, error) {
	name := accountsFile(role)
	var accounts []model.Account
	if err := st.s.ReadDataFile(name, &accounts); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return accounts, nil
}

func (st *Store) saveAccounts(role model.Role, accounts []model.Account) error {
	name := accountsFile(role)
	if err := st.s.SaveDataFile(name, accounts); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (st *Store) loadGames() ([]model.Game, error) {
	var games []model.Game
	if err := st.s.ReadDataFile(gamesFile, &games); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", gamesFile, err)
	}
	return games, nil
}

func (st *Store) saveGames(games []model.Game) error {
	if err := st.s.SaveDataFile(gamesFile, games); err != nil {
		return fmt.Errorf("writing %s: %w", gamesFile, err)
	}
	return nil
}
