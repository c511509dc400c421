package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
	"github.com/Chiang-Chen-An/NP-HW3/internal/store"
)

// Sentinel errors the endpoints translate into reply messages. Validation
// and conflict failures are expressed through these, never logged as
// server errors.
var (
	ErrEmptyCredentials = errors.New("username or password is empty")
	ErrUserNotFound     = errors.New("user not found")
	ErrBadPassword      = errors.New("incorrect password")
	ErrAlreadyOnline    = errors.New("account already logged in from another session")
	ErrUserExists       = errors.New("username already exists")
	ErrGameNotFound     = errors.New("game not found")
	ErrNotAuthor        = errors.New("requester is not the author")
	ErrStaleVersion     = errors.New("version is not newer than the current one")
	ErrBadRating        = errors.New("rating out of range")
)

// Catalog is the authoritative state for accounts and games. Every
// mutation runs under a single writer lock and persists through the
// injected store before returning, so concurrent connections always
// observe a consistent catalog.
type Catalog struct {
	mu    sync.RWMutex
	store store.Store
}

// New wraps a store in catalog business rules.
func New(st store.Store) *Catalog {
	return &Catalog{store: st}
}

// Login authenticates an account and flips it online. The password is
// checked before the single-session rule so a wrong password never
// reveals whether the account is in use.
func (c *Catalog) Login(ctx context.Context, username, password string, role model.Role) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	acc, err := c.store.GetAccount(ctx, role, username)
	if err != nil {
		return fmt.Errorf("loading account %q: %w", username, err)
	}
	if acc == nil {
		return ErrUserNotFound
	}
	if bcrypt.CompareHashAndPassword([]byte(acc.Password), []byte(password)) != nil {
		return ErrBadPassword
	}
	if acc.IsOnline {
		return ErrAlreadyOnline
	}

	acc.IsOnline = true
	acc.LastLogin = time.Now()
	if err := c.store.PutAccount(ctx, acc); err != nil {
		return fmt.Errorf("saving account %q: %w", username, err)
	}
	return nil
}

// Register creates an offline account with a bcrypt password hash.
func (c *Catalog) Register(ctx context.Context, username, password string, role model.Role) error {
	if username == "" || password == "" {
		return ErrEmptyCredentials
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.store.GetAccount(ctx, role, username)
	if err != nil {
		return fmt.Errorf("loading account %q: %w", username, err)
	}
	if existing != nil {
		return ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	acc := &model.Account{
		Username:  username,
		Password:  string(hash),
		IsOnline:  false,
		CreatedAt: time.Now(),
		Role:      role,
	}
	if err := c.store.PutAccount(ctx, acc); err != nil {
		return fmt.Errorf("saving account %q: %w", username, err)
	}
	return nil
}

// Logout flips the account offline. Logging out an already offline
// account succeeds, so disconnect reconciliation can call it blindly.
func (c *Catalog) Logout(ctx context.Context, username string, role model.Role) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, err := c.store.GetAccount(ctx, role, username)
	if err != nil {
		return fmt.Errorf("loading account %q: %w", username, err)
	}
	if acc == nil {
		return ErrUserNotFound
	}
	if !acc.IsOnline {
		return nil
	}

	acc.IsOnline = false
	if err := c.store.PutAccount(ctx, acc); err != nil {
		return fmt.Errorf("saving account %q: %w", username, err)
	}
	return nil
}

// OnlineUsers returns the usernames currently flagged online.
func (c *Catalog) OnlineUsers(ctx context.Context, role model.Role) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	accounts, err := c.store.ListAccounts(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("listing %s accounts: %w", role, err)
	}

	online := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		if acc.IsOnline {
			online = append(online, acc.Username)
		}
	}
	return online, nil
}

// ListGames returns all catalog games in insertion order.
func (c *Catalog) ListGames(ctx context.Context) ([]model.Game, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	games, err := c.store.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	return games, nil
}

// GamesByAuthor returns the games uploaded by one developer.
func (c *Catalog) GamesByAuthor(ctx context.Context, author string) ([]model.Game, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	games, err := c.store.ListGames(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}

	var owned []model.Game
	for _, g := range games {
		if g.Author == author {
			owned = append(owned, g)
		}
	}
	return owned, nil
}

// GetGame returns one game or ErrGameNotFound.
func (c *Catalog) GetGame(ctx context.Context, gameID string) (*model.Game, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.getGame(ctx, gameID)
}

// AddGame inserts a new game and returns its freshly allocated id,
// max(existing)+1 or "1" for an empty catalog. Allocation and insert are
// atomic under the catalog lock.
func (c *Catalog) AddGame(ctx context.Context, author, name, description, version string, maxPlayers int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	games, err := c.store.ListGames(ctx)
	if err != nil {
		return "", fmt.Errorf("listing games: %w", err)
	}

	maxID := 0
	for _, g := range games {
		if id, err := strconv.Atoi(g.GameID); err == nil && id > maxID {
			maxID = id
		}
	}
	gameID := strconv.Itoa(maxID + 1)

	g := &model.Game{
		GameID:      gameID,
		Name:        name,
		Description: description,
		Version:     version,
		Author:      author,
		Comments:    []model.Review{},
		CreatedAt:   time.Now(),
		MaxPlayers:  maxPlayers,
	}
	if err := c.store.PutGame(ctx, g); err != nil {
		return "", fmt.Errorf("saving game %q: %w", gameID, err)
	}
	return gameID, nil
}

// CanUpdate re-verifies ownership and strict version newness without
// applying anything. Transfers call it at INIT and again at FINISH.
func (c *Catalog) CanUpdate(ctx context.Context, gameID, requester, newVersion string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	g, err := c.getGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Author != requester {
		return ErrNotAuthor
	}
	if !model.VersionNewer(newVersion, g.Version) {
		return ErrStaleVersion
	}
	return nil
}

// UpdateGame moves a game to a strictly newer version, refreshing the
// metadata fields the new package declares. Empty name/description and
// non-positive maxPlayers leave the stored values untouched.
func (c *Catalog) UpdateGame(ctx context.Context, gameID, requester, newVersion, name, description string, maxPlayers int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.getGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Author != requester {
		return ErrNotAuthor
	}
	if !model.VersionNewer(newVersion, g.Version) {
		return ErrStaleVersion
	}

	g.Version = newVersion
	if name != "" {
		g.Name = name
	}
	if description != "" {
		g.Description = description
	}
	if maxPlayers > 0 {
		g.MaxPlayers = maxPlayers
	}

	if err := c.store.PutGame(ctx, g); err != nil {
		return fmt.Errorf("saving game %q: %w", gameID, err)
	}
	return nil
}

// DeleteGame removes a game when the requester is its author.
func (c *Catalog) DeleteGame(ctx context.Context, gameID, requester string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.getGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Author != requester {
		return ErrNotAuthor
	}

	if err := c.store.DeleteGame(ctx, gameID); err != nil {
		return fmt.Errorf("deleting game %q: %w", gameID, err)
	}
	return nil
}

// AddReview appends one review; the rating must be 1..5.
func (c *Catalog) AddReview(ctx context.Context, gameID, username string, rating int, comment string) error {
	if rating < 1 || rating > 5 {
		return ErrBadRating
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.getGame(ctx, gameID)
	if err != nil {
		return err
	}

	g.Comments = append(g.Comments, model.Review{
		Username: username,
		Rating:   rating,
		Comment:  comment,
	})
	if err := c.store.PutGame(ctx, g); err != nil {
		return fmt.Errorf("saving game %q: %w", gameID, err)
	}
	return nil
}

// IncrementDownloadCount bumps the counter after a completed download
// stream.
func (c *Catalog) IncrementDownloadCount(ctx context.Context, gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	g, err := c.getGame(ctx, gameID)
	if err != nil {
		return err
	}

	g.DownloadCount++
	if err := c.store.PutGame(ctx, g); err != nil {
		return fmt.Errorf("saving game %q: %w", gameID, err)
	}
	return nil
}

// getGame is the lookup used inside both lock modes; callers hold mu.
func (c *Catalog) getGame(ctx context.Context, gameID string) (*model.Game, error) {
	g, err := c.store.GetGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("loading game %q: %w", gameID, err)
	}
	if g == nil {
		return nil, ErrGameNotFound
	}
	return g, nil
}
