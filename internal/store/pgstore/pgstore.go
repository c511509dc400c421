package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Chiang-Chen-An/NP-HW3/internal/model"
)

// Store persists accounts and games in PostgreSQL through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and returns a Store handle.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (st *Store) Close() error {
	st.pool.Close()
	return nil
}

// GetAccount retrieves an account by role and username.
// Returns nil, nil if the account does not exist.
func (st *Store) GetAccount(ctx context.Context, role model.Role, username string) (*model.Account, error) {
	var acc model.Account
	err := st.pool.QueryRow(ctx,
		`SELECT username, password, is_online, last_login, created_at, role
		 FROM accounts WHERE role = $1 AND username = $2`, string(role), username,
	).Scan(&acc.Username, &acc.Password, &acc.IsOnline, &acc.LastLogin, &acc.CreatedAt, &acc.Role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying account %q: %w", username, err)
	}
	return &acc, nil
}

// PutAccount inserts or replaces the account keyed by (role, username).
func (st *Store) PutAccount(ctx context.Context, acc *model.Account) error {
	_, err := st.pool.Exec(ctx,
		`INSERT INTO accounts (username, password, is_online, last_login, created_at, role)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (role, username) DO UPDATE
		 SET password = EXCLUDED.password,
		     is_online = EXCLUDED.is_online,
		     last_login = EXCLUDED.last_login`,
		acc.Username, acc.Password, acc.IsOnline, acc.LastLogin, acc.CreatedAt, string(acc.Role),
	)
	if err != nil {
		return fmt.Errorf("saving account %q: %w", acc.Username, err)
	}
	return nil
}

// ListAccounts returns every account of the given role.
func (st *Store) ListAccounts(ctx context.Context, role model.Role) ([]model.Account, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT username, password, is_online, last_login, created_at, role
		 FROM accounts WHERE role = $1 ORDER BY created_at, username`, string(role),
	)
	if err != nil {
		return nil, fmt.Errorf("listing %s accounts: %w", role, err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var acc model.Account
		if err := rows.Scan(&acc.Username, &acc.Password, &acc.IsOnline, &acc.LastLogin, &acc.CreatedAt, &acc.Role); err != nil {
			return nil, fmt.Errorf("scanning account row: %w", err)
		}
		accounts = append(accounts, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating account rows: %w", err)
	}
	return accounts, nil
}

// GetGame retrieves a game by id. Returns nil, nil if it does not exist.
func (st *Store) GetGame(ctx context.Context, gameID string) (*model.Game, error) {
	var g model.Game
	err := st.pool.QueryRow(ctx,
		`SELECT game_id, name, description, version, author, download_count, comments, created_at, max_players
		 FROM games WHERE game_id = $1`, gameID,
	).Scan(&g.GameID, &g.Name, &g.Description, &g.Version, &g.Author, &g.DownloadCount, &g.Comments, &g.CreatedAt, &g.MaxPlayers)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying game %q: %w", gameID, err)
	}
	return &g, nil
}

// PutGame inserts or replaces the game keyed by game id.
func (st *Store) PutGame(ctx context.Context, g *model.Game) error {
	comments := g.Comments
	if comments == nil {
		comments = []model.Review{}
	}
	_, err := st.pool.Exec(ctx,
		`INSERT INTO games (game_id, name, description, version, author, download_count, comments, created_at, max_players)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (game_id) DO UPDATE
		 SET name = EXCLUDED.name,
		     description = EXCLUDED.description,
		     version = EXCLUDED.version,
		     download_count = EXCLUDED.download_count,
		     comments = EXCLUDED.comments,
		     max_players = EXCLUDED.max_players`,
		g.GameID, g.Name, g.Description, g.Version, g.Author, g.DownloadCount, comments, g.CreatedAt, g.MaxPlayers,
	)
	if err != nil {
		return fmt.Errorf("saving game %q: %w", g.GameID, err)
	}
	return nil
}

// DeleteGame removes the game; deleting an absent id is a no-op.
func (st *Store) DeleteGame(ctx context.Context, gameID string) error {
	if _, err := st.pool.Exec(ctx, `DELETE FROM games WHERE game_id = $1`, gameID); err != nil {
		return fmt.Errorf("deleting game %q: %w", gameID, err)
	}
	return nil
}

// ListGames returns every game ordered by numeric id.
func (st *Store) ListGames(ctx context.Context) ([]model.Game, error) {
	rows, err := st.pool.Query(ctx,
		`SELECT game_id, name, description, version, author, download_count, comments, created_at, max_players
		 FROM games ORDER BY game_id::bigint`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing games: %w", err)
	}
	defer rows.Close()

	var games []model.Game
	for rows.Next() {
		var g model.Game
		if err := rows.Scan(&g.GameID, &g.Name, &g.Description, &g.Version, &g.Author, &g.DownloadCount, &g.Comments, &g.CreatedAt, &g.MaxPlayers); err != nil {
			return nil, fmt.Errorf("scanning game row: %w", err)
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating game rows: %w", err)
	}
	return games, nil
}
